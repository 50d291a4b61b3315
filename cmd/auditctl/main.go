// Copyright 2026 The audittrail authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// auditctl is the command line surface of the audit-trail pipeline:
// keypair management, sample generation, window processing, verification
// and the status server.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/audittrail-dev/audittrail/internal/config"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Seal, sign, archive and verify audit log windows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	klog.InitFlags(flag.CommandLine)
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to a YAML config file")

	root.AddCommand(
		newGenerateKeysCommand(),
		newGenerateSamplesCommand(),
		newProcessCommand(),
		newVerifyCommand(),
		newDemoCommand(),
		newServeCommand(),
	)

	defer klog.Flush()
	if err := root.Execute(); err != nil {
		klog.Errorf("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config, with environment
// overrides applied.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
