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

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/audittrail-dev/audittrail/internal/config"
	ihttp "github.com/audittrail-dev/audittrail/internal/http"
	"github.com/audittrail-dev/audittrail/internal/keys"
	"github.com/audittrail-dev/audittrail/internal/seal"
	"github.com/audittrail-dev/audittrail/monitoring"
	"github.com/audittrail-dev/audittrail/monitoring/prometheus"
)

func newGenerateKeysCommand() *cobra.Command {
	var bits int
	var force bool
	cmd := &cobra.Command{
		Use:   "generate-keys",
		Short: "Generate the RSA signing keypair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := keys.NewFSStore(cfg.KeysDir)
			if err != nil {
				return err
			}
			return store.Generate(bits, force)
		},
	}
	cmd.Flags().IntVar(&bits, "bits", keys.MinBits, "RSA modulus size")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing keypair")
	return cmd
}

func newGenerateSamplesCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "generate-samples",
		Short: "Log sample API events into the current window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			monitoring.SetMetricFactory(monitoring.InertMetricFactory{})
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			inst, err := buildPipeline(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := inst.Close(); err != nil {
					klog.Warningf("Failed to close pipeline resources: %v", err)
				}
			}()
			return generateSamples(cmd, inst, count)
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "Number of sample events to log")
	return cmd
}

// generateSamples logs count synthetic API events, paced so the journal
// shows distinguishable timestamps.
func generateSamples(cmd *cobra.Command, inst *instance, count int) error {
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
	for i := 0; i < count; i++ {
		if err := limiter.Wait(cmd.Context()); err != nil {
			return err
		}
		endpoint := fmt.Sprintf("/api/users/%s", uuid.NewString())
		userID := fmt.Sprintf("user_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		request := map[string]any{
			"action": "update",
			"fields": map[string]any{"name": "John Doe", "email": "john@example.com"},
			"token":  "secret_token_123",
		}
		response := map[string]any{
			"status":         "success",
			"updated_fields": []any{"name", "email"},
		}
		id, err := inst.pipeline.LogAPIEvent(endpoint, userID, request, response, 200)
		if err != nil {
			return fmt.Errorf("failed to log sample event: %w", err)
		}
		klog.V(1).Infof("Logged sample event %s", id)
	}
	klog.Infof("Logged %d sample events into window %q", count, inst.pipeline.Logger().CurrentWindowID())
	return nil
}

func newProcessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Seal, sign and archive the current window from its journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			monitoring.SetMetricFactory(monitoring.InertMetricFactory{})
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			inst, err := buildPipeline(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer func() {
				if err := inst.Close(); err != nil {
					klog.Warningf("Failed to close pipeline resources: %v", err)
				}
			}()

			jp := journalPath(cfg)
			raw, err := os.ReadFile(jp)
			if err != nil {
				return fmt.Errorf("failed to read journal %q (run generate-samples first?): %w", jp, err)
			}
			windowID := strings.TrimSuffix(filepath.Base(jp), ".log")
			w, err := inst.pipeline.Logger().Restore(windowID, raw)
			if err != nil {
				return err
			}
			ref, err := inst.pipeline.Drive(cmd.Context(), w.ID())
			if err != nil {
				return err
			}
			klog.Infof("Window %q archived as %q (digest %s)", ref.WindowID, ref.LogKey, ref.Digest)
			return nil
		},
	}
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var logFile, sigFile, windowID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an archived window or a local log file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			monitoring.SetMetricFactory(monitoring.InertMetricFactory{})
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var report seal.Report
			switch {
			case logFile != "":
				report, err = verifyLocal(cmd.Context(), cfg, logFile, sigFile)
			case windowID != "":
				var inst *instance
				inst, err = buildPipeline(cmd.Context(), cfg, false)
				if err != nil {
					return err
				}
				defer func() {
					if err := inst.Close(); err != nil {
						klog.Warningf("Failed to close pipeline resources: %v", err)
					}
				}()
				report, err = inst.pipeline.Verify(cmd.Context(), windowID)
			default:
				return fmt.Errorf("one of --log-file or --window is required")
			}
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "Path to a local window log file to verify")
	cmd.Flags().StringVar(&sigFile, "signature", "", "Path to the signature file (defaults to LOG-FILE.sig)")
	cmd.Flags().StringVar(&windowID, "window", "", "Id of an archived window to verify")
	return cmd
}

// verifyLocal checks a window log file on disk against its signature file
// and the configured public key. The stored digest comes from the .sha256
// sidecar when present, otherwise it is recomputed from the file.
func verifyLocal(ctx context.Context, cfg config.Config, logFile, sigFile string) (seal.Report, error) {
	windowBytes, err := os.ReadFile(logFile)
	if err != nil {
		return seal.Report{}, fmt.Errorf("failed to read log file: %w", err)
	}
	if sigFile == "" {
		sigFile = logFile + ".sig"
	}
	sig, err := os.ReadFile(sigFile)
	if err != nil {
		return seal.Report{}, fmt.Errorf("failed to read signature file: %w", err)
	}

	var storedDigest []byte
	if raw, err := os.ReadFile(logFile + ".sha256"); err == nil {
		storedDigest, err = hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return seal.Report{}, fmt.Errorf("digest sidecar is not hex: %w", err)
		}
	} else {
		d := seal.DigestBytes(windowBytes)
		storedDigest = d[:]
	}

	store, err := keyStore(cfg)
	if err != nil {
		return seal.Report{}, err
	}
	pub, err := store.PublicKey(ctx)
	if err != nil && !errors.Is(err, keys.ErrKeyMissing) {
		return seal.Report{}, err
	}

	report := seal.Verify(windowBytes, storedDigest, sig, pub)
	report.WindowID = strings.TrimSuffix(filepath.Base(logFile), ".log")
	return report, nil
}

func printReport(report seal.Report) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	if !report.Valid {
		return fmt.Errorf("verification failed: %s", report.Reason)
	}
	return nil
}

func newDemoCommand() *cobra.Command {
	var clean bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the full pipeline end to end: log, seal, sign, archive, verify",
		RunE: func(cmd *cobra.Command, _ []string) error {
			monitoring.SetMetricFactory(monitoring.InertMetricFactory{})
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if clean {
				defer func() {
					for _, p := range []string{cfg.LogDir, cfg.KeysDir, cfg.ArchiveDir, cfg.ManifestDB} {
						if err := os.RemoveAll(p); err != nil {
							klog.Warningf("Failed to clean %q: %v", p, err)
						}
					}
				}()
			}

			store, err := keys.NewFSStore(cfg.KeysDir)
			if err != nil {
				return err
			}
			if err := store.Generate(keys.MinBits, false); err != nil && !errors.Is(err, keys.ErrKeyExists) {
				return err
			}

			inst, err := buildPipeline(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := inst.Close(); err != nil {
					klog.Warningf("Failed to close pipeline resources: %v", err)
				}
			}()

			if err := generateSamples(cmd, inst, 5); err != nil {
				return err
			}
			ref, err := inst.pipeline.ProcessCurrent(cmd.Context())
			if err != nil {
				return err
			}
			klog.Infof("Archived window %q with %d entries", ref.WindowID, ref.EntryCount)

			report, err := inst.pipeline.Verify(cmd.Context(), ref.WindowID)
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "Remove generated directories after the run")
	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the manifest listing and verification reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cfg.MetricsAddr == "" {
				klog.Info("No metrics_listen address provided so skipping prometheus setup")
				monitoring.SetMetricFactory(monitoring.InertMetricFactory{})
			} else {
				monitoring.SetMetricFactory(prometheus.MetricFactory{Prefix: "audittrail_"})
				go func() {
					http.Handle("/metrics", promhttp.Handler())
					srv := &http.Server{
						Addr:         cfg.MetricsAddr,
						ReadTimeout:  5 * time.Second,
						WriteTimeout: 10 * time.Second,
					}
					if err := srv.ListenAndServe(); err != http.ErrServerClosed {
						klog.Errorf("Error serving metrics: %v", err)
					}
				}()
				klog.Infof("Prometheus configured to listen on %q", cfg.MetricsAddr)
			}

			inst, err := buildPipeline(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := inst.Close(); err != nil {
					klog.Warningf("Failed to close pipeline resources: %v", err)
				}
			}()

			r := mux.NewRouter()
			ihttp.NewServer(inst.pipeline).RegisterHandlers(r)
			srv := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: r,
			}
			e := make(chan error, 1)
			go func() {
				e <- srv.ListenAndServe()
				close(e)
			}()
			klog.Infof("Status server listening on %q", cfg.ListenAddr)
			<-cmd.Context().Done()
			klog.Info("Server shutting down")
			if err := srv.Shutdown(cmd.Context()); err != nil {
				return fmt.Errorf("failed to shutdown server: %v", err)
			}
			return <-e
		},
	}
	return cmd
}

