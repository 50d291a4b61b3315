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

// Package api contains the URL paths of the audit pipeline's status
// endpoints.
package api

const (
	// HTTPListWindows is the path to fetch the manifest listing of
	// archived windows.
	HTTPListWindows = "/audit/v1/windows"
	// HTTPVerifyWindow is the path to fetch a verification report for an
	// archived window. The %s placeholder is the window id.
	HTTPVerifyWindow = "/audit/v1/windows/%s/report"
)
