/*
 * Copyright 2025 The Coedit Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package version provides the version information of the build.
package version

// Below values are assigned at build time by ldflags.
var (
	// Version is the value of the release tag.
	Version = "0.0.0"

	// BuildDate is the date of the build.
	BuildDate = "unknown"

	// GitCommit is the commit hash of the build.
	GitCommit = "unknown"
)
