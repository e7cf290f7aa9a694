/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of calrem.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/calrem/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the git revision, set at build time.
var Commit = "unknown"

// String formats version, commit and Go runtime for the version command.
func String() string {
	return fmt.Sprintf("calrem %s (commit %s, %s %s/%s)", Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
