/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of Tandem.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/tandem/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the VCS revision, set at build time.
var Commit = "dev"

// String returns a one-line version description.
func String() string {
	return fmt.Sprintf("tandem %s (%s, %s/%s)", Version, Commit, runtime.GOOS, runtime.GOARCH)
}
