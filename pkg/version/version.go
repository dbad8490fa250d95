// Copyright 2023 Intel Corporation. All Rights Reserved.
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

// Package version tags binaries with version metadata set at link time:
//
//	-ldflags "-X=github.com/intel/tlb-shootdown/pkg/version.Version=<version> \
//	          -X=github.com/intel/tlb-shootdown/pkg/version.Build=<build-id>"
package version

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var (
	// Version is our version as given by 'git describe'.
	Version = "unknown"
	// Build is the SHA1 of the repository we've been built from.
	Build = "unknown"
)

// exit is swapped out by tests.
var exit = os.Exit

// Info returns the version information of this binary.
func Info() string {
	return fmt.Sprintf("%s version information:\n  - version: %s\n  - build:   %s\n",
		filepath.Base(os.Args[0]), Version, Build)
}

// versionFlag prints version information and exits when set.
type versionFlag struct {
	out io.Writer
}

func (versionFlag) IsBoolFlag() bool {
	return true
}

func (v versionFlag) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		fmt.Fprint(v.out, Info())
		exit(0)
	}
	return nil
}

func (versionFlag) String() string {
	return "false"
}

// RegisterFlags registers a -version option with fs.
func RegisterFlags(fs *flag.FlagSet) {
	fs.Var(versionFlag{out: os.Stdout}, "version", "print version information and exit")
}
