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

package config

import (
	"flag"
	"io"
	"strings"
)

const (
	// optConfig is the flag naming the configuration file.
	optConfig = "config"
)

// FlagFn registers extra flags (for instance logger flags) with a FlagSet.
type FlagFn func(*flag.FlagSet)

// Parse builds a configuration from defaults, an optional configuration
// file given with -config, and the rest of the command line, in that order
// of increasing precedence. The result is validated.
func Parse(name string, args []string, extra ...FlagFn) (*Config, error) {
	// first pass: only find the configuration file
	probe := flag.NewFlagSet(name, flag.ContinueOnError)
	probe.SetOutput(io.Discard)
	path := newFlagSet(probe, Default(), extra)
	if err := probe.Parse(args); err != nil && err != flag.ErrHelp {
		return nil, configError("%v", err)
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.LoadFile(*path); err != nil {
			return nil, err
		}
	}

	// second pass: command line overrides the file
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	newFlagSet(fs, cfg, extra)
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, err
		}
		return nil, configError("%v", err)
	}
	if fs.NArg() != 0 {
		return nil, configError("unknown command-line arguments: %s", strings.Join(fs.Args(), ","))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newFlagSet(fs *flag.FlagSet, cfg *Config, extra []FlagFn) *string {
	path := fs.String(optConfig, "", "YAML configuration file")
	cfg.Bind(fs)
	for _, fn := range extra {
		fn(fs)
	}
	return path
}

// stringValue adapts string-based enum fields to flag.Value.
type stringValue struct {
	p *string
}

func (v *stringValue) Set(value string) error {
	*v.p = value
	return nil
}

func (v *stringValue) String() string {
	if v.p == nil {
		return ""
	}
	return *v.p
}

// listValue is a comma-separated list flag.
type listValue struct {
	p *[]string
}

func (v *listValue) Set(value string) error {
	*v.p = nil
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*v.p = append(*v.p, item)
		}
	}
	return nil
}

func (v *listValue) String() string {
	if v.p == nil {
		return ""
	}
	return strings.Join(*v.p, ",")
}
