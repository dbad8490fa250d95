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

package log

import (
	"flag"
	"strings"
)

const (
	// command-line argument prefix.
	optPrefix = "logger"
	// Flag for enabling/disabling debug logging for sources.
	optDebug = optPrefix + "-debug"
	// Flag for selecting logging level.
	optLevel = optPrefix + "-level"
	// Flag for selecting logging backend.
	optBackend = optPrefix + "-backend"
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel parses the given level name.
func ParseLevel(value string) (Level, error) {
	level, ok := levelNames[strings.ToLower(value)]
	if !ok {
		return LevelInfo, loggerError("invalid logging level %q", value)
	}
	return level, nil
}

// String returns the name of the level.
func (l Level) String() string {
	for name, level := range levelNames {
		if level == l {
			return name
		}
	}
	switch l {
	case LevelPanic:
		return "panic"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}

// levelFlag sets the global logging level.
type levelFlag struct{}

func (levelFlag) Set(value string) error {
	level, err := ParseLevel(value)
	if err != nil {
		return err
	}
	SetLevel(level)
	return nil
}

func (levelFlag) String() string {
	log.RLock()
	defer log.RUnlock()
	return log.level.String()
}

// debugFlag parses a comma-separated list of [on:|off:]source entries.
// A state prefix sticks to all subsequent sources until changed.
type debugFlag struct{}

func (debugFlag) Set(value string) error {
	state := true
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry == "" {
			continue
		}
		src := entry
		if idx := strings.IndexByte(entry, ':'); idx >= 0 {
			switch entry[:idx] {
			case "on", "true", "enable":
				state = true
			case "off", "false", "disable":
				state = false
			default:
				return loggerError("invalid state in debug setting %q", entry)
			}
			src = entry[idx+1:]
		}
		SetDebug(state, src)
	}
	return nil
}

func (debugFlag) String() string {
	log.RLock()
	defer log.RUnlock()

	on := []string{}
	for src, state := range log.debug {
		if state {
			on = append(on, src)
		}
	}
	return strings.Join(on, ",")
}

// backendFlag selects the active backend.
type backendFlag struct{}

func (backendFlag) Set(value string) error {
	return SetBackend(value)
}

func (backendFlag) String() string {
	log.RLock()
	defer log.RUnlock()
	if log.active == nil {
		return FmtBackendName
	}
	return log.active.Name()
}

// RegisterFlags registers the logger command-line flags with fs.
func RegisterFlags(fs *flag.FlagSet) {
	fs.Var(levelFlag{}, optLevel, "lowest severity of messages to emit (debug, info, warning, error)")
	fs.Var(debugFlag{}, optDebug, "enable debugging for [on:|off:]source[,...], 'all' for every source")
	fs.Var(backendFlag{}, optBackend, "logger backend to use ("+strings.Join(Backends(), ", ")+")")
}
