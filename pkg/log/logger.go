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
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// LevelPanic is the severity for panic messages.
	LevelPanic
	// LevelFatal is the severity for fatal errors.
	LevelFatal
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock formats and emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock formats and emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logger implements Logger for a single source.
type logger struct {
	source string
	debug  int32
}

// exit is swapped out by tests exercising Fatal.
var exit = os.Exit

func (l *logger) Source() string {
	return l.source
}

func (l *logger) EnableDebug(state bool) bool {
	v := int32(0)
	if state {
		v = 1
	}
	return atomic.SwapInt32(&l.debug, v) != 0
}

func (l *logger) DebugEnabled() bool {
	return atomic.LoadInt32(&l.debug) != 0 || log.isForced()
}

func (l *logger) Debug(format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	log.backend().Log(LevelDebug, l.source, format, args...)
}

func (l *logger) Info(format string, args ...interface{}) {
	if log.suppressed(LevelInfo) {
		return
	}
	log.backend().Log(LevelInfo, l.source, format, args...)
}

func (l *logger) Warn(format string, args ...interface{}) {
	if log.suppressed(LevelWarn) {
		return
	}
	log.backend().Log(LevelWarn, l.source, format, args...)
}

func (l *logger) Error(format string, args ...interface{}) {
	log.backend().Log(LevelError, l.source, format, args...)
}

func (l *logger) Panic(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b := log.backend()
	b.Log(LevelPanic, l.source, "%s", msg)
	b.Sync()
	panic(msg)
}

func (l *logger) Fatal(format string, args ...interface{}) {
	b := log.backend()
	b.Log(LevelFatal, l.source, format, args...)
	b.Sync()
	exit(1)
}

func (l *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	l.block(LevelDebug, prefix, format, args...)
}

func (l *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	if log.suppressed(LevelInfo) {
		return
	}
	l.block(LevelInfo, prefix, format, args...)
}

func (l *logger) WarnBlock(prefix string, format string, args ...interface{}) {
	if log.suppressed(LevelWarn) {
		return
	}
	l.block(LevelWarn, prefix, format, args...)
}

func (l *logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	l.block(LevelError, prefix, format, args...)
}

// block emits every line of the formatted message separately, with prefix.
func (l *logger) block(level Level, prefix string, format string, args ...interface{}) {
	b := log.backend()
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		b.Log(level, l.source, "%s%s", prefix, line)
	}
}
