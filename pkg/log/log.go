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
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// logging is the runtime state of all loggers.
type logging struct {
	sync.RWMutex
	level    Level              // lowest unsuppressed non-debug severity
	forced   bool               // forced full debugging (toggled by signal)
	debug    map[string]bool    // per-source debug settings, "*" for all
	loggers  map[string]*logger // loggers by source
	active   Backend            // active backend
	backends map[string]BackendFn
}

var log = &logging{
	level:    LevelInfo,
	debug:    make(map[string]bool),
	loggers:  make(map[string]*logger),
	backends: make(map[string]BackendFn),
}

// our default logger, named after the binary
var deflog = Get(filepath.Base(filepath.Clean(os.Args[0])))

// Get returns the logger for source, creating it if necessary.
func Get(source string) Logger {
	source = strings.Trim(source, "[] ")

	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}

	l := &logger{source: source}
	if log.debugEnabled(source) {
		l.debug = 1
	}
	log.loggers[source] = l
	if a, ok := log.active.(interface{ SetSourceAlignment(int) }); ok {
		a.SetSourceAlignment(log.alignment())
	}

	return l
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return Get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// SetLevel sets the lowest severity of non-debug messages to emit.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// SetDebug enables or disables debugging for the given sources. A source
// of "*" or "all" applies to every source.
func SetDebug(state bool, sources ...string) {
	log.Lock()
	defer log.Unlock()

	for _, src := range sources {
		if src == "all" {
			src = "*"
		}
		log.debug[src] = state
	}
	for src, l := range log.loggers {
		v := int32(0)
		if log.debugEnabled(src) {
			v = 1
		}
		atomic.StoreInt32(&l.debug, v)
	}
}

// Sources returns the sorted names of all known logger sources.
func Sources() []string {
	log.RLock()
	defer log.RUnlock()

	sources := make([]string, 0, len(log.loggers))
	for src := range log.loggers {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// Sync waits for all pending messages of the active backend to get emitted.
func Sync() {
	log.backend().Sync()
}

func (l *logging) debugEnabled(source string) bool {
	if state, ok := l.debug[source]; ok {
		return state
	}
	return l.debug["*"]
}

func (l *logging) suppressed(level Level) bool {
	l.RLock()
	defer l.RUnlock()
	return level < l.level
}

func (l *logging) isForced() bool {
	l.RLock()
	defer l.RUnlock()
	return l.forced
}

func (l *logging) backend() Backend {
	l.RLock()
	b := l.active
	l.RUnlock()
	if b != nil {
		return b
	}

	l.Lock()
	defer l.Unlock()
	if l.active == nil {
		l.active = createFmtBackend(os.Stdout)
		l.active.(*fmtBackend).SetSourceAlignment(l.alignment())
	}
	return l.active
}

// alignment returns the longest source name, used for prefix alignment.
func (l *logging) alignment() int {
	align := 0
	for src := range l.loggers {
		if len(src) > align {
			align = len(src)
		}
	}
	return align
}

// Info formats and emits an informational message with the default logger.
func Info(format string, args ...interface{}) {
	deflog.Info(format, args...)
}

// Warn formats and emits a warning message with the default logger.
func Warn(format string, args ...interface{}) {
	deflog.Warn(format, args...)
}

// Error formats and emits an error message with the default logger.
func Error(format string, args ...interface{}) {
	deflog.Error(format, args...)
}

// Fatal formats and emits an error message and os.Exit()'s with status 1.
func Fatal(format string, args ...interface{}) {
	deflog.Fatal(format, args...)
}

// Panic formats and emits an error messages, and panics with the same.
func Panic(format string, args ...interface{}) {
	deflog.Panic(format, args...)
}

// Debug formats and emits a debug message with the default logger.
func Debug(format string, args ...interface{}) {
	deflog.Debug(format, args...)
}

// InfoBlock formats and emits a multiline information message.
func InfoBlock(prefix string, format string, args ...interface{}) {
	deflog.InfoBlock(prefix, format, args...)
}

// loggerError produces a formatted logger-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
