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
	"io"
	"os"
	"sort"
	"sync"
)

//
// Logging backend interface and default fmt-based backend implementation.
//

// BackendFn is a functions that creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits log messages with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Sync waits for all messages to get emitted.
	Sync()
	// Stop stops the backend instance.
	Stop()
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
)

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backends[name] = fn
}

// Backends returns the names of all registered backends.
func Backends() []string {
	log.RLock()
	defer log.RUnlock()

	names := make([]string, 0, len(log.backends))
	for name := range log.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetBackend activates the named backend, stopping the previous one.
func SetBackend(name string) error {
	log.Lock()
	fn, ok := log.backends[name]
	if !ok {
		log.Unlock()
		return loggerError("unknown backend %q", name)
	}
	if log.active != nil && log.active.Name() == name {
		log.Unlock()
		return nil
	}
	old := log.active
	log.active = fn()
	if a, ok := log.active.(interface{ SetSourceAlignment(int) }); ok {
		a.SetSourceAlignment(log.alignment())
	}
	log.Unlock()

	if old != nil {
		old.Sync()
		old.Stop()
	}
	return nil
}

// severity tags fmtBackend uses to prefix emitted messages with.
var fmtTags = map[Level]string{
	LevelDebug: "D: ",
	LevelInfo:  "I: ",
	LevelWarn:  "W: ",
	LevelError: "E: ",
	LevelFatal: "FATAL ERROR: ",
	LevelPanic: "PANIC: ",
}

// fmtBackend is our simple, default fmt.Fprintf-based Backend.
type fmtBackend struct {
	sync.Mutex
	w     io.Writer
	align int
}

// createFmtBackend creates an fmt Backend emitting to w.
func createFmtBackend(w io.Writer) Backend {
	return &fmtBackend{w: w}
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	f.Lock()
	defer f.Unlock()

	suf := (f.align - len(source)) / 2
	pre := f.align - (len(source) + suf)
	if suf < 0 || pre < 0 {
		suf, pre = 0, 0
	}
	fmt.Fprintf(f.w, "%s[%*s%s%*s] %s\n", fmtTags[level], pre, "", source, suf, "", msg)
}

func (f *fmtBackend) Sync() {
	f.Lock()
	defer f.Unlock()
	if s, ok := f.w.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func (f *fmtBackend) Stop() {}

// SetSourceAlignment sets the width source names are centered within.
func (f *fmtBackend) SetSourceAlignment(align int) {
	f.Lock()
	defer f.Unlock()
	f.align = align
}

func init() {
	RegisterBackend(FmtBackendName, func() Backend { return createFmtBackend(os.Stdout) })
}
