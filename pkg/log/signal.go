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
	"os"
	"os/signal"
	"strings"
)

// debugToggle is an installed debug toggling signal handler.
type debugToggle struct {
	signals chan os.Signal
	sources []string
	state   bool
}

var toggle *debugToggle

// SetupDebugToggleSignal installs a handler toggling debugging when sig is
// received. Debugging is toggled for the given sources, or forced on for
// every source if none are given. Any previous handler is removed.
func SetupDebugToggleSignal(sig os.Signal, sources ...string) {
	log.Lock()
	defer log.Unlock()

	clearDebugToggleSignal()

	toggle = &debugToggle{
		signals: make(chan os.Signal, 1),
		sources: sources,
	}
	signal.Notify(toggle.signals, sig)

	go toggle.run()
}

func (t *debugToggle) run() {
	onoff := map[bool]string{false: "off", true: "on"}
	for range t.signals {
		t.state = !t.state
		if len(t.sources) == 0 {
			log.Lock()
			log.forced = t.state
			log.Unlock()
			deflog.Warn("forced full debugging is now %s...", onoff[t.state])
			continue
		}
		SetDebug(t.state, t.sources...)
		deflog.Warn("debugging of %s is now %s...", strings.Join(t.sources, ","), onoff[t.state])
	}
}

// ClearDebugToggleSignal removes any signal handlers for toggling debug on/off.
func ClearDebugToggleSignal() {
	log.Lock()
	defer log.Unlock()
	clearDebugToggleSignal()
}

func clearDebugToggleSignal() {
	if toggle != nil {
		signal.Stop(toggle.signals)
		close(toggle.signals)
		toggle = nil
	}
}
