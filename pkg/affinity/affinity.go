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

// Package affinity pins goroutines to a single CPU.
package affinity

import (
	"fmt"
)

// Pinned is the result of pinning the calling goroutine.
type Pinned struct {
	// CPU is the CPU the calling thread is now restricted to.
	CPU int
	// Previous is the set of CPUs the thread was allowed to run on before.
	Previous []int
}

// PinFn pins the calling goroutine to a CPU, like Pin.
type PinFn func(cpu int) (*Pinned, error)

func affinityError(format string, args ...interface{}) error {
	return fmt.Errorf("affinity: "+format, args...)
}
