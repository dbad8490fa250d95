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

package trigger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/tlb-shootdown/pkg/affinity"
)

type target struct {
	teardowns int
	delay     time.Duration
	err       error
	released  time.Time
}

func (t *target) Unmap() error {
	t.teardowns++
	time.Sleep(t.delay)
	return t.err
}

func (t *target) Release() error {
	time.Sleep(time.Millisecond)
	t.released = time.Now()
	return nil
}

func fakePin(cpus *[]int) affinity.PinFn {
	return func(cpu int) (*affinity.Pinned, error) {
		*cpus = append(*cpus, cpu)
		return &affinity.Pinned{CPU: cpu}, nil
	}
}

func TestFire(t *testing.T) {
	var cpus []int
	tgt := &target{delay: time.Millisecond}
	tr := New(22, &DelayGate{Delay: 10 * time.Millisecond}, fakePin(&cpus))

	start := time.Now()
	m, err := tr.Fire(context.Background(), tgt)
	require.NoError(t, err)
	require.Equal(t, 1, tgt.teardowns)
	require.Equal(t, []int{22}, cpus)

	require.False(t, m.After.Before(m.Before), "before must not be after after")
	require.GreaterOrEqual(t, m.Duration(), time.Millisecond)
	require.GreaterOrEqual(t, m.Before.Sub(start), 10*time.Millisecond, "gate delay")
	require.False(t, m.IsZero())
	require.True(t, tgt.released.After(m.After), "release happens after the marker")

	_, err = tr.Fire(context.Background(), tgt)
	require.ErrorIs(t, err, ErrFired)
	require.Equal(t, 1, tgt.teardowns, "exactly one teardown")
}

func TestFireTeardownError(t *testing.T) {
	var cpus []int
	tgt := &target{err: fmt.Errorf("munmap failed")}
	tr := New(1, &DelayGate{}, fakePin(&cpus))

	m, err := tr.Fire(context.Background(), tgt)
	require.Error(t, err)
	require.False(t, m.IsZero())
	require.False(t, m.After.Before(m.Before))
	require.True(t, tgt.released.IsZero(), "nothing is released after a failed unmap")
}

type unreleasable struct {
	unmapped int
}

func (u *unreleasable) Unmap() error {
	u.unmapped++
	return nil
}

func TestFireWithoutRelease(t *testing.T) {
	var cpus []int
	tgt := &unreleasable{}
	m, err := New(1, &DelayGate{}, fakePin(&cpus)).Fire(context.Background(), tgt)
	require.NoError(t, err)
	require.Equal(t, 1, tgt.unmapped)
	require.False(t, m.IsZero())
}

func TestFireCancelled(t *testing.T) {
	var cpus []int
	tgt := &target{}
	tr := New(1, &DelayGate{Delay: time.Hour}, fakePin(&cpus))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	m, err := tr.Fire(ctx, tgt)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, m.IsZero())
	require.Equal(t, 0, tgt.teardowns)
	require.Empty(t, cpus)
}

func TestFirePinFailure(t *testing.T) {
	tgt := &target{}
	tr := New(1, &DelayGate{}, func(cpu int) (*affinity.Pinned, error) {
		return nil, fmt.Errorf("CPU #%d offline", cpu)
	})
	_, err := tr.Fire(context.Background(), tgt)
	require.Error(t, err)
	require.Equal(t, 0, tgt.teardowns)
}

func TestPromptGate(t *testing.T) {
	tcases := []struct {
		name    string
		input   string
		aborted bool
	}{
		{name: "enter", input: "\n"},
		{name: "any line", input: "go\nmore\n"},
		{name: "end of input", input: "", aborted: true},
		{name: "partial line", input: "go", aborted: true},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			out := &strings.Builder{}
			g := &PromptGate{Message: "ready? ", In: strings.NewReader(tc.input), Out: out}
			err := g.Wait(context.Background())
			if tc.aborted {
				require.ErrorIs(t, err, ErrAborted)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, "ready? ", out.String())
		})
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}

func TestPromptGateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &PromptGate{In: blockingReader{}}
	require.ErrorIs(t, g.Wait(ctx), context.Canceled)
}

func TestRaceWon(t *testing.T) {
	now := time.Now()
	m := Marker{Before: now, After: now.Add(time.Microsecond)}

	require.True(t, m.RaceWon(time.Unix(0, now.Add(-time.Second).UnixNano())))
	require.False(t, m.RaceWon(time.Unix(0, now.Add(time.Second).UnixNano())))
	require.False(t, m.RaceWon(time.Time{}), "worker never reached steady state")
	require.False(t, Marker{}.RaceWon(now))
}
