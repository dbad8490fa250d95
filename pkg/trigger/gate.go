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
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
)

// ReadyGate decides when the invalidation trigger may fire.
type ReadyGate interface {
	// Wait blocks until the trigger may fire, or ctx is done.
	Wait(ctx context.Context) error
	// String describes the gate.
	String() string
}

// ErrAborted is returned by a PromptGate the operator aborted.
var ErrAborted = errors.New("aborted by operator")

// DelayGate opens after a fixed delay.
type DelayGate struct {
	Delay time.Duration
}

// Wait sleeps for the delay of the gate.
func (g *DelayGate) Wait(ctx context.Context) error {
	timer := time.NewTimer(g.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *DelayGate) String() string {
	return fmt.Sprintf("delay %v", g.Delay)
}

// PromptGate opens when the operator confirms on the console.
type PromptGate struct {
	// Message is the prompt shown to the operator.
	Message string
	// In and Out override the terminal. If In is nil, the terminal is used
	// with line editing.
	In  io.Reader
	Out io.Writer
}

const defaultPrompt = "Press Enter to tear down the first file... "

// Wait blocks until the operator enters a line.
func (g *PromptGate) Wait(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.prompt()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *PromptGate) prompt() error {
	message := g.Message
	if message == "" {
		message = defaultPrompt
	}

	if g.In == nil {
		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		_, err := line.Prompt(message)
		switch {
		case err == liner.ErrPromptAborted:
			return ErrAborted
		case err == io.EOF:
			return errors.Wrap(ErrAborted, "end of input")
		case err != nil:
			return errors.Wrap(err, "failed to read confirmation")
		}
		return nil
	}

	if g.Out != nil {
		fmt.Fprint(g.Out, message)
	}
	if _, err := bufio.NewReader(g.In).ReadString('\n'); err != nil {
		if err == io.EOF {
			return errors.Wrap(ErrAborted, "end of input")
		}
		return errors.Wrap(err, "failed to read confirmation")
	}
	return nil
}

func (g *PromptGate) String() string {
	return "operator prompt"
}
