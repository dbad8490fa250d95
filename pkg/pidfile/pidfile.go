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

// Package pidfile guards against concurrent runs with a PID file.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	logger "github.com/intel/tlb-shootdown/pkg/log"
)

var log = logger.NewLogger("pidfile")

// PidFile is a PID file owned by at most one live process.
type PidFile struct {
	path string
	file *os.File
}

// New returns a PID file at path, or at DefaultPath() if path is empty.
func New(path string) *PidFile {
	if path == "" {
		path = DefaultPath()
	}
	return &PidFile{path: path}
}

// Path returns the path of the PID file.
func (p *PidFile) Path() string {
	return p.path
}

// Acquire creates the PID file and writes os.Getpid() to it. A PID file left
// behind by a process which is gone is replaced. Acquire fails if another
// live process owns the file. On success the file is kept open until Release.
func (p *PidFile) Acquire() error {
	if p.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}

	owner, err := p.OwnerPid()
	switch {
	case err != nil:
		return err
	case owner == os.Getpid():
		return pidfileError("%s already owned by this process", p.path)
	case owner > 0:
		return pidfileError("another run (PID %d) owns %s", owner, p.path)
	}

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove stale PID file")
	}

	p.file, err = os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}

	if _, err = p.file.Write([]byte(fmt.Sprintf("%d\n", os.Getpid()))); err != nil {
		p.close()
		return errors.Wrap(err, "failed to write PID file")
	}

	log.Debug("acquired %s", p.path)

	return nil
}

// Release removes the PID file if it was acquired by this PidFile.
func (p *PidFile) Release() error {
	if p.file == nil {
		return nil
	}
	p.close()
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// Read returns the process ID in the PID file, 0 if there is no PID file,
// or -1 and an error if the file cannot be read or holds no valid PID.
func (p *PidFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}

	pid, err := strconv.Atoi(strings.TrimRight(string(buf), "\n"))
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file", string(buf))
	}

	return pid, nil
}

// OwnerPid returns the ID of the live process owning the PID file. 0 is
// returned if no live process owns the file, including when the file is
// empty or garbled. -1 and an error is returned if the owner or its
// existence could not be determined.
func (p *PidFile) OwnerPid() (int, error) {
	pid, err := p.Read()
	if err != nil {
		log.Warn("ignoring unusable PID file: %v", err)
		return 0, nil
	}
	if pid == 0 {
		return 0, nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return -1, errors.Wrapf(err, "FindProcess() failed for PID %d", pid)
	}

	err = proc.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return pid, nil
	case err == os.ErrProcessDone, errors.Is(err, syscall.ESRCH):
		return 0, nil
	case errors.Is(err, syscall.EPERM):
		// alive, owned by someone else
		return pid, nil
	}

	return -1, errors.Wrapf(err, "failed to check process %d", pid)
}

func (p *PidFile) close() {
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
}

// DefaultPath returns the default PID file path.
func DefaultPath() string {
	name := "tlb-shootdown"
	if len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	if euid := os.Geteuid(); euid > 0 {
		return filepath.Join(os.TempDir(), name+".pid")
	}
	return filepath.Join("/", "var", "run", name+".pid")
}

func pidfileError(format string, args ...interface{}) error {
	return fmt.Errorf("pidfile: "+format, args...)
}
