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

package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/utils/cpuset"

	logger "github.com/intel/tlb-shootdown/pkg/log"
)

const (
	// SysfsRootPath is the mount path of sysfs.
	SysfsRootPath = "/sys"
	// sysfs devices/cpu subdirectory path
	sysfsCPUPath = "devices/system/cpu"
	// sysfs device/node subdirectory path
	sysfsNumaNodePath = "devices/system/node"
)

// System is the discovered CPU and NUMA topology of the host.
type System struct {
	logger.Logger
	path     string        // sysfs mount point
	present  cpuset.CPUSet // present CPUs
	online   cpuset.CPUSet // online CPUs
	isolated cpuset.CPUSet // isolated CPUs
	nodes    map[int]*Node // NUMA nodes
	cpuNode  map[int]int   // CPU to NUMA node
}

// Node is a NUMA node.
type Node struct {
	id   int           // node id
	cpus cpuset.CPUSet // CPUs in this node
}

// DiscoverSystem discovers the topology of the running system.
func DiscoverSystem() (*System, error) {
	return DiscoverSystemAt(SysfsRootPath)
}

// DiscoverSystemAt discovers the topology from a sysfs tree mounted at path.
func DiscoverSystemAt(path string) (*System, error) {
	sys := &System{
		Logger:  logger.NewLogger("sysfs"),
		path:    path,
		nodes:   make(map[int]*Node),
		cpuNode: make(map[int]int),
	}

	if err := sys.discoverCPUs(); err != nil {
		return nil, err
	}
	if err := sys.discoverNodes(); err != nil {
		return nil, err
	}

	return sys, nil
}

func (sys *System) discoverCPUs() error {
	var err error

	cpuPath := filepath.Join(sys.path, sysfsCPUPath)
	if sys.present, err = readCPUSet(cpuPath, "present"); err != nil {
		return err
	}
	if sys.online, err = readCPUSet(cpuPath, "online"); err != nil {
		sys.Warn("%v, assuming all present CPUs are online", err)
		sys.online = sys.present
	}
	if sys.isolated, err = readCPUSet(cpuPath, "isolated"); err != nil {
		sys.Debug("%v, assuming no isolated CPUs", err)
		sys.isolated = cpuset.New()
	}

	return nil
}

func (sys *System) discoverNodes() error {
	entries, _ := filepath.Glob(filepath.Join(sys.path, sysfsNumaNodePath, "node[0-9]*"))
	for _, entry := range entries {
		id, err := getEnumeratedID(entry)
		if err != nil {
			return err
		}
		cpus, err := readCPUSet(entry, "cpulist")
		if err != nil {
			return err
		}
		sys.nodes[id] = &Node{id: id, cpus: cpus}
		for _, cpu := range cpus.List() {
			sys.cpuNode[cpu] = id
		}
	}

	// a kernel without NUMA support exposes no nodes, treat it as one node
	if len(sys.nodes) == 0 {
		sys.Debug("no NUMA nodes found, assuming a single node 0")
		sys.nodes[0] = &Node{id: 0, cpus: sys.present}
		for _, cpu := range sys.present.List() {
			sys.cpuNode[cpu] = 0
		}
	}

	return nil
}

// CPUSet returns the set of present CPUs.
func (sys *System) CPUSet() cpuset.CPUSet {
	return sys.present
}

// Online returns the set of online CPUs.
func (sys *System) Online() cpuset.CPUSet {
	return sys.online
}

// Isolated returns the set of isolated CPUs.
func (sys *System) Isolated() cpuset.CPUSet {
	return sys.isolated
}

// NodeIDs returns the sorted ids of all NUMA nodes.
func (sys *System) NodeIDs() []int {
	ids := make([]int, 0, len(sys.nodes))
	for id := range sys.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Node returns the NUMA node with the given id.
func (sys *System) Node(id int) *Node {
	return sys.nodes[id]
}

// CPUNode returns the id of the NUMA node of the given CPU.
func (sys *System) CPUNode(cpu int) (int, error) {
	if !sys.present.Contains(cpu) {
		return -1, sysfsError(sys.path, "CPU #%d is not present", cpu)
	}
	node, ok := sys.cpuNode[cpu]
	if !ok {
		return -1, sysfsError(sys.path, "CPU #%d belongs to no NUMA node", cpu)
	}
	return node, nil
}

// CheckCPUs verifies that each CPU is present and online. It returns the
// subset of the given CPUs which are not isolated.
func (sys *System) CheckCPUs(cpus ...int) (cpuset.CPUSet, error) {
	notIsolated := []int{}
	for _, cpu := range cpus {
		if !sys.present.Contains(cpu) {
			return cpuset.New(), sysfsError(sys.path, "CPU #%d is not present (present: %s)",
				cpu, sys.present.String())
		}
		if !sys.online.Contains(cpu) {
			return cpuset.New(), sysfsError(sys.path, "CPU #%d is offline", cpu)
		}
		if !sys.isolated.Contains(cpu) {
			notIsolated = append(notIsolated, cpu)
		}
	}
	return cpuset.New(notIsolated...), nil
}

// ID returns the id of this node.
func (n *Node) ID() int {
	return n.id
}

// CPUSet returns the CPUs of this node.
func (n *Node) CPUSet() cpuset.CPUSet {
	return n.cpus
}

// readCPUSet reads a CPU list entry, like "0-3,8".
func readCPUSet(base, entry string) (cpuset.CPUSet, error) {
	path := filepath.Join(base, entry)
	blob, err := os.ReadFile(path)
	if err != nil {
		return cpuset.New(), errors.Wrapf(err, "failed to read sysfs entry %s", path)
	}
	cset, err := cpuset.Parse(strings.TrimSpace(string(blob)))
	if err != nil {
		return cpuset.New(), sysfsError(path, "invalid CPU list: %v", err)
	}
	return cset, nil
}

// getEnumeratedID returns the trailing enumeration of a name, like 1 for node1.
func getEnumeratedID(name string) (int, error) {
	base := filepath.Base(name)
	idx := strings.LastIndexFunc(base, func(r rune) bool { return r < '0' || r > '9' })
	id, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return -1, sysfsError(name, "no enumerated id")
	}
	return id, nil
}

func sysfsError(path, format string, args ...interface{}) error {
	return fmt.Errorf("sysfs %s: "+format, append([]interface{}{path}, args...)...)
}
