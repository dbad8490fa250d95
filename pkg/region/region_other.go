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

//go:build !linux
// +build !linux

package region

// NewMappedFile is not supported on this platform.
func NewMappedFile(path string, size int) (*Region, error) {
	return nil, regionError("mapped-file regions are not supported on this platform")
}

// NewNUMALocal is not supported on this platform.
func NewNUMALocal(node int, size int) (*Region, error) {
	return nil, regionError("NUMA-local regions are not supported on this platform")
}

func munmap(mem []byte) error {
	return nil
}
