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

// Package testutils has helpers shared by the tests of other packages.
package testutils

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

// RequireErrors checks that err carries exactly count errors, each of
// substrings appearing somewhere in them. A count of 0 requires no error.
func RequireErrors(t *testing.T, err error, count int, substrings ...string) {
	t.Helper()

	if count == 0 {
		require.NoError(t, err)
		return
	}

	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "expected a multierror, got %#v", err)
	require.Len(t, merr.Errors, count, "unexpected errors: %v", merr)

	for _, substring := range substrings {
		require.Contains(t, err.Error(), substring)
	}
}
