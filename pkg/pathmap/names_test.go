// Copyright 2018-2024 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisambiguate(t *testing.T) {
	got := Disambiguate([]string{"report.txt", "report.txt", "report.txt", "summary"})
	assert.Equal(t, []string{"report.txt", "report (2).txt", "report (3).txt", "summary"}, got)
}

func TestDisambiguateNoExtension(t *testing.T) {
	got := Disambiguate([]string{"README", "README"})
	assert.Equal(t, []string{"README", "README (2)"}, got)
}

func TestDisambiguateHiddenFile(t *testing.T) {
	// a leading dot is not an extension separator
	got := Disambiguate([]string{".bashrc", ".bashrc"})
	assert.Equal(t, []string{".bashrc", ".bashrc (2)"}, got)
}

func TestDisambiguateCollidesWithExistingCounter(t *testing.T) {
	// a literal "a (2)" already present must not be overwritten
	got := Disambiguate([]string{"a", "a (2)", "a"})
	assert.Equal(t, []string{"a", "a (2)", "a (3)"}, got)

	got = Disambiguate([]string{"a", "a", "a (2)"})
	assert.Equal(t, []string{"a", "a (2)", "a (2) (2)"}, got)
}

func TestDisambiguateDeterministicAndBijective(t *testing.T) {
	in := []string{"x.pdf", "x.pdf", "y", "x.pdf", "y", "z.tar.gz", "z.tar.gz"}

	first := Disambiguate(in)
	second := Disambiguate(in)
	assert.Equal(t, first, second)

	// cardinality is preserved and every output is unique
	seen := make(map[string]bool)
	for _, n := range first {
		assert.False(t, seen[n], "duplicate output %q", n)
		seen[n] = true
	}
	assert.Len(t, seen, len(in))

	// multi-dot names keep only the final extension in place
	assert.Equal(t, "z.tar (2).gz", first[6])
}

func TestDisambiguateEmpty(t *testing.T) {
	assert.Empty(t, Disambiguate(nil))
	assert.Equal(t, []string{"only"}, Disambiguate([]string{"only"}))
}
