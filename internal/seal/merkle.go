// Copyright 2026 The audittrail authors. All Rights Reserved.
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

package seal

import (
	"fmt"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
)

// EntryRoot computes the RFC 6962 Merkle root over the window's entry lines.
// The root is recorded in the artifact metadata so individual entries can
// later be proven present in a sealed window without reshipping the whole
// window.
func EntryRoot(lines [][]byte) ([]byte, error) {
	h := rfc6962.DefaultHasher
	if len(lines) == 0 {
		return h.EmptyRoot(), nil
	}
	rf := compact.RangeFactory{Hash: h.HashChildren}
	rng := rf.NewEmptyRange(0)
	for i, line := range lines {
		if err := rng.Append(h.HashLeaf(line), nil); err != nil {
			return nil, fmt.Errorf("failed to append leaf %d: %w", i, err)
		}
	}
	root, err := rng.GetRootHash(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compute entry root: %w", err)
	}
	return root, nil
}
