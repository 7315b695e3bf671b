/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package index implements the label index and the label+property index
described in spec §4.3, grounded on the encode/decode map idiom of
graph/util.NamesManager (maintaining a name-keyed lookup incrementally)
and on eql/interpreter.lookup's ordered range-lookup shape. Posting lists
are roaring64.Bitmap rather than Go maps, the way the retrieval pack's
vector-index metadata (internal/metadata/numeric_index.go,
internal/bitmap) backs its low-cardinality value buckets.
*/
package index

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/vertexgraph/vgdb/store"
)

/*
LabelIndex maps a label to the set of vertex Gids known to carry it as of
the last committed version the index has observed. A label commonly
covers a large, contiguous run of gids, which is exactly the shape
roaring's run-length containers compress well, so Vertices/Count become
bitmap operations instead of a map walk.
*/
type LabelIndex struct {
	mu   sync.RWMutex
	sets map[string]*roaring64.Bitmap
}

/*
NewLabelIndex creates an empty label index.
*/
func NewLabelIndex() *LabelIndex {
	return &LabelIndex{sets: make(map[string]*roaring64.Bitmap)}
}

func (li *LabelIndex) setLocked(label string) *roaring64.Bitmap {
	bm, ok := li.sets[label]
	if !ok {
		bm = roaring64.New()
		li.sets[label] = bm
	}
	return bm
}

/*
Add records that gid carries label.
*/
func (li *LabelIndex) Add(label string, gid store.Gid) {
	li.mu.Lock()
	defer li.mu.Unlock()
	li.setLocked(label).Add(uint64(gid))
}

/*
Remove drops gid from label's set.
*/
func (li *LabelIndex) Remove(label string, gid store.Gid) {
	li.mu.Lock()
	defer li.mu.Unlock()

	if bm, ok := li.sets[label]; ok {
		bm.Remove(uint64(gid))
	}
}

/*
Vertices returns a snapshot slice of every Gid currently indexed under
label.
*/
func (li *LabelIndex) Vertices(label string) []store.Gid {
	li.mu.RLock()
	defer li.mu.RUnlock()

	bm, ok := li.sets[label]
	if !ok {
		return nil
	}
	return gidsFromBitmap(bm)
}

/*
Count returns the number of vertices indexed under label, i.e.
VerticesCount(label) from spec §4.3.
*/
func (li *LabelIndex) Count(label string) int {
	li.mu.RLock()
	defer li.mu.RUnlock()
	if bm, ok := li.sets[label]; ok {
		return int(bm.GetCardinality())
	}
	return 0
}

/*
RemoveVertex drops gid from every label it might be indexed under. Used
when a vertex is deleted and its label set at deletion time is not
separately known to the caller.
*/
func (li *LabelIndex) RemoveVertex(gid store.Gid) {
	li.mu.Lock()
	defer li.mu.Unlock()

	u := uint64(gid)
	for _, bm := range li.sets {
		bm.Remove(u)
	}
}

/*
gidsFromBitmap materializes a roaring64.Bitmap's members as store.Gid.
Shared by LabelIndex and LabelPropertyIndex, both of which back their
posting lists with a roaring64.Bitmap over the same Gid space.
*/
func gidsFromBitmap(bm *roaring64.Bitmap) []store.Gid {
	raw := bm.ToArray()
	out := make([]store.Gid, len(raw))
	for i, v := range raw {
		out[i] = store.Gid(v)
	}
	return out
}
