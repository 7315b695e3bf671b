/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package index

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/zhangyunhao116/skipmap"

	"github.com/vertexgraph/vgdb/store"
)

/*
LabelPropertyIndex is the ordered map property_value -> set<vertex_gid>
declared by BuildIndex for one (label, property) pair (spec §4.3). It
supports point lookup and inclusive/exclusive bounded range scans.

The ordered map itself is a skipmap.FuncMap keyed on store.Value with a
custom less function, the same concurrent-ordered-map shape the
retrieval pack's memtable (pkg/memtable/memtable.go) uses for its
byte-keyed skip list; each value's posting list is a roaring64.Bitmap
rather than a Go set, for the same density reasons as LabelIndex. Values
that are not orderable under store.Compare against one another still
get a total order from lessValue (by concrete type name, then string
form) so the skip list stays well-defined, but RangeScan excludes them
from any bound the same way the original degenerate bucket did, by
checking store.Compare's ok flag rather than trusting lessValue's
fallback ordering.
*/
type LabelPropertyIndex struct {
	Label    string
	Property string

	mu     sync.RWMutex
	values *skipmap.FuncMap[store.Value, *roaring64.Bitmap]
}

/*
lessValue orders two property values for the skip list. Orderable pairs
(spec §4.3: same or numerically-compatible types) use store.Compare
directly; pairs store.Compare can't relate fall back to ordering by
concrete type name and then by string form, which is enough to give the
skip list a total order without ever being consulted by RangeScan's
bound checks.
*/
func lessValue(a, b store.Value) bool {
	if c, ok := store.Compare(a, b); ok {
		return c < 0
	}
	ta, tb := fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)
	if ta != tb {
		return ta < tb
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

/*
NewLabelPropertyIndex creates an empty index for (label, property).
*/
func NewLabelPropertyIndex(label, property string) *LabelPropertyIndex {
	return &LabelPropertyIndex{
		Label:    label,
		Property: property,
		values:   skipmap.NewFunc[store.Value, *roaring64.Bitmap](lessValue),
	}
}

/*
Add records that gid carries value for this index's property.
*/
func (idx *LabelPropertyIndex) Add(value store.Value, gid store.Gid) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	bm, ok := idx.values.Load(value)
	if !ok {
		bm = roaring64.New()
		idx.values.Store(value, bm)
	}
	bm.Add(uint64(gid))
}

/*
Remove drops gid from value's set.
*/
func (idx *LabelPropertyIndex) Remove(value store.Value, gid store.Gid) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if bm, ok := idx.values.Load(value); ok {
		bm.Remove(uint64(gid))
	}
}

/*
PointLookup returns every Gid indexed under exactly value.
*/
func (idx *LabelPropertyIndex) PointLookup(value store.Value) []store.Gid {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bm, ok := idx.values.Load(value)
	if !ok {
		return nil
	}
	return gidsFromBitmap(bm)
}

/*
Bound is an optional endpoint for a range scan.
*/
type Bound struct {
	Value     store.Value
	Inclusive bool
}

/*
RangeScan returns every Gid whose indexed value falls within [lo, hi]
(bounds optional on either side, inclusive/exclusive as given). Both
bounds nil degenerates to a full scan of every indexed entry
(spec §8 boundary behavior). Values store.Compare can't relate to a
given bound are never returned by a range scan against that bound.
*/
func (idx *LabelPropertyIndex) RangeScan(lo, hi *Bound) []store.Gid {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []store.Gid
	idx.values.Range(func(value store.Value, bm *roaring64.Bitmap) bool {
		if lo != nil {
			c, ok := store.Compare(value, lo.Value)
			if !ok {
				return true
			}
			if c < 0 || (c == 0 && !lo.Inclusive) {
				return true
			}
		}
		if hi != nil {
			c, ok := store.Compare(value, hi.Value)
			if !ok {
				return true
			}
			if c > 0 || (c == 0 && !hi.Inclusive) {
				return true
			}
		}
		out = append(out, gidsFromBitmap(bm)...)
		return true
	})
	return out
}

/*
Count returns the number of vertices indexed under exactly value, i.e.
VerticesCount(label, property) restricted to one value.
*/
func (idx *LabelPropertyIndex) Count(value store.Value) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if bm, ok := idx.values.Load(value); ok {
		return int(bm.GetCardinality())
	}
	return 0
}

/*
CountRange returns the exact cardinality of RangeScan(lo, hi) without
materializing the Gid slice. For tables below CardinalityExactThreshold
this is always exact (spec §4.3 "for small tables the estimate equals
the exact count"); vgdb never approximates, so the distinction is moot,
but the constant documents the contract explicitly.
*/
const CardinalityExactThreshold = 1_000_000

func (idx *LabelPropertyIndex) CountRange(lo, hi *Bound) int {
	return len(idx.RangeScan(lo, hi))
}

/*
TotalCount returns the exact cardinality of every value this index
carries, summed - the (label, property) total Catalog.VerticesCount
falls back to when no single value is asked for.
*/
func (idx *LabelPropertyIndex) TotalCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	total := 0
	idx.values.Range(func(_ store.Value, bm *roaring64.Bitmap) bool {
		total += int(bm.GetCardinality())
		return true
	})
	return total
}
