/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package index

import (
	"sync"

	"github.com/vertexgraph/vgdb/graphaccess"
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/txn"
)

/*
Catalog owns the label index and every declared label-property index. It
is the single point the planner's cost estimator and the executor's scan
operators query for cardinalities and candidate sets.
*/
type Catalog struct {
	mu     sync.RWMutex
	labels *LabelIndex
	lp     map[string]*LabelPropertyIndex // keyed by label+"\x00"+property
}

/*
NewCatalog creates an empty catalog.
*/
func NewCatalog() *Catalog {
	return &Catalog{
		labels: NewLabelIndex(),
		lp:     make(map[string]*LabelPropertyIndex),
	}
}

func lpKey(label, property string) string {
	return label + "\x00" + property
}

/*
LabelIndex returns the catalog's label index.
*/
func (c *Catalog) LabelIndex() *LabelIndex {
	return c.labels
}

/*
LabelProperty returns the declared index for (label, property), or nil if
BuildIndex has not been called for that pair.
*/
func (c *Catalog) LabelProperty(label, property string) *LabelPropertyIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lp[lpKey(label, property)]
}

/*
HasIndex reports whether a label-property index exists for the pair.
*/
func (c *Catalog) HasIndex(label, property string) bool {
	return c.LabelProperty(label, property) != nil
}

/*
OnVertexCommitted updates the label index and every matching
label-property index after a vertex version has been committed. old is
nil for a freshly created vertex.
*/
func (c *Catalog) OnVertexCommitted(gid store.Gid, data *store.VertexData, old *store.VertexData) {
	if old != nil {
		for label := range old.Labels {
			for prop, oldVal := range old.Properties {
				idx := c.LabelProperty(label, prop)
				if idx == nil {
					continue
				}
				newVal, stillHasProp := data.Properties[prop]
				_, stillHasLabel := data.Labels[label]
				if !stillHasLabel || !stillHasProp || !store.Equal(oldVal, newVal) {
					idx.Remove(oldVal, gid)
				}
			}
			if _, stillHasLabel := data.Labels[label]; !stillHasLabel {
				c.labels.Remove(label, gid)
			}
		}
	}

	for label := range data.Labels {
		c.labels.Add(label, gid)
		for prop, val := range data.Properties {
			if idx := c.LabelProperty(label, prop); idx != nil {
				idx.Add(val, gid)
			}
		}
	}
}

/*
OnVertexRemoved drops gid from every index.
*/
func (c *Catalog) OnVertexRemoved(gid store.Gid, data *store.VertexData) {
	c.labels.RemoveVertex(gid)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, idx := range c.lp {
		for _, val := range data.Properties {
			idx.Remove(val, gid)
		}
	}
}

/*
BuildIndex scans the current committed vertex set for (label, property)
and populates a fresh LabelPropertyIndex, per spec §4.3. It also returns
the BUILD_INDEX delta describing the call, as an (index, delta) pair
with no error result - the caller is responsible for
pushing the delta to the WAL (via EvaluationContext.emplace or the
distributed coordinator, exactly like every other delta), which is what
lets wal.Recover replay this same scan against a restarted store instead
of losing the index across a restart.
*/
func (c *Catalog) BuildIndex(t *txn.Transaction, g *graphaccess.Graph, label, property string) (*LabelPropertyIndex, graphaccess.StateDelta) {
	idx := NewLabelPropertyIndex(label, property)

	for _, acc := range g.Store.Scan(t, store.KindVertex) {
		v := acc.Vertex()
		if !v.HasLabel(label) {
			continue
		}
		if val, ok := v.Properties[property]; ok {
			idx.Add(val, acc.Gid)
		}
	}

	c.mu.Lock()
	c.lp[lpKey(label, property)] = idx
	c.mu.Unlock()

	delta := graphaccess.StateDelta{Type: graphaccess.BuildIndex, Tx: t.ID, IndexLabel: label, IndexProperty: property}
	return idx, delta
}

/*
VerticesCount returns the cardinality estimate for a label, or for a
(label, property) pair if property is non-empty. For the sizes vgdb
operates at the estimate is always exact (spec §4.3).
*/
func (c *Catalog) VerticesCount(label, property string) int {
	if property == "" {
		return c.labels.Count(label)
	}
	idx := c.LabelProperty(label, property)
	if idx == nil {
		return c.labels.Count(label)
	}
	return idx.TotalCount()
}
