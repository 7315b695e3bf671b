/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package graphaccess

import (
	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/txn"
)

/*
Graph is a typed view over a store.Store. It never holds transaction
state itself; every method takes the calling *txn.Transaction
explicitly, matching the "all operations parameterized by the calling
transaction t" contract of spec §4.2.
*/
type Graph struct {
	Store *store.Store
}

/*
NewGraph wraps a record store.
*/
func NewGraph(s *store.Store) *Graph {
	return &Graph{Store: s}
}

/*
Vertex returns the vertex payload visible to t at gid.
*/
func (g *Graph) Vertex(t *txn.Transaction, gid store.Gid) (*store.VertexData, error) {
	acc, err := g.Store.Find(t, gid)
	if err != nil {
		return nil, err
	}
	return acc.Vertex(), nil
}

/*
Edge returns the edge payload visible to t at gid.
*/
func (g *Graph) Edge(t *txn.Transaction, gid store.Gid) (*store.EdgeData, error) {
	acc, err := g.Store.Find(t, gid)
	if err != nil {
		return nil, err
	}
	return acc.Edge(), nil
}

/*
CreateVertex inserts a new vertex with the given labels and properties
and returns its Gid plus the CREATE_VERTEX delta describing it.
*/
func (g *Graph) CreateVertex(t *txn.Transaction, labels []string, props map[string]store.Value) (store.Gid, StateDelta, error) {
	v := store.NewVertexData()
	for _, l := range labels {
		v.Labels[l] = struct{}{}
	}
	for k, val := range props {
		v.Properties[k] = val
	}

	acc, err := g.Store.Insert(t, store.KindVertex, v)
	if err != nil {
		return 0, StateDelta{}, err
	}

	delta := StateDelta{Type: CreateVertex, Tx: t.ID, Gid: acc.Gid, Labels: labels, Properties: props}
	return acc.Gid, delta, nil
}

/*
CreateEdgeRecord inserts a new edge record between two addresses without
touching either endpoint's adjacency lists; callers (the local executor,
or the distributed coordinator on the edge's owning worker) are
responsible for issuing the matching AddOutEdge/AddInEdge calls, exactly
as spec §4.7's CreateEdge RPC splits the two concerns across workers.
*/
func (g *Graph) CreateEdgeRecord(t *txn.Transaction, from, to store.Address, etype string, props map[string]store.Value) (store.Gid, StateDelta, error) {
	e := store.NewEdgeData(from, to, etype)
	for k, v := range props {
		e.Properties[k] = v
	}

	acc, err := g.Store.Insert(t, store.KindEdge, e)
	if err != nil {
		return 0, StateDelta{}, err
	}

	delta := StateDelta{Type: CreateEdge, Tx: t.ID, Gid: acc.Gid, From: from, To: to, EdgeType: etype, Properties: props}
	return acc.Gid, delta, nil
}

/*
AddOutEdgeRef appends ref to vertexGid's outgoing edge list.
*/
func (g *Graph) AddOutEdgeRef(t *txn.Transaction, vertexGid store.Gid, ref store.EdgeRef) (StateDelta, error) {
	acc, err := g.Store.Find(t, vertexGid)
	if err != nil {
		return StateDelta{}, err
	}
	mutable, err := g.Store.Update(acc)
	if err != nil {
		return StateDelta{}, err
	}
	mutable.(*store.VertexData).Out = append(mutable.(*store.VertexData).Out, ref)

	return StateDelta{Type: AddOutEdge, Tx: t.ID, Gid: vertexGid, Ref: ref}, nil
}

/*
AddInEdgeRef appends ref to vertexGid's incoming edge list.
*/
func (g *Graph) AddInEdgeRef(t *txn.Transaction, vertexGid store.Gid, ref store.EdgeRef) (StateDelta, error) {
	acc, err := g.Store.Find(t, vertexGid)
	if err != nil {
		return StateDelta{}, err
	}
	mutable, err := g.Store.Update(acc)
	if err != nil {
		return StateDelta{}, err
	}
	mutable.(*store.VertexData).In = append(mutable.(*store.VertexData).In, ref)

	return StateDelta{Type: AddInEdge, Tx: t.ID, Gid: vertexGid, Ref: ref}, nil
}

/*
RemoveOutEdgeRef drops the first matching ref from vertexGid's outgoing
edge list.
*/
func (g *Graph) RemoveOutEdgeRef(t *txn.Transaction, vertexGid store.Gid, ref store.EdgeRef) (StateDelta, error) {
	acc, err := g.Store.Find(t, vertexGid)
	if err != nil {
		return StateDelta{}, err
	}
	mutable, err := g.Store.Update(acc)
	if err != nil {
		return StateDelta{}, err
	}
	vd := mutable.(*store.VertexData)
	vd.Out = removeRef(vd.Out, ref)

	return StateDelta{Type: RemoveOutEdge, Tx: t.ID, Gid: vertexGid, Ref: ref}, nil
}

/*
RemoveInEdgeRef drops the first matching ref from vertexGid's incoming
edge list.
*/
func (g *Graph) RemoveInEdgeRef(t *txn.Transaction, vertexGid store.Gid, ref store.EdgeRef) (StateDelta, error) {
	acc, err := g.Store.Find(t, vertexGid)
	if err != nil {
		return StateDelta{}, err
	}
	mutable, err := g.Store.Update(acc)
	if err != nil {
		return StateDelta{}, err
	}
	vd := mutable.(*store.VertexData)
	vd.In = removeRef(vd.In, ref)

	return StateDelta{Type: RemoveInEdge, Tx: t.ID, Gid: vertexGid, Ref: ref}, nil
}

func removeRef(list []store.EdgeRef, ref store.EdgeRef) []store.EdgeRef {
	for i, r := range list {
		if r == ref {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

/*
SetPropertyVertex sets a property on a vertex and returns the delta.
*/
func (g *Graph) SetPropertyVertex(t *txn.Transaction, gid store.Gid, prop string, val store.Value) (StateDelta, error) {
	acc, err := g.Store.Find(t, gid)
	if err != nil {
		return StateDelta{}, err
	}
	mutable, err := g.Store.Update(acc)
	if err != nil {
		return StateDelta{}, err
	}
	mutable.(*store.VertexData).Properties[prop] = val

	return StateDelta{Type: SetPropertyVertex, Tx: t.ID, Gid: gid, Property: prop, Value: val}, nil
}

/*
SetPropertyEdge sets a property on an edge and returns the delta.
*/
func (g *Graph) SetPropertyEdge(t *txn.Transaction, gid store.Gid, prop string, val store.Value) (StateDelta, error) {
	acc, err := g.Store.Find(t, gid)
	if err != nil {
		return StateDelta{}, err
	}
	mutable, err := g.Store.Update(acc)
	if err != nil {
		return StateDelta{}, err
	}
	mutable.(*store.EdgeData).Properties[prop] = val

	return StateDelta{Type: SetPropertyEdge, Tx: t.ID, Gid: gid, Property: prop, Value: val}, nil
}

/*
AddVertexLabel adds a label to a vertex and returns the delta.
*/
func (g *Graph) AddVertexLabel(t *txn.Transaction, gid store.Gid, label string) (StateDelta, error) {
	acc, err := g.Store.Find(t, gid)
	if err != nil {
		return StateDelta{}, err
	}
	mutable, err := g.Store.Update(acc)
	if err != nil {
		return StateDelta{}, err
	}
	mutable.(*store.VertexData).Labels[label] = struct{}{}

	return StateDelta{Type: AddLabel, Tx: t.ID, Gid: gid, Label: label}, nil
}

/*
RemoveVertexLabel removes a label from a vertex and returns the delta.
*/
func (g *Graph) RemoveVertexLabel(t *txn.Transaction, gid store.Gid, label string) (StateDelta, error) {
	acc, err := g.Store.Find(t, gid)
	if err != nil {
		return StateDelta{}, err
	}
	mutable, err := g.Store.Update(acc)
	if err != nil {
		return StateDelta{}, err
	}
	delete(mutable.(*store.VertexData).Labels, label)

	return StateDelta{Type: RemoveLabel, Tx: t.ID, Gid: gid, Label: label}, nil
}

/*
RemoveVertexRecord removes a vertex. If checkEmpty is set and the
vertex's current adjacency lists are non-empty, it fails with
ErrUnableToDeleteVertex (spec §4.7 RemoveVertex RPC contract, applied
identically to the local, non-distributed path).
*/
func (g *Graph) RemoveVertexRecord(t *txn.Transaction, gid store.Gid, checkEmpty bool) (StateDelta, error) {
	acc, err := g.Store.Find(t, gid)
	if err != nil {
		return StateDelta{}, err
	}

	if checkEmpty {
		vd := acc.Vertex()
		if len(vd.Out) > 0 || len(vd.In) > 0 {
			return StateDelta{}, graphdberr.Wrap(graphdberr.ErrUnableToDeleteVertex, gid.String())
		}
	}

	if err := g.Store.Remove(acc); err != nil {
		return StateDelta{}, err
	}

	return StateDelta{Type: RemoveVertex, Tx: t.ID, Gid: gid, CheckEmpty: checkEmpty}, nil
}

/*
RemoveEdgeRecord removes an edge record (not its endpoints' adjacency
entries - see RemoveOutEdgeRef/RemoveInEdgeRef).
*/
func (g *Graph) RemoveEdgeRecord(t *txn.Transaction, gid store.Gid) (StateDelta, error) {
	acc, err := g.Store.Find(t, gid)
	if err != nil {
		return StateDelta{}, err
	}
	if err := g.Store.Remove(acc); err != nil {
		return StateDelta{}, err
	}
	return StateDelta{Type: RemoveEdge, Tx: t.ID, Gid: gid}, nil
}

/*
Apply replays a single delta against the local store under the given
transaction, without producing a new delta. Used by WAL recovery and by
the distributed coordinator's Apply RPC, both of which already have a
delta and just need it re-executed.
*/
func (g *Graph) Apply(t *txn.Transaction, d StateDelta) error {
	switch d.Type {
	case CreateVertex:
		v := store.NewVertexData()
		for _, l := range d.Labels {
			v.Labels[l] = struct{}{}
		}
		for k, val := range d.Properties {
			v.Properties[k] = val
		}
		return g.insertAt(t, d.Gid, store.KindVertex, v)

	case CreateEdge:
		e := store.NewEdgeData(d.From, d.To, d.EdgeType)
		for k, v := range d.Properties {
			e.Properties[k] = v
		}
		return g.insertAt(t, d.Gid, store.KindEdge, e)

	case SetPropertyVertex:
		_, err := g.SetPropertyVertex(t, d.Gid, d.Property, d.Value)
		return err

	case SetPropertyEdge:
		_, err := g.SetPropertyEdge(t, d.Gid, d.Property, d.Value)
		return err

	case AddLabel:
		_, err := g.AddVertexLabel(t, d.Gid, d.Label)
		return err

	case RemoveLabel:
		_, err := g.RemoveVertexLabel(t, d.Gid, d.Label)
		return err

	case AddOutEdge:
		_, err := g.AddOutEdgeRef(t, d.Gid, d.Ref)
		return err

	case AddInEdge:
		_, err := g.AddInEdgeRef(t, d.Gid, d.Ref)
		return err

	case RemoveOutEdge:
		_, err := g.RemoveOutEdgeRef(t, d.Gid, d.Ref)
		return err

	case RemoveInEdge:
		_, err := g.RemoveInEdgeRef(t, d.Gid, d.Ref)
		return err

	case RemoveVertex:
		_, err := g.RemoveVertexRecord(t, d.Gid, d.CheckEmpty)
		return err

	case RemoveEdge:
		_, err := g.RemoveEdgeRecord(t, d.Gid)
		return err

	case TxBegin, TxCommit, TxAbort, BuildIndex:
		// No local record mutation: transaction markers are handled by
		// the txn engine directly, and BUILD_INDEX is replayed by the
		// catalog (see store/index.Catalog.BuildIndex), not by Graph.
		return nil

	default:
		return graphdberr.Wrap(graphdberr.ErrQuery, "unknown delta type "+string(d.Type))
	}
}

/*
insertAt inserts data at a specific, already-allocated Gid - used by
Apply/recovery where the Gid is dictated by the delta being replayed
rather than freshly allocated.
*/
func (g *Graph) insertAt(t *txn.Transaction, gid store.Gid, kind store.Kind, data interface{}) error {
	return g.Store.InsertAt(t, gid, kind, data)
}
