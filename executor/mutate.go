/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package executor

import (
	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/planner"
	"github.com/vertexgraph/vgdb/store"
)

func evalProps(props map[string]planner.Expr, row Frame, syms *SymbolTable, ctx *EvaluationContext) (map[string]store.Value, error) {
	out := make(map[string]store.Value, len(props))
	for k, e := range props {
		v, err := Eval(e, row, syms, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

/*
catalogVertexBefore snapshots gid's current data for catalog bookkeeping
ahead of a mutation that may change its labels or properties, mirroring
the "old" argument of index.Catalog.OnVertexCommitted. A nil Catalog (no
durability or indexing configured, as in most executor tests) or a
lookup failure both yield nil, which OnVertexCommitted already treats as
"freshly created".
*/
func catalogVertexBefore(ctx *EvaluationContext, gid store.Gid) *store.VertexData {
	if ctx.Catalog == nil {
		return nil
	}
	vd, err := ctx.Graph.Vertex(ctx.Tx, gid)
	if err != nil {
		return nil
	}
	return vd
}

/*
catalogVertexCommitted re-reads gid's current data and pushes it into the
catalog alongside old, the pre-mutation snapshot catalogVertexBefore took
(nil for a new vertex). A transaction's own writes are visible to itself
(store.insertedVisible), so this is safe to call immediately after each
mutating Graph call rather than waiting for the surrounding transaction
to commit. A nil Catalog is a no-op.
*/
func catalogVertexCommitted(ctx *EvaluationContext, gid store.Gid, old *store.VertexData) {
	if ctx.Catalog == nil {
		return
	}
	vd, err := ctx.Graph.Vertex(ctx.Tx, gid)
	if err != nil {
		return
	}
	ctx.Catalog.OnVertexCommitted(gid, vd, old)
}

/*
catalogVertexRemoved drops gid from the catalog using the snapshot taken
before it was removed from the store. A nil Catalog or nil snapshot is a
no-op.
*/
func catalogVertexRemoved(ctx *EvaluationContext, gid store.Gid, old *store.VertexData) {
	if ctx.Catalog == nil || old == nil {
		return
	}
	ctx.Catalog.OnVertexRemoved(gid, old)
}

/*
createNodeOp creates one new vertex per input row.
*/
type createNodeOp struct {
	input  Operator
	slot   int
	labels []string
	props  map[string]planner.Expr
	syms   *SymbolTable
	ctx    *EvaluationContext
}

func newCreateNodeOp(o planner.CreateNode, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &createNodeOp{input: in, slot: syms.Slot(o.Symbol), labels: o.Labels, props: o.Properties, syms: syms, ctx: ctx}, nil
}

func (c *createNodeOp) Open() error { return c.input.Open() }

func (c *createNodeOp) Pull(row Frame) (bool, error) {
	ok, err := c.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	props, err := evalProps(c.props, row, c.syms, c.ctx)
	if err != nil {
		return false, err
	}
	gid, delta, err := c.ctx.Graph.CreateVertex(c.ctx.Tx, c.labels, props)
	if err != nil {
		return false, err
	}
	if err := c.ctx.emplace(delta); err != nil {
		return false, err
	}
	catalogVertexCommitted(c.ctx, gid, nil)
	row[c.slot] = VertexRef{Addr: addr(c.ctx, gid)}
	return true, nil
}

func (c *createNodeOp) Reset() error { return c.input.Reset() }

/*
createExpandOp creates a new edge (and, if ToSymbol is not already bound
in the row, a new vertex) per input row.
*/
type createExpandOp struct {
	input       Operator
	fromSlot    int
	toSlot      int
	edgeSlot    int
	edgeType    string
	createsNode bool
	nodeLabels  []string
	nodeProps   map[string]planner.Expr
	edgeProps   map[string]planner.Expr
	direction   planner.Direction
	syms        *SymbolTable
	ctx         *EvaluationContext
}

func newCreateExpandOp(o planner.CreateExpand, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &createExpandOp{
		input: in, fromSlot: syms.Slot(o.FromSymbol), toSlot: syms.Slot(o.ToSymbol), edgeSlot: syms.Slot(o.EdgeSymbol),
		edgeType: o.EdgeType, createsNode: o.CreatesNode, nodeLabels: o.NodeLabels, nodeProps: o.NodeProps,
		edgeProps: o.EdgeProps, direction: o.Direction, syms: syms, ctx: ctx,
	}, nil
}

func (c *createExpandOp) Open() error { return c.input.Open() }

func (c *createExpandOp) Pull(row Frame) (bool, error) {
	ok, err := c.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}

	from, ok := row[c.fromSlot].(VertexRef)
	if !ok {
		return false, graphdberr.Wrap(graphdberr.ErrQuery, "CREATE edge: from vertex is unbound")
	}

	var to VertexRef
	if c.createsNode {
		props, err := evalProps(c.nodeProps, row, c.syms, c.ctx)
		if err != nil {
			return false, err
		}
		gid, delta, err := c.ctx.Graph.CreateVertex(c.ctx.Tx, c.nodeLabels, props)
		if err != nil {
			return false, err
		}
		if err := c.ctx.emplace(delta); err != nil {
			return false, err
		}
		catalogVertexCommitted(c.ctx, gid, nil)
		to = VertexRef{Addr: addr(c.ctx, gid)}
		row[c.toSlot] = to
	} else {
		to, ok = row[c.toSlot].(VertexRef)
		if !ok {
			return false, graphdberr.Wrap(graphdberr.ErrQuery, "CREATE edge: to vertex is unbound")
		}
	}

	fromAddr, toAddr := from.Addr, to.Addr
	if c.direction == planner.DirIn {
		fromAddr, toAddr = toAddr, fromAddr
	}

	eprops, err := evalProps(c.edgeProps, row, c.syms, c.ctx)
	if err != nil {
		return false, err
	}
	edgeGid, delta, err := c.ctx.Graph.CreateEdgeRecord(c.ctx.Tx, fromAddr, toAddr, c.edgeType, eprops)
	if err != nil {
		return false, err
	}
	if err := c.ctx.emplace(delta); err != nil {
		return false, err
	}
	edgeAddr := addr(c.ctx, edgeGid)

	outDelta, err := c.ctx.Graph.AddOutEdgeRef(c.ctx.Tx, fromAddr.Gid, store.EdgeRef{Vertex: toAddr, Edge: edgeAddr, Type: c.edgeType})
	if err != nil {
		return false, err
	}
	if err := c.ctx.emplace(outDelta); err != nil {
		return false, err
	}
	inDelta, err := c.ctx.Graph.AddInEdgeRef(c.ctx.Tx, toAddr.Gid, store.EdgeRef{Vertex: fromAddr, Edge: edgeAddr, Type: c.edgeType})
	if err != nil {
		return false, err
	}
	if err := c.ctx.emplace(inDelta); err != nil {
		return false, err
	}

	row[c.edgeSlot] = EdgeRefValue{Addr: edgeAddr, Type: c.edgeType, From: fromAddr, To: toAddr}
	return true, nil
}

func (c *createExpandOp) Reset() error { return c.input.Reset() }

/*
setPropertyOp sets one property on a bound vertex or edge per input row.
*/
type setPropertyOp struct {
	input    Operator
	variable int
	property string
	value    planner.Expr
	syms     *SymbolTable
	ctx      *EvaluationContext
}

func newSetPropertyOp(o planner.SetProperty, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &setPropertyOp{input: in, variable: syms.Slot(o.Variable), property: o.Property, value: o.Value, syms: syms, ctx: ctx}, nil
}

func (s *setPropertyOp) Open() error { return s.input.Open() }

func (s *setPropertyOp) Pull(row Frame) (bool, error) {
	ok, err := s.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	val, err := Eval(s.value, row, s.syms, s.ctx)
	if err != nil {
		return false, err
	}

	switch bound := row[s.variable].(type) {
	case VertexRef:
		old := catalogVertexBefore(s.ctx, bound.Addr.Gid)
		d, err := s.ctx.Graph.SetPropertyVertex(s.ctx.Tx, bound.Addr.Gid, s.property, val)
		if err != nil {
			return false, err
		}
		if err := s.ctx.emplace(d); err != nil {
			return false, err
		}
		catalogVertexCommitted(s.ctx, bound.Addr.Gid, old)
	case EdgeRefValue:
		d, err := s.ctx.Graph.SetPropertyEdge(s.ctx.Tx, bound.Addr.Gid, s.property, val)
		if err != nil {
			return false, err
		}
		if err := s.ctx.emplace(d); err != nil {
			return false, err
		}
	default:
		return false, graphdberr.Wrap(graphdberr.ErrQuery, "SET property on unbound variable")
	}
	return true, nil
}

func (s *setPropertyOp) Reset() error { return s.input.Reset() }

/*
setLabelsOp adds labels to a bound vertex per input row.
*/
type setLabelsOp struct {
	input    Operator
	variable int
	labels   []string
	ctx      *EvaluationContext
}

func newSetLabelsOp(o planner.SetLabels, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &setLabelsOp{input: in, variable: syms.Slot(o.Variable), labels: o.Labels, ctx: ctx}, nil
}

func (s *setLabelsOp) Open() error { return s.input.Open() }

func (s *setLabelsOp) Pull(row Frame) (bool, error) {
	ok, err := s.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	v, ok := row[s.variable].(VertexRef)
	if !ok {
		return false, graphdberr.Wrap(graphdberr.ErrQuery, "SET labels on unbound variable")
	}
	old := catalogVertexBefore(s.ctx, v.Addr.Gid)
	for _, l := range s.labels {
		d, err := s.ctx.Graph.AddVertexLabel(s.ctx.Tx, v.Addr.Gid, l)
		if err != nil {
			return false, err
		}
		if err := s.ctx.emplace(d); err != nil {
			return false, err
		}
	}
	catalogVertexCommitted(s.ctx, v.Addr.Gid, old)
	return true, nil
}

func (s *setLabelsOp) Reset() error { return s.input.Reset() }

/*
removeLabelsOp drops labels from a bound vertex per input row.
*/
type removeLabelsOp struct {
	input    Operator
	variable int
	labels   []string
	ctx      *EvaluationContext
}

func newRemoveLabelsOp(o planner.RemoveLabels, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &removeLabelsOp{input: in, variable: syms.Slot(o.Variable), labels: o.Labels, ctx: ctx}, nil
}

func (r *removeLabelsOp) Open() error { return r.input.Open() }

func (r *removeLabelsOp) Pull(row Frame) (bool, error) {
	ok, err := r.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	v, ok := row[r.variable].(VertexRef)
	if !ok {
		return false, graphdberr.Wrap(graphdberr.ErrQuery, "REMOVE labels on unbound variable")
	}
	old := catalogVertexBefore(r.ctx, v.Addr.Gid)
	for _, l := range r.labels {
		d, err := r.ctx.Graph.RemoveVertexLabel(r.ctx.Tx, v.Addr.Gid, l)
		if err != nil {
			return false, err
		}
		if err := r.ctx.emplace(d); err != nil {
			return false, err
		}
	}
	catalogVertexCommitted(r.ctx, v.Addr.Gid, old)
	return true, nil
}

func (r *removeLabelsOp) Reset() error { return r.input.Reset() }

/*
removePropertyOp clears one property from a bound vertex or edge per
input row, implemented as setting it to nil through
graphaccess.SetPropertyVertex/Edge, which vgdb reuses for both SET and
REMOVE. The key stays in the property map with a nil value; a property
read returns nil for it, the same as for an absent key.
*/
type removePropertyOp struct {
	input    Operator
	variable int
	property string
	ctx      *EvaluationContext
}

func newRemovePropertyOp(o planner.RemoveProperty, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &removePropertyOp{input: in, variable: syms.Slot(o.Variable), property: o.Property, ctx: ctx}, nil
}

func (r *removePropertyOp) Open() error { return r.input.Open() }

func (r *removePropertyOp) Pull(row Frame) (bool, error) {
	ok, err := r.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	switch bound := row[r.variable].(type) {
	case VertexRef:
		old := catalogVertexBefore(r.ctx, bound.Addr.Gid)
		d, err := r.ctx.Graph.SetPropertyVertex(r.ctx.Tx, bound.Addr.Gid, r.property, nil)
		if err != nil {
			return false, err
		}
		if err := r.ctx.emplace(d); err != nil {
			return false, err
		}
		catalogVertexCommitted(r.ctx, bound.Addr.Gid, old)
	case EdgeRefValue:
		d, err := r.ctx.Graph.SetPropertyEdge(r.ctx.Tx, bound.Addr.Gid, r.property, nil)
		if err != nil {
			return false, err
		}
		if err := r.ctx.emplace(d); err != nil {
			return false, err
		}
	default:
		return false, graphdberr.Wrap(graphdberr.ErrQuery, "REMOVE property on unbound variable")
	}
	return true, nil
}

func (r *removePropertyOp) Reset() error { return r.input.Reset() }

/*
deleteOp removes the vertices/edges bound to Variables. Detach removes a
vertex's incident edges first instead of failing with
ErrUnableToDeleteVertex.
*/
type deleteOp struct {
	input     Operator
	variables []int
	detach    bool
	ctx       *EvaluationContext
}

func newDeleteOp(o planner.Delete, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	slots := make([]int, len(o.Variables))
	for i, v := range o.Variables {
		slots[i] = syms.Slot(v)
	}
	return &deleteOp{input: in, variables: slots, detach: o.Detach, ctx: ctx}, nil
}

func (d *deleteOp) Open() error { return d.input.Open() }

func (d *deleteOp) Pull(row Frame) (bool, error) {
	ok, err := d.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	for _, slot := range d.variables {
		switch bound := row[slot].(type) {
		case VertexRef:
			old := catalogVertexBefore(d.ctx, bound.Addr.Gid)
			if d.detach {
				if err := d.detachVertex(bound.Addr); err != nil {
					return false, err
				}
			}
			delta, err := d.ctx.Graph.RemoveVertexRecord(d.ctx.Tx, bound.Addr.Gid, !d.detach)
			if err != nil {
				return false, err
			}
			if err := d.ctx.emplace(delta); err != nil {
				return false, err
			}
			catalogVertexRemoved(d.ctx, bound.Addr.Gid, old)
		case EdgeRefValue:
			if err := d.removeEdge(bound); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

func (d *deleteOp) removeEdge(e EdgeRefValue) error {
	delta, err := d.ctx.Graph.RemoveEdgeRecord(d.ctx.Tx, e.Addr.Gid)
	if err != nil {
		return err
	}
	return d.ctx.emplace(delta)
}

func (d *deleteOp) detachVertex(v store.Address) error {
	vd, err := d.ctx.Graph.Vertex(d.ctx.Tx, v.Gid)
	if err != nil {
		return err
	}
	for _, ref := range append([]store.EdgeRef{}, vd.Out...) {
		if err := d.unlinkEdge(v, ref); err != nil {
			return err
		}
	}
	for _, ref := range append([]store.EdgeRef{}, vd.In...) {
		// An incoming ref is the source vertex's outgoing ref seen from
		// v's side, so unlink it from the source's point of view.
		if err := d.unlinkEdge(ref.Vertex, store.EdgeRef{Vertex: v, Edge: ref.Edge, Type: ref.Type}); err != nil {
			return err
		}
	}
	return nil
}

func (d *deleteOp) unlinkEdge(owner store.Address, ref store.EdgeRef) error {
	outDelta, err := d.ctx.Graph.RemoveOutEdgeRef(d.ctx.Tx, owner.Gid, ref)
	if err == nil {
		err = d.ctx.emplace(outDelta)
	}
	if err != nil {
		return err
	}
	inDelta, err := d.ctx.Graph.RemoveInEdgeRef(d.ctx.Tx, ref.Vertex.Gid, store.EdgeRef{Vertex: owner, Edge: ref.Edge, Type: ref.Type})
	if err == nil {
		err = d.ctx.emplace(inDelta)
	}
	if err != nil {
		return err
	}
	delta, err := d.ctx.Graph.RemoveEdgeRecord(d.ctx.Tx, ref.Edge.Gid)
	if err != nil {
		return err
	}
	return d.ctx.emplace(delta)
}

func (d *deleteOp) Reset() error { return d.input.Reset() }

/*
mergeOp runs Match as a lookup; if it produced no rows, it runs Create
and applies OnCreate, otherwise it applies OnMatch to the rows Match
found (spec §4.4 Merge semantics).
*/
type mergeOp struct {
	input       Operator
	match       Operator
	create      Operator
	onMatch     []planner.SetItem
	onCreate    []planner.SetItem
	syms        *SymbolTable
	ctx         *EvaluationContext
	matchRows   []Frame
	idx         int
	initialized bool
}

func newMergeOp(o planner.Merge, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	match, err := Build(o.Match, syms, ctx)
	if err != nil {
		return nil, err
	}
	create, err := Build(o.Create, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &mergeOp{
		input: in, match: match, create: create, onMatch: o.OnMatch, onCreate: o.OnCreate,
		syms: syms, ctx: ctx,
	}, nil
}

func (m *mergeOp) Open() error {
	m.matchRows = nil
	m.idx = 0
	m.initialized = false
	return m.input.Open()
}

func (m *mergeOp) Pull(row Frame) (bool, error) {
	for {
		if m.initialized {
			if m.idx < len(m.matchRows) {
				copy(row, m.matchRows[m.idx])
				m.idx++
				if err := m.applySet(row, m.onMatch); err != nil {
					return false, err
				}
				return true, nil
			}
			m.initialized = false
			continue
		}

		ok, err := m.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}

		if err := m.match.Open(); err != nil {
			return false, err
		}
		m.matchRows = nil
		for {
			r := row.Clone()
			found, err := m.match.Pull(r)
			if err != nil {
				return false, err
			}
			if !found {
				break
			}
			m.matchRows = append(m.matchRows, r)
		}

		if len(m.matchRows) > 0 {
			m.idx = 0
			m.initialized = true
			continue
		}

		if err := m.create.Open(); err != nil {
			return false, err
		}
		created, err := m.create.Pull(row)
		if err != nil {
			return false, err
		}
		if !created {
			continue
		}
		if err := m.applySet(row, m.onCreate); err != nil {
			return false, err
		}
		return true, nil
	}
}

func (m *mergeOp) applySet(row Frame, items []planner.SetItem) error {
	for _, item := range items {
		slot := m.syms.Slot(item.Variable)
		if len(item.Labels) > 0 {
			if v, ok := row[slot].(VertexRef); ok {
				old := catalogVertexBefore(m.ctx, v.Addr.Gid)
				for _, l := range item.Labels {
					d, err := m.ctx.Graph.AddVertexLabel(m.ctx.Tx, v.Addr.Gid, l)
					if err != nil {
						return err
					}
					if err := m.ctx.emplace(d); err != nil {
						return err
					}
				}
				catalogVertexCommitted(m.ctx, v.Addr.Gid, old)
			}
			continue
		}
		val, err := Eval(item.Value, row, m.syms, m.ctx)
		if err != nil {
			return err
		}
		switch v := row[slot].(type) {
		case VertexRef:
			old := catalogVertexBefore(m.ctx, v.Addr.Gid)
			d, err := m.ctx.Graph.SetPropertyVertex(m.ctx.Tx, v.Addr.Gid, item.Property, val)
			if err != nil {
				return err
			}
			if err := m.ctx.emplace(d); err != nil {
				return err
			}
			catalogVertexCommitted(m.ctx, v.Addr.Gid, old)
		case EdgeRefValue:
			d, err := m.ctx.Graph.SetPropertyEdge(m.ctx.Tx, v.Addr.Gid, item.Property, val)
			if err != nil {
				return err
			}
			if err := m.ctx.emplace(d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *mergeOp) Reset() error {
	m.matchRows = nil
	m.idx = 0
	m.initialized = false
	return m.input.Reset()
}
