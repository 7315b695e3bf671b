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
	"github.com/vertexgraph/vgdb/store/index"
)

func addr(ctx *EvaluationContext, gid store.Gid) store.Address {
	return store.Address{Worker: ctx.Graph.Store.Worker(), Gid: gid}
}

/*
scanAllOp emits every vertex in the graph, bound to Symbol, once per
input row (spec §4.4 table: leaf scan driven under an outer Once in the
common case, or per-row when nested under a join).
*/
type scanAllOp struct {
	input Operator
	slot  int
	ctx   *EvaluationContext
	gids  []store.Gid
	idx   int
}

func newScanAllOp(o planner.ScanAll, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &scanAllOp{input: in, slot: syms.Slot(o.Symbol), ctx: ctx}, nil
}

func (s *scanAllOp) Open() error {
	s.gids = nil
	s.idx = 0
	return s.input.Open()
}

func (s *scanAllOp) Pull(row Frame) (bool, error) {
	for {
		if s.idx < len(s.gids) {
			row[s.slot] = VertexRef{Addr: addr(s.ctx, s.gids[s.idx])}
			s.idx++
			return true, nil
		}
		ok, err := s.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		accs := s.ctx.Graph.Store.Scan(s.ctx.Tx, store.KindVertex)
		s.gids = s.gids[:0]
		for _, acc := range accs {
			s.gids = append(s.gids, acc.Gid)
		}
		s.idx = 0
	}
}

func (s *scanAllOp) Reset() error {
	s.gids = nil
	s.idx = 0
	return s.input.Reset()
}

/*
scanAllByLabelOp emits vertices carrying Label, consulting the catalog's
label index rather than a full scan (spec §4.3/§4.4).
*/
type scanAllByLabelOp struct {
	input Operator
	slot  int
	label string
	ctx   *EvaluationContext
	gids  []store.Gid
	idx   int
}

func newScanAllByLabelOp(o planner.ScanAllByLabel, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &scanAllByLabelOp{input: in, slot: syms.Slot(o.Symbol), label: o.Label, ctx: ctx}, nil
}

func (s *scanAllByLabelOp) Open() error {
	s.gids = nil
	s.idx = 0
	return s.input.Open()
}

func (s *scanAllByLabelOp) Pull(row Frame) (bool, error) {
	for {
		for s.idx < len(s.gids) {
			gid := s.gids[s.idx]
			s.idx++
			if _, err := s.ctx.Graph.Vertex(s.ctx.Tx, gid); err != nil {
				continue
			}
			row[s.slot] = VertexRef{Addr: addr(s.ctx, gid)}
			return true, nil
		}
		ok, err := s.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		s.gids = s.ctx.Catalog.LabelIndex().Vertices(s.label)
		s.idx = 0
	}
}

func (s *scanAllByLabelOp) Reset() error {
	s.gids = nil
	s.idx = 0
	return s.input.Reset()
}

/*
scanAllByLabelPropertyValueOp emits vertices with Label whose Property
equals Value, backed by the matching LabelPropertyIndex's point lookup.
*/
type scanAllByLabelPropertyValueOp struct {
	input    Operator
	slot     int
	label    string
	property string
	value    planner.Expr
	syms     *SymbolTable
	ctx      *EvaluationContext
	gids     []store.Gid
	idx      int
}

func newScanAllByLabelPropertyValueOp(o planner.ScanAllByLabelPropertyValue, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &scanAllByLabelPropertyValueOp{
		input: in, slot: syms.Slot(o.Symbol), label: o.Label, property: o.Property,
		value: o.Value, syms: syms, ctx: ctx,
	}, nil
}

func (s *scanAllByLabelPropertyValueOp) Open() error {
	s.gids = nil
	s.idx = 0
	return s.input.Open()
}

func (s *scanAllByLabelPropertyValueOp) idxFor() *index.LabelPropertyIndex {
	return s.ctx.Catalog.LabelProperty(s.label, s.property)
}

func (s *scanAllByLabelPropertyValueOp) Pull(row Frame) (bool, error) {
	for {
		for s.idx < len(s.gids) {
			gid := s.gids[s.idx]
			s.idx++
			if _, err := s.ctx.Graph.Vertex(s.ctx.Tx, gid); err != nil {
				continue
			}
			row[s.slot] = VertexRef{Addr: addr(s.ctx, gid)}
			return true, nil
		}
		ok, err := s.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		val, err := Eval(s.value, row, s.syms, s.ctx)
		if err != nil {
			return false, err
		}
		idx := s.idxFor()
		if idx == nil {
			return false, graphdberr.Wrap(graphdberr.ErrQuery, "no index for "+s.label+"."+s.property)
		}
		s.gids = idx.PointLookup(val)
		s.idx = 0
	}
}

func (s *scanAllByLabelPropertyValueOp) Reset() error {
	s.gids = nil
	s.idx = 0
	return s.input.Reset()
}

/*
scanAllByLabelPropertyRangeOp emits vertices with Label whose Property
falls within [Lower, Upper].
*/
type scanAllByLabelPropertyRangeOp struct {
	input          Operator
	slot           int
	label          string
	property       string
	lower, upper   planner.Expr
	lowerInclusive bool
	upperInclusive bool
	syms           *SymbolTable
	ctx            *EvaluationContext
	gids           []store.Gid
	idx            int
}

func newScanAllByLabelPropertyRangeOp(o planner.ScanAllByLabelPropertyRange, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &scanAllByLabelPropertyRangeOp{
		input: in, slot: syms.Slot(o.Symbol), label: o.Label, property: o.Property,
		lower: o.Lower, upper: o.Upper, lowerInclusive: o.LowerInclusive, upperInclusive: o.UpperInclusive,
		syms: syms, ctx: ctx,
	}, nil
}

func (s *scanAllByLabelPropertyRangeOp) Open() error {
	s.gids = nil
	s.idx = 0
	return s.input.Open()
}

func (s *scanAllByLabelPropertyRangeOp) Pull(row Frame) (bool, error) {
	for {
		for s.idx < len(s.gids) {
			gid := s.gids[s.idx]
			s.idx++
			if _, err := s.ctx.Graph.Vertex(s.ctx.Tx, gid); err != nil {
				continue
			}
			row[s.slot] = VertexRef{Addr: addr(s.ctx, gid)}
			return true, nil
		}
		ok, err := s.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		idx := s.ctx.Catalog.LabelProperty(s.label, s.property)
		if idx == nil {
			return false, graphdberr.Wrap(graphdberr.ErrQuery, "no index for "+s.label+"."+s.property)
		}
		var lo, hi *index.Bound
		if s.lower != nil {
			v, err := Eval(s.lower, row, s.syms, s.ctx)
			if err != nil {
				return false, err
			}
			lo = &index.Bound{Value: v, Inclusive: s.lowerInclusive}
		}
		if s.upper != nil {
			v, err := Eval(s.upper, row, s.syms, s.ctx)
			if err != nil {
				return false, err
			}
			hi = &index.Bound{Value: v, Inclusive: s.upperInclusive}
		}
		s.gids = idx.RangeScan(lo, hi)
		s.idx = 0
	}
}

func (s *scanAllByLabelPropertyRangeOp) Reset() error {
	s.gids = nil
	s.idx = 0
	return s.input.Reset()
}

/*
expandOp emits, for each input row's bound vertex InputSymbol, one row
per incident edge matching Types/Direction, binding the neighbor to
Symbol and the edge to EdgeSymbol.
*/
type expandOp struct {
	input      Operator
	inputSlot  int
	slot       int
	edgeSlot   int
	types      map[string]bool
	direction  planner.Direction
	ctx        *EvaluationContext
	candidates []store.EdgeRef
	idx        int
}

func newExpandOp(o planner.Expand, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	var types map[string]bool
	if len(o.Types) > 0 {
		types = make(map[string]bool, len(o.Types))
		for _, t := range o.Types {
			types[t] = true
		}
	}
	return &expandOp{
		input: in, inputSlot: syms.Slot(o.InputSymbol), slot: syms.Slot(o.Symbol),
		edgeSlot: syms.Slot(o.EdgeSymbol), types: types, direction: o.Direction, ctx: ctx,
	}, nil
}

func (e *expandOp) Open() error {
	e.candidates = nil
	e.idx = 0
	return e.input.Open()
}

func (e *expandOp) matches(t string) bool {
	return e.types == nil || e.types[t]
}

func (e *expandOp) Pull(row Frame) (bool, error) {
	for {
		for e.idx < len(e.candidates) {
			ref := e.candidates[e.idx]
			e.idx++
			if !e.matches(ref.Type) {
				continue
			}
			row[e.slot] = VertexRef{Addr: ref.Vertex}
			row[e.edgeSlot] = EdgeRefValue{Addr: ref.Edge, Type: ref.Type}
			return true, nil
		}
		ok, err := e.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		v, ok2 := row[e.inputSlot].(VertexRef)
		if !ok2 {
			e.candidates = nil
			continue
		}
		vd, err := e.ctx.Graph.Vertex(e.ctx.Tx, v.Addr.Gid)
		if err != nil {
			e.candidates = nil
			continue
		}
		e.candidates = e.rawEdges(vd)
		e.idx = 0
	}
}

func (e *expandOp) rawEdges(vd *store.VertexData) []store.EdgeRef {
	var out []store.EdgeRef
	if e.direction == planner.DirOut || e.direction == planner.DirBoth {
		out = append(out, vd.Out...)
	}
	if e.direction == planner.DirIn || e.direction == planner.DirBoth {
		out = append(out, vd.In...)
	}
	return out
}

func (e *expandOp) Reset() error {
	e.candidates = nil
	e.idx = 0
	return e.input.Reset()
}

/*
expandVariableOp generalizes Expand to a hop-count range
[MinHops, MaxHops] (MaxHops < 0 means unbounded), materializing the
traversed path into PathSymbol when set. BFS is used for
Direction == DirBoth (spec's "breadth-first per type" note for
undirected traversal); DFS otherwise.
*/
type expandVariableOp struct {
	input       Operator
	inputSlot   int
	slot        int
	edgeSlot    int
	pathSlot    int
	hasPathSlot bool
	types       map[string]bool
	direction   planner.Direction
	minHops     int
	maxHops     int
	ctx         *EvaluationContext
	results     []pathResult
	idx         int
}

type pathResult struct {
	vertex store.Address
	edge   store.EdgeRef
	path   []FrameValue
}

func newExpandVariableOp(o planner.ExpandVariable, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	var types map[string]bool
	if len(o.Types) > 0 {
		types = make(map[string]bool, len(o.Types))
		for _, t := range o.Types {
			types[t] = true
		}
	}
	op := &expandVariableOp{
		input: in, inputSlot: syms.Slot(o.InputSymbol), slot: syms.Slot(o.Symbol),
		edgeSlot: syms.Slot(o.EdgeSymbol), types: types, direction: o.Direction,
		minHops: o.MinHops, maxHops: o.MaxHops, ctx: ctx,
	}
	if o.PathSymbol != "" {
		op.hasPathSlot = true
		op.pathSlot = syms.Slot(o.PathSymbol)
	}
	return op, nil
}

func (e *expandVariableOp) Open() error {
	e.results = nil
	e.idx = 0
	return e.input.Open()
}

func (e *expandVariableOp) matches(t string) bool {
	return e.types == nil || e.types[t]
}

func (e *expandVariableOp) neighbors(gid store.Gid) []store.EdgeRef {
	vd, err := e.ctx.Graph.Vertex(e.ctx.Tx, gid)
	if err != nil {
		return nil
	}
	var out []store.EdgeRef
	if e.direction == planner.DirOut || e.direction == planner.DirBoth {
		out = append(out, vd.Out...)
	}
	if e.direction == planner.DirIn || e.direction == planner.DirBoth {
		out = append(out, vd.In...)
	}
	return out
}

/*
walk enumerates every path from start whose hop count lies in
[minHops, maxHops] (unbounded above when maxHops < 0), using BFS for
DirBoth and DFS otherwise, matching the spec's note that undirected
variable-length expansion explores breadth-first per type.
*/
func (e *expandVariableOp) walk(start store.Address) []pathResult {
	type frame struct {
		vertex store.Address
		path   []FrameValue
		depth  int
	}
	var out []pathResult
	visitEdge := func(f frame, ref store.EdgeRef) frame {
		p := append(append([]FrameValue{}, f.path...), EdgeRefValue{Addr: ref.Edge, Type: ref.Type}, VertexRef{Addr: ref.Vertex})
		return frame{vertex: ref.Vertex, path: p, depth: f.depth + 1}
	}

	if e.direction == planner.DirBoth {
		queue := []frame{{vertex: start, path: []FrameValue{VertexRef{Addr: start}}, depth: 0}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur.depth >= e.minHops && cur.depth > 0 {
				last := cur.path[len(cur.path)-2].(EdgeRefValue)
				out = append(out, pathResult{vertex: cur.vertex, edge: store.EdgeRef{Vertex: cur.vertex, Edge: last.Addr, Type: last.Type}, path: cur.path})
			}
			if e.maxHops >= 0 && cur.depth >= e.maxHops {
				continue
			}
			for _, ref := range e.neighbors(cur.vertex.Gid) {
				if !e.matches(ref.Type) {
					continue
				}
				queue = append(queue, visitEdge(cur, ref))
			}
		}
		return out
	}

	var dfs func(f frame)
	dfs = func(f frame) {
		if f.depth >= e.minHops && f.depth > 0 {
			last := f.path[len(f.path)-2].(EdgeRefValue)
			out = append(out, pathResult{vertex: f.vertex, edge: store.EdgeRef{Vertex: f.vertex, Edge: last.Addr, Type: last.Type}, path: f.path})
		}
		if e.maxHops >= 0 && f.depth >= e.maxHops {
			return
		}
		for _, ref := range e.neighbors(f.vertex.Gid) {
			if !e.matches(ref.Type) {
				continue
			}
			dfs(visitEdge(f, ref))
		}
	}
	dfs(frame{vertex: start, path: []FrameValue{VertexRef{Addr: start}}, depth: 0})
	return out
}

func (e *expandVariableOp) Pull(row Frame) (bool, error) {
	for {
		if e.idx < len(e.results) {
			r := e.results[e.idx]
			e.idx++
			row[e.slot] = VertexRef{Addr: r.vertex}
			row[e.edgeSlot] = EdgeRefValue{Addr: r.edge.Edge, Type: r.edge.Type}
			if e.hasPathSlot {
				row[e.pathSlot] = PathValue{Elements: r.path}
			}
			return true, nil
		}
		ok, err := e.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		v, ok2 := row[e.inputSlot].(VertexRef)
		if !ok2 {
			e.results = nil
			continue
		}
		e.results = e.walk(v.Addr)
		e.idx = 0
	}
}

func (e *expandVariableOp) Reset() error {
	e.results = nil
	e.idx = 0
	return e.input.Reset()
}

/*
constructNamedPathOp materializes the path bound by a preceding
Expand chain into Symbol, for patterns with a fixed (non
variable-length) path variable.
*/
type constructNamedPathOp struct {
	input    Operator
	slot     int
	elements []int
}

func newConstructNamedPathOp(o planner.ConstructNamedPath, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	slots := make([]int, len(o.Elements))
	for i, s := range o.Elements {
		slots[i] = syms.Slot(s)
	}
	return &constructNamedPathOp{input: in, slot: syms.Slot(o.Symbol), elements: slots}, nil
}

func (c *constructNamedPathOp) Open() error { return c.input.Open() }

func (c *constructNamedPathOp) Pull(row Frame) (bool, error) {
	ok, err := c.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	elems := make([]FrameValue, len(c.elements))
	for i, slot := range c.elements {
		elems[i] = row[slot]
	}
	row[c.slot] = PathValue{Elements: elems}
	return true, nil
}

func (c *constructNamedPathOp) Reset() error { return c.input.Reset() }
