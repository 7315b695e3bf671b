/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/planner"
	"github.com/vertexgraph/vgdb/store"
)

/*
formatKey renders a row of evaluated values into a string suitable for
deduplication keys (Distinct, Union). vgdb never needs these keys to be
collision-proof against adversarial input, only stable across repeated
evaluation of the same underlying values.
*/
func formatKey(vals []interface{}) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "\x1f")
}

/*
Operator is the Volcano-style pull interface every lowered logical
operator implements. Open resets internal iteration state and opens
the operator's inputs; Pull writes the next output row's bound slots
into row in place and returns false once exhausted; Reset rewinds the
operator to run again from the top without a fresh Open (used by
Cartesian to re-run its right-hand side once per left row).
*/
type Operator interface {
	Open() error
	Pull(row Frame) (bool, error)
	Reset() error
}

/*
Build lowers a planner.Op tree into a live Operator tree, sharing one
SymbolTable so every planner-assigned variable name resolves to the
same Frame slot the caller's Frame was allocated with.
*/
func Build(op planner.Op, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	switch o := op.(type) {
	case planner.Once:
		return &onceOp{}, nil

	case planner.ScanAll:
		return newScanAllOp(o, syms, ctx)

	case planner.ScanAllByLabel:
		return newScanAllByLabelOp(o, syms, ctx)

	case planner.ScanAllByLabelPropertyValue:
		return newScanAllByLabelPropertyValueOp(o, syms, ctx)

	case planner.ScanAllByLabelPropertyRange:
		return newScanAllByLabelPropertyRangeOp(o, syms, ctx)

	case planner.Expand:
		return newExpandOp(o, syms, ctx)

	case planner.ExpandVariable:
		return newExpandVariableOp(o, syms, ctx)

	case planner.ConstructNamedPath:
		return newConstructNamedPathOp(o, syms, ctx)

	case planner.Filter:
		return newFilterOp(o, syms, ctx)

	case planner.EdgeUniquenessFilter:
		return newEdgeUniquenessFilterOp(o, syms, ctx)

	case planner.Produce:
		return newProduceOp(o, syms, ctx)

	case planner.Aggregate:
		return newAggregateOp(o, syms, ctx)

	case planner.OrderBy:
		return newOrderByOp(o, syms, ctx)

	case planner.Skip:
		return newSkipOp(o, syms, ctx)

	case planner.Limit:
		return newLimitOp(o, syms, ctx)

	case planner.Distinct:
		return newDistinctOp(o, syms, ctx)

	case planner.Unwind:
		return newUnwindOp(o, syms, ctx)

	case planner.CreateNode:
		return newCreateNodeOp(o, syms, ctx)

	case planner.CreateExpand:
		return newCreateExpandOp(o, syms, ctx)

	case planner.SetProperty:
		return newSetPropertyOp(o, syms, ctx)

	case planner.SetLabels:
		return newSetLabelsOp(o, syms, ctx)

	case planner.RemoveProperty:
		return newRemovePropertyOp(o, syms, ctx)

	case planner.RemoveLabels:
		return newRemoveLabelsOp(o, syms, ctx)

	case planner.Delete:
		return newDeleteOp(o, syms, ctx)

	case planner.Merge:
		return newMergeOp(o, syms, ctx)

	case planner.Optional:
		return newOptionalOp(o, syms, ctx)

	case planner.Accumulate:
		return newAccumulateOp(o, syms, ctx)

	case planner.Cartesian:
		return newCartesianOp(o, syms, ctx)

	case planner.Union:
		return newUnionOp(o, syms, ctx)

	default:
		return nil, graphdberr.Wrap(graphdberr.ErrQuery, "executor: no lowering for operator")
	}
}

func buildInput(b planner.Op, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	if b == nil {
		return &onceOp{}, nil
	}
	return Build(b, syms, ctx)
}

/*
onceOp emits exactly one empty row, then reports exhaustion.
*/
type onceOp struct {
	done bool
}

func (o *onceOp) Open() error { o.done = false; return nil }

func (o *onceOp) Pull(row Frame) (bool, error) {
	if o.done {
		return false, nil
	}
	o.done = true
	return true, nil
}

func (o *onceOp) Reset() error { o.done = false; return nil }

/*
filterOp is the executor-side lowering of planner.Filter.
*/
type filterOp struct {
	input     Operator
	predicate planner.Expr
	syms      *SymbolTable
	ctx       *EvaluationContext
}

func newFilterOp(o planner.Filter, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &filterOp{input: in, predicate: o.Predicate, syms: syms, ctx: ctx}, nil
}

func (f *filterOp) Open() error { return f.input.Open() }

func (f *filterOp) Pull(row Frame) (bool, error) {
	for {
		ok, err := f.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		v, err := Eval(f.predicate, row, f.syms, f.ctx)
		if err != nil {
			return false, err
		}
		if Truthy(v) {
			return true, nil
		}
	}
}

func (f *filterOp) Reset() error { return f.input.Reset() }

/*
edgeUniquenessFilterOp drops rows that bind the same edge symbol to an
edge already seen in that row (Cypher's no-repeated-edge rule).
*/
type edgeUniquenessFilterOp struct {
	input Operator
	slots []int
}

func newEdgeUniquenessFilterOp(o planner.EdgeUniquenessFilter, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	slots := make([]int, len(o.EdgeSymbols))
	for i, s := range o.EdgeSymbols {
		slots[i] = syms.Slot(s)
	}
	return &edgeUniquenessFilterOp{input: in, slots: slots}, nil
}

func (e *edgeUniquenessFilterOp) Open() error { return e.input.Open() }

func (e *edgeUniquenessFilterOp) Pull(row Frame) (bool, error) {
	for {
		ok, err := e.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		if e.rowUnique(row) {
			return true, nil
		}
	}
}

func (e *edgeUniquenessFilterOp) rowUnique(row Frame) bool {
	for i := 0; i < len(e.slots); i++ {
		ei, ok1 := row[e.slots[i]].(EdgeRefValue)
		if !ok1 {
			continue
		}
		for j := i + 1; j < len(e.slots); j++ {
			ej, ok2 := row[e.slots[j]].(EdgeRefValue)
			if ok2 && ei.Addr == ej.Addr {
				return false
			}
		}
	}
	return true
}

func (e *edgeUniquenessFilterOp) Reset() error { return e.input.Reset() }

/*
produceOp projects Items into the row's output slots, matching Cypher's
RETURN/WITH shape.
*/
type produceOp struct {
	input Operator
	items []planner.ProjectionItem
	syms  *SymbolTable
	ctx   *EvaluationContext
}

func newProduceOp(o planner.Produce, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range o.Items {
		syms.Slot(item.As)
	}
	return &produceOp{input: in, items: o.Items, syms: syms, ctx: ctx}, nil
}

func (p *produceOp) Open() error { return p.input.Open() }

func (p *produceOp) Pull(row Frame) (bool, error) {
	ok, err := p.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	for _, item := range p.items {
		v, err := Eval(item.Expr, row, p.syms, p.ctx)
		if err != nil {
			return false, err
		}
		row[p.syms.Slot(item.As)] = v
	}
	return true, nil
}

func (p *produceOp) Reset() error { return p.input.Reset() }

/*
skipOp drops the first Count rows of its input.
*/
type skipOp struct {
	input   Operator
	countEx planner.Expr
	syms    *SymbolTable
	ctx     *EvaluationContext
	skipped int64
	target  int64
	started bool
}

func newSkipOp(o planner.Skip, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &skipOp{input: in, countEx: o.Count, syms: syms, ctx: ctx}, nil
}

func (s *skipOp) Open() error {
	s.skipped = 0
	s.started = false
	return s.input.Open()
}

func (s *skipOp) resolveTarget(row Frame) error {
	if s.started {
		return nil
	}
	v, err := Eval(s.countEx, row, s.syms, s.ctx)
	if err != nil {
		return err
	}
	n, _ := v.(int64)
	s.target = n
	s.started = true
	return nil
}

func (s *skipOp) Pull(row Frame) (bool, error) {
	for {
		ok, err := s.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		if err := s.resolveTarget(row); err != nil {
			return false, err
		}
		if s.skipped < s.target {
			s.skipped++
			continue
		}
		return true, nil
	}
}

func (s *skipOp) Reset() error {
	s.skipped = 0
	s.started = false
	return s.input.Reset()
}

/*
limitOp emits at most Count rows of its input.
*/
type limitOp struct {
	input   Operator
	countEx planner.Expr
	syms    *SymbolTable
	ctx     *EvaluationContext
	emitted int64
	target  int64
	started bool
}

func newLimitOp(o planner.Limit, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &limitOp{input: in, countEx: o.Count, syms: syms, ctx: ctx}, nil
}

func (l *limitOp) Open() error {
	l.emitted = 0
	l.started = false
	return l.input.Open()
}

func (l *limitOp) Pull(row Frame) (bool, error) {
	if l.started && l.emitted >= l.target {
		return false, nil
	}
	ok, err := l.input.Pull(row)
	if err != nil || !ok {
		return ok, err
	}
	if !l.started {
		v, err := Eval(l.countEx, row, l.syms, l.ctx)
		if err != nil {
			return false, err
		}
		n, _ := v.(int64)
		l.target = n
		l.started = true
		if l.target <= 0 {
			return false, nil
		}
	}
	l.emitted++
	return true, nil
}

func (l *limitOp) Reset() error {
	l.emitted = 0
	l.started = false
	return l.input.Reset()
}

/*
distinctOp suppresses rows whose projected Items equal a row already
emitted.
*/
type distinctOp struct {
	input Operator
	items []planner.Expr
	syms  *SymbolTable
	ctx   *EvaluationContext
	seen  map[string]struct{}
}

func newDistinctOp(o planner.Distinct, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &distinctOp{input: in, items: o.Items, syms: syms, ctx: ctx, seen: make(map[string]struct{})}, nil
}

func (d *distinctOp) Open() error {
	d.seen = make(map[string]struct{})
	return d.input.Open()
}

func (d *distinctOp) Pull(row Frame) (bool, error) {
	for {
		ok, err := d.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		key, err := d.key(row)
		if err != nil {
			return false, err
		}
		if _, dup := d.seen[key]; dup {
			continue
		}
		d.seen[key] = struct{}{}
		return true, nil
	}
}

func (d *distinctOp) key(row Frame) (string, error) {
	parts := make([]interface{}, len(d.items))
	for i, it := range d.items {
		v, err := Eval(it, row, d.syms, d.ctx)
		if err != nil {
			return "", err
		}
		parts[i] = v
	}
	return formatKey(parts), nil
}

func (d *distinctOp) Reset() error {
	d.seen = make(map[string]struct{})
	return d.input.Reset()
}

/*
unwindOp expands a list-valued expression into one row per element.
*/
type unwindOp struct {
	input Operator
	list  planner.Expr
	slot  int
	syms  *SymbolTable
	ctx   *EvaluationContext
	items []interface{}
	idx   int
}

func newUnwindOp(o planner.Unwind, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &unwindOp{input: in, list: o.List, slot: syms.Slot(o.Symbol), syms: syms, ctx: ctx}, nil
}

func (u *unwindOp) Open() error {
	u.items = nil
	u.idx = 0
	return u.input.Open()
}

func (u *unwindOp) Pull(row Frame) (bool, error) {
	for {
		if u.idx < len(u.items) {
			row[u.slot] = u.items[u.idx]
			u.idx++
			return true, nil
		}
		ok, err := u.input.Pull(row)
		if err != nil || !ok {
			return ok, err
		}
		v, err := Eval(u.list, row, u.syms, u.ctx)
		if err != nil {
			return false, err
		}
		list, _ := v.([]interface{})
		u.items = list
		u.idx = 0
	}
}

func (u *unwindOp) Reset() error {
	u.items = nil
	u.idx = 0
	return u.input.Reset()
}

/*
accumulateOp fully drains its input before emitting anything upward,
isolating a preceding write clause from a following read (spec
§4.4/§4.5): once drained, every stored row is streamed out in order.
*/
type accumulateOp struct {
	input Operator
	rows  []Frame
	idx   int
	syms  *SymbolTable
}

func newAccumulateOp(o planner.Accumulate, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &accumulateOp{input: in, syms: syms}, nil
}

func (a *accumulateOp) Open() error {
	if err := a.input.Open(); err != nil {
		return err
	}
	a.rows = nil
	a.idx = 0
	for {
		row := NewFrame(a.syms.Width())
		ok, err := a.input.Pull(row)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		a.rows = append(a.rows, row)
	}
	return nil
}

func (a *accumulateOp) Pull(row Frame) (bool, error) {
	if a.idx >= len(a.rows) {
		return false, nil
	}
	copy(row, a.rows[a.idx])
	a.idx++
	return true, nil
}

func (a *accumulateOp) Reset() error {
	a.idx = 0
	return nil
}

/*
cartesianOp crosses two independent subplans.
*/
type cartesianOp struct {
	left, right Operator
	syms        *SymbolTable
	leftRow     Frame
	started     bool
}

func newCartesianOp(o planner.Cartesian, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	left, err := Build(o.Left, syms, ctx)
	if err != nil {
		return nil, err
	}
	right, err := Build(o.Right, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &cartesianOp{left: left, right: right, syms: syms}, nil
}

func (c *cartesianOp) Open() error {
	c.started = false
	if err := c.left.Open(); err != nil {
		return err
	}
	return c.right.Open()
}

func (c *cartesianOp) Pull(row Frame) (bool, error) {
	for {
		if !c.started {
			c.leftRow = NewFrame(c.syms.Width())
			ok, err := c.left.Pull(c.leftRow)
			if err != nil || !ok {
				return ok, err
			}
			c.started = true
			if err := c.right.Reset(); err != nil {
				return false, err
			}
		}
		copy(row, c.leftRow)
		ok, err := c.right.Pull(row)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		c.started = false
	}
}

func (c *cartesianOp) Reset() error {
	c.started = false
	return c.left.Reset()
}

/*
unionOp concatenates the results of independent branches, deduplicating
rows unless All is set.
*/
type unionOp struct {
	branches []Operator
	all      bool
	idx      int
	seen     map[string]struct{}
}

func newUnionOp(o planner.Union, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	ops := make([]Operator, len(o.Branches))
	for i, b := range o.Branches {
		op, err := Build(b, syms, ctx)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return &unionOp{branches: ops, all: o.All}, nil
}

func (u *unionOp) Open() error {
	u.idx = 0
	u.seen = make(map[string]struct{})
	if len(u.branches) == 0 {
		return nil
	}
	return u.branches[0].Open()
}

func (u *unionOp) Pull(row Frame) (bool, error) {
	for u.idx < len(u.branches) {
		ok, err := u.branches[u.idx].Pull(row)
		if err != nil {
			return false, err
		}
		if !ok {
			u.idx++
			if u.idx < len(u.branches) {
				if err := u.branches[u.idx].Open(); err != nil {
					return false, err
				}
			}
			continue
		}
		if u.all {
			return true, nil
		}
		vals := make([]interface{}, len(row))
		for i, v := range row {
			vals[i] = v
		}
		key := formatKey(vals)
		if _, dup := u.seen[key]; dup {
			continue
		}
		u.seen[key] = struct{}{}
		return true, nil
	}
	return false, nil
}

func (u *unionOp) Reset() error {
	u.idx = 0
	u.seen = make(map[string]struct{})
	if len(u.branches) == 0 {
		return nil
	}
	return u.branches[0].Reset()
}

/*
optionalOp passes every input row through Input; rows that yield
nothing still produce exactly one row with Symbols left unbound (nil),
matching Cypher's OPTIONAL MATCH.
*/
type optionalOp struct {
	input    Operator
	slots    []int
	produced bool
}

func newOptionalOp(o planner.Optional, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	slots := make([]int, len(o.Symbols))
	for i, s := range o.Symbols {
		slots[i] = syms.Slot(s)
	}
	return &optionalOp{input: in, slots: slots}, nil
}

func (o *optionalOp) Open() error {
	o.produced = false
	return o.input.Open()
}

func (o *optionalOp) Pull(row Frame) (bool, error) {
	ok, err := o.input.Pull(row)
	if err != nil {
		return false, err
	}
	if ok {
		o.produced = true
		return true, nil
	}
	if !o.produced {
		o.produced = true
		for _, s := range o.slots {
			row[s] = nil
		}
		return true, nil
	}
	return false, nil
}

func (o *optionalOp) Reset() error {
	o.produced = false
	return o.input.Reset()
}

/*
sortRows sorts rows stably by items, used by orderByOp.
*/
func sortRows(rows []Frame, items []planner.OrderItem, syms *SymbolTable, ctx *EvaluationContext) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		for _, it := range items {
			vi, err := Eval(it.Expr, rows[i], syms, ctx)
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := Eval(it.Expr, rows[j], syms, ctx)
			if err != nil {
				sortErr = err
				return false
			}
			c, ok := store.Compare(vi, vj)
			if !ok {
				continue
			}
			if c == 0 {
				continue
			}
			if it.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}
