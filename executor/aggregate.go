/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package executor

import (
	"github.com/vertexgraph/vgdb/planner"
	"github.com/vertexgraph/vgdb/store"
)

/*
aggregateGroup accumulates the running state for one GROUP BY bucket.
*/
type aggregateGroup struct {
	row      Frame
	count    map[int]int64
	sum      map[int]float64
	min      map[int]interface{}
	max      map[int]interface{}
	collect  map[int][]interface{}
	anyCount int64
}

/*
aggregateOp groups input rows by GroupBy and computes Items per group,
fully draining its input before emitting anything (aggregation is
inherently a blocking operator in this executor's Volcano model).
*/
type aggregateOp struct {
	input   Operator
	groupBy []planner.Expr
	items   []planner.AggregateItem
	syms    *SymbolTable
	ctx     *EvaluationContext

	order  []string
	groups map[string]*aggregateGroup
	emit   []string
	idx    int
}

func newAggregateOp(o planner.Aggregate, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range o.Items {
		syms.Slot(item.As)
	}
	return &aggregateOp{input: in, groupBy: o.GroupBy, items: o.Items, syms: syms, ctx: ctx}, nil
}

func (a *aggregateOp) Open() error {
	if err := a.input.Open(); err != nil {
		return err
	}
	a.groups = make(map[string]*aggregateGroup)
	a.order = nil
	a.idx = 0

	row := NewFrame(a.syms.Width())
	for {
		ok, err := a.input.Pull(row)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := a.accumulate(row); err != nil {
			return err
		}
	}
	a.emit = a.order
	return nil
}

func (a *aggregateOp) accumulate(row Frame) error {
	keyVals := make([]interface{}, len(a.groupBy))
	for i, g := range a.groupBy {
		v, err := Eval(g, row, a.syms, a.ctx)
		if err != nil {
			return err
		}
		keyVals[i] = v
	}
	key := formatKey(keyVals)

	g, ok := a.groups[key]
	if !ok {
		g = &aggregateGroup{
			row:     row.Clone(),
			count:   make(map[int]int64),
			sum:     make(map[int]float64),
			min:     make(map[int]interface{}),
			max:     make(map[int]interface{}),
			collect: make(map[int][]interface{}),
		}
		a.groups[key] = g
		a.order = append(a.order, key)
	}
	g.anyCount++

	for i, item := range a.items {
		var v interface{}
		var err error
		if item.Arg != nil {
			v, err = Eval(item.Arg, row, a.syms, a.ctx)
			if err != nil {
				return err
			}
		}
		switch item.Func {
		case "count":
			if item.Arg == nil || v != nil {
				g.count[i]++
			}
		case "sum":
			if f, ok := toFloat(v); ok {
				g.sum[i] += f
			}
		case "avg":
			if f, ok := toFloat(v); ok {
				g.sum[i] += f
				g.count[i]++
			}
		case "min":
			if v != nil {
				if cur, ok := g.min[i]; !ok {
					g.min[i] = v
				} else if c, comparable := store.Compare(v, cur); comparable && c < 0 {
					g.min[i] = v
				}
			}
		case "max":
			if v != nil {
				if cur, ok := g.max[i]; !ok {
					g.max[i] = v
				} else if c, comparable := store.Compare(v, cur); comparable && c > 0 {
					g.max[i] = v
				}
			}
		case "collect":
			g.collect[i] = append(g.collect[i], v)
		}
	}
	return nil
}

func (a *aggregateOp) Pull(row Frame) (bool, error) {
	if a.idx >= len(a.emit) {
		return false, nil
	}
	key := a.emit[a.idx]
	a.idx++
	g := a.groups[key]
	copy(row, g.row)

	for i, item := range a.items {
		slot := a.syms.Slot(item.As)
		switch item.Func {
		case "count":
			row[slot] = g.count[i]
		case "sum":
			row[slot] = g.sum[i]
		case "avg":
			if g.count[i] == 0 {
				row[slot] = nil
			} else {
				row[slot] = g.sum[i] / float64(g.count[i])
			}
		case "min":
			row[slot] = g.min[i]
		case "max":
			row[slot] = g.max[i]
		case "collect":
			row[slot] = g.collect[i]
		}
	}
	return true, nil
}

func (a *aggregateOp) Reset() error {
	a.idx = 0
	a.emit = a.order
	return nil
}

/*
orderByOp fully materializes its input, sorts it by Items, and streams
it back out - Cypher's ORDER BY requires seeing every row before it can
emit the first one.
*/
type orderByOp struct {
	input Operator
	items []planner.OrderItem
	syms  *SymbolTable
	ctx   *EvaluationContext
	rows  []Frame
	idx   int
}

func newOrderByOp(o planner.OrderBy, syms *SymbolTable, ctx *EvaluationContext) (Operator, error) {
	in, err := buildInput(o.Input, syms, ctx)
	if err != nil {
		return nil, err
	}
	return &orderByOp{input: in, items: o.Items, syms: syms, ctx: ctx}, nil
}

func (o *orderByOp) Open() error {
	if err := o.input.Open(); err != nil {
		return err
	}
	o.rows = nil
	o.idx = 0
	for {
		row := NewFrame(o.syms.Width())
		ok, err := o.input.Pull(row)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		o.rows = append(o.rows, row)
	}
	return sortRows(o.rows, o.items, o.syms, o.ctx)
}

func (o *orderByOp) Pull(row Frame) (bool, error) {
	if o.idx >= len(o.rows) {
		return false, nil
	}
	copy(row, o.rows[o.idx])
	o.idx++
	return true, nil
}

func (o *orderByOp) Reset() error {
	o.idx = 0
	return nil
}
