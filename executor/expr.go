/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/vertexgraph/vgdb/graphaccess"
	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/planner"
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/store/index"
	"github.com/vertexgraph/vgdb/txn"
	"github.com/vertexgraph/vgdb/wal"
)

/*
EvaluationContext is everything an expression needs besides the row
itself: the query's fixed timestamp, bound parameters, and the graph
accessor for resolving a bound vertex/edge's current properties
(spec §4.5: "Expressions are evaluated against the frame plus an
EvaluationContext").
*/
type EvaluationContext struct {
	Now     time.Time
	Params  map[string]store.Value
	Graph   *graphaccess.Graph
	Tx      *txn.Transaction
	Catalog *index.Catalog
	WAL     *wal.WAL
}

/*
emplace forwards d to the WAL if one is configured, matching spec §4.6's
contract that every delta is pushed to the log as soon as it is
produced, not just at commit time. A nil WAL (tests building an
executor without durability) is a no-op.
*/
func (ctx *EvaluationContext) emplace(d graphaccess.StateDelta) error {
	if ctx.WAL == nil {
		return nil
	}
	return ctx.WAL.Emplace(d)
}

/*
Eval evaluates e against row using syms to resolve variable names to
slots. The property/label id tables spec §4.5 mentions are just the
name strings themselves here - vgdb never interns them, since nothing
in this core crosses a process boundary where interning would pay for
itself.
*/
func Eval(e planner.Expr, row Frame, syms *SymbolTable, ctx *EvaluationContext) (interface{}, error) {
	switch ex := e.(type) {
	case nil:
		return nil, nil

	case planner.Literal:
		return ex.Value, nil

	case planner.ListLiteral:
		out := make([]interface{}, len(ex.Items))
		for i, item := range ex.Items {
			v, err := Eval(item, row, syms, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case planner.Param:
		v, ok := ctx.Params[ex.Name]
		if !ok {
			return nil, graphdberr.Wrap(graphdberr.ErrQuery, "unbound parameter $"+ex.Name)
		}
		return v, nil

	case planner.VarRef:
		return row[syms.Slot(ex.Name)], nil

	case planner.PropertyRef:
		return evalPropertyRef(ex, row, syms, ctx)

	case planner.LabelCheck:
		return evalLabelCheck(ex, row, syms, ctx)

	case planner.UnaryOp:
		return evalUnary(ex, row, syms, ctx)

	case planner.BinaryOp:
		return evalBinary(ex, row, syms, ctx)

	case planner.FunctionCall:
		return evalFunction(ex, row, syms, ctx)

	default:
		return nil, graphdberr.Wrap(graphdberr.ErrQuery, fmt.Sprintf("unsupported expression %T", e))
	}
}

func evalPropertyRef(ex planner.PropertyRef, row Frame, syms *SymbolTable, ctx *EvaluationContext) (interface{}, error) {
	bound := row[syms.Slot(ex.Variable)]
	switch v := bound.(type) {
	case nil:
		return nil, nil
	case VertexRef:
		vd, err := ctx.Graph.Vertex(ctx.Tx, v.Addr.Gid)
		if err != nil {
			if errors.Is(err, graphdberr.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return vd.Properties[ex.Property], nil
	case EdgeRefValue:
		ed, err := ctx.Graph.Edge(ctx.Tx, v.Addr.Gid)
		if err != nil {
			if errors.Is(err, graphdberr.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return ed.Properties[ex.Property], nil
	default:
		return nil, graphdberr.Wrap(graphdberr.ErrQuery, "property access on non-graph value")
	}
}

func evalLabelCheck(ex planner.LabelCheck, row Frame, syms *SymbolTable, ctx *EvaluationContext) (interface{}, error) {
	bound := row[syms.Slot(ex.Variable)]
	v, ok := bound.(VertexRef)
	if !ok {
		return false, nil
	}
	vd, err := ctx.Graph.Vertex(ctx.Tx, v.Addr.Gid)
	if err != nil {
		return false, nil
	}
	return vd.HasLabel(ex.Label), nil
}

func evalUnary(ex planner.UnaryOp, row Frame, syms *SymbolTable, ctx *EvaluationContext) (interface{}, error) {
	v, err := Eval(ex.Operand, row, syms, ctx)
	if err != nil {
		return nil, err
	}
	switch ex.Op {
	case "NOT":
		b, _ := v.(bool)
		return !b, nil
	case "IS NULL":
		return v == nil, nil
	case "IS NOT NULL":
		return v != nil, nil
	case "-":
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, graphdberr.Wrap(graphdberr.ErrQuery, "unary minus on non-numeric value")
	default:
		return nil, graphdberr.Wrap(graphdberr.ErrQuery, "unknown unary operator "+ex.Op)
	}
}

func evalBinary(ex planner.BinaryOp, row Frame, syms *SymbolTable, ctx *EvaluationContext) (interface{}, error) {
	if ex.Op == "AND" || ex.Op == "OR" {
		l, err := Eval(ex.Left, row, syms, ctx)
		if err != nil {
			return nil, err
		}
		lb, _ := l.(bool)
		if ex.Op == "AND" && !lb {
			return false, nil
		}
		if ex.Op == "OR" && lb {
			return true, nil
		}
		r, err := Eval(ex.Right, row, syms, ctx)
		if err != nil {
			return nil, err
		}
		rb, _ := r.(bool)
		return rb, nil
	}

	l, err := Eval(ex.Left, row, syms, ctx)
	if err != nil {
		return nil, err
	}
	r, err := Eval(ex.Right, row, syms, ctx)
	if err != nil {
		return nil, err
	}

	switch ex.Op {
	case "=":
		return store.Equal(l, r), nil
	case "<>":
		return !store.Equal(l, r), nil
	case "<", "<=", ">", ">=":
		c, ok := store.Compare(l, r)
		if !ok {
			return false, nil
		}
		switch ex.Op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "+", "-", "*", "/":
		return arith(ex.Op, l, r)
	case "IN":
		list, ok := r.([]interface{})
		if !ok {
			return false, nil
		}
		for _, item := range list {
			if store.Equal(l, item) {
				return true, nil
			}
		}
		return false, nil
	case "STARTS WITH":
		ls, _ := l.(string)
		rs, _ := r.(string)
		return len(ls) >= len(rs) && ls[:len(rs)] == rs, nil
	default:
		return nil, graphdberr.Wrap(graphdberr.ErrQuery, "unknown binary operator "+ex.Op)
	}
}

func arith(op string, l, r interface{}) (interface{}, error) {
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, graphdberr.Wrap(graphdberr.ErrQuery, "arithmetic on non-numeric value")
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	default:
		if rf == 0 {
			return nil, graphdberr.Wrap(graphdberr.ErrQuery, "division by zero")
		}
		return lf / rf, nil
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func evalFunction(ex planner.FunctionCall, row Frame, syms *SymbolTable, ctx *EvaluationContext) (interface{}, error) {
	args := make([]interface{}, len(ex.Args))
	for i, a := range ex.Args {
		v, err := Eval(a, row, syms, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch ex.Name {
	case "size":
		if len(args) == 1 {
			if list, ok := args[0].([]interface{}); ok {
				return int64(len(list)), nil
			}
		}
		return int64(0), nil
	case "id":
		if len(args) == 1 {
			if v, ok := args[0].(VertexRef); ok {
				return int64(v.Addr.Gid), nil
			}
			if e, ok := args[0].(EdgeRefValue); ok {
				return int64(e.Addr.Gid), nil
			}
		}
		return nil, nil
	default:
		return nil, graphdberr.Wrap(graphdberr.ErrQuery, "unknown function "+ex.Name)
	}
}

/*
Truthy coerces an evaluated expression result into Cypher's notion of a
filter pass: true only for the boolean true.
*/
func Truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
