/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package planner

/*
Op is the common interface every logical operator satisfies. Children
returns the operator's inputs bottom-up (Once has none); the executor
walks this same tree to build its Volcano operator chain.
*/
type Op interface {
	Children() []Op
	opNode()
}

/*
base carries the single-child shape shared by most operators.
*/
type base struct {
	Input Op
}

func (b base) Children() []Op {
	if b.Input == nil {
		return nil
	}
	return []Op{b.Input}
}

/*
Once emits exactly one empty row; it is the leaf of every plan tree
(spec §4.4 table).
*/
type Once struct{}

func (Once) Children() []Op { return nil }
func (Once) opNode()        {}

/*
ScanAll emits every vertex in the graph, bound to Symbol.
*/
type ScanAll struct {
	base
	Symbol string
}

func (ScanAll) opNode() {}

/*
ScanAllByLabel emits vertices carrying Label.
*/
type ScanAllByLabel struct {
	base
	Symbol string
	Label  string
}

func (ScanAllByLabel) opNode() {}

/*
ScanAllByLabelPropertyValue emits vertices with Label whose Property
equals Value.
*/
type ScanAllByLabelPropertyValue struct {
	base
	Symbol   string
	Label    string
	Property string
	Value    Expr
}

func (ScanAllByLabelPropertyValue) opNode() {}

/*
ScanAllByLabelPropertyRange emits vertices with Label whose Property
falls within [Lower, Upper] (either bound optional, inclusivity given by
LowerInclusive/UpperInclusive).
*/
type ScanAllByLabelPropertyRange struct {
	base
	Symbol         string
	Label          string
	Property       string
	Lower, Upper   Expr
	LowerInclusive bool
	UpperInclusive bool
}

func (ScanAllByLabelPropertyRange) opNode() {}

/*
Expand emits, for each input row's bound vertex InputSymbol, one row per
incident edge matching Types/Direction, binding the neighbor vertex to
Symbol and the edge to EdgeSymbol.
*/
type Expand struct {
	base
	InputSymbol string
	Symbol      string
	EdgeSymbol  string
	Types       []string
	Direction   Direction
}

func (Expand) opNode() {}

/*
ExpandVariable is Expand generalized to a hop-count range
[MinHops, MaxHops] (MaxHops < 0 = unbounded), materializing the path
into PathSymbol when non-empty. BFS is used when Direction == DirBoth,
matching the spec's "breadth-first per type" note for undirected
traversal; DFS otherwise.
*/
type ExpandVariable struct {
	base
	InputSymbol string
	Symbol      string
	EdgeSymbol  string
	Types       []string
	Direction   Direction
	MinHops     int
	MaxHops     int
	PathSymbol  string
}

func (ExpandVariable) opNode() {}

/*
ConstructNamedPath materializes the path value bound by a preceding
Expand/ExpandVariable chain into Symbol, for patterns that bind a path
variable but consist only of fixed single hops (ExpandVariable already
does this inline for the variable-length case).
*/
type ConstructNamedPath struct {
	base
	Symbol   string
	Elements []string // alternating node/edge symbols, in pattern order
}

func (ConstructNamedPath) opNode() {}

/*
Filter drops rows for which Predicate does not evaluate truthy.
*/
type Filter struct {
	base
	Predicate Expr
}

func (Filter) opNode() {}

/*
EdgeUniquenessFilter drops rows that reuse an already-bound edge symbol
on a different step of the same pattern (Cypher's no-repeated-edge
isomorphism rule).
*/
type EdgeUniquenessFilter struct {
	base
	EdgeSymbols []string
}

func (EdgeUniquenessFilter) opNode() {}

/*
Produce projects Items into the row's output slots.
*/
type Produce struct {
	base
	Items []ProjectionItem
}

func (Produce) opNode() {}

/*
AggregateItem is one aggregate computed per group.
*/
type AggregateItem struct {
	Func string // "count", "sum", "avg", "min", "max", "collect"
	Arg  Expr   // nil for count(*)
	As   string
}

/*
Aggregate groups input rows by GroupBy and computes Items per group.
*/
type Aggregate struct {
	base
	GroupBy []Expr
	Items   []AggregateItem
}

func (Aggregate) opNode() {}

/*
OrderBy sorts its (fully materialized) input.
*/
type OrderBy struct {
	base
	Items []OrderItem
}

func (OrderBy) opNode() {}

/*
Skip drops the first N rows.
*/
type Skip struct {
	base
	Count Expr
}

func (Skip) opNode() {}

/*
Limit emits at most N rows.
*/
type Limit struct {
	base
	Count Expr
}

func (Limit) opNode() {}

/*
Distinct suppresses rows equal (by projected Items) to one already
emitted.
*/
type Distinct struct {
	base
	Items []Expr
}

func (Distinct) opNode() {}

/*
Unwind expands a list-valued expression into one row per element, bound
to Symbol.
*/
type Unwind struct {
	base
	List   Expr
	Symbol string
}

func (Unwind) opNode() {}

/*
CreateNode creates a new vertex per input row.
*/
type CreateNode struct {
	base
	Symbol     string
	Labels     []string
	Properties map[string]Expr
}

func (CreateNode) opNode() {}

/*
CreateExpand creates a new edge (and, if ToSymbol is not already bound
in the row, a new vertex) per input row.
*/
type CreateExpand struct {
	base
	FromSymbol  string
	ToSymbol    string
	EdgeSymbol  string
	EdgeType    string
	CreatesNode bool
	NodeLabels  []string
	NodeProps   map[string]Expr
	EdgeProps   map[string]Expr
	Direction   Direction
}

func (CreateExpand) opNode() {}

/*
SetProperty sets one property on a bound vertex or edge.
*/
type SetProperty struct {
	base
	Variable string
	Property string
	Value    Expr
}

func (SetProperty) opNode() {}

/*
SetLabels adds labels to a bound vertex.
*/
type SetLabels struct {
	base
	Variable string
	Labels   []string
}

func (SetLabels) opNode() {}

/*
RemoveProperty clears one property from a bound vertex or edge.
*/
type RemoveProperty struct {
	base
	Variable string
	Property string
}

func (RemoveProperty) opNode() {}

/*
RemoveLabels drops labels from a bound vertex.
*/
type RemoveLabels struct {
	base
	Variable string
	Labels   []string
}

func (RemoveLabels) opNode() {}

/*
Delete removes the vertices/edges bound to Variables. Detach removes a
vertex's incident edges first instead of failing with
UnableToDeleteVertex.
*/
type Delete struct {
	base
	Variables []string
	Detach    bool
}

func (Delete) opNode() {}

/*
Merge runs Match as a lookup; if it produced no rows, it runs Create and
applies OnCreate, otherwise it applies OnMatch to the rows Match found.
*/
type Merge struct {
	base
	Match    Op
	Create   Op
	OnMatch  []SetItem
	OnCreate []SetItem
}

func (m Merge) Children() []Op { return []Op{m.base.Input, m.Match, m.Create} }
func (Merge) opNode()          {}

/*
Optional passes every input row through Input; for input rows that
yield nothing it still emits exactly one row with the pattern's
variables bound to null, matching Cypher's OPTIONAL MATCH.
*/
type Optional struct {
	base
	Symbols []string // variables OPTIONAL MATCH introduces, nulled out when no match
}

func (Optional) opNode() {}

/*
Accumulate fully materializes its input before emitting anything
upward, isolating a preceding write from a following read on the same
labels/properties (spec §4.4).
*/
type Accumulate struct {
	base
	Symbols []string // symbols whose values must survive materialization
}

func (Accumulate) opNode() {}

/*
Cartesian crosses two independent subplans (disconnected patterns).
*/
type Cartesian struct {
	Left, Right Op
}

func (c Cartesian) Children() []Op { return []Op{c.Left, c.Right} }
func (Cartesian) opNode()          {}

/*
Union concatenates the results of independent branches, deduplicating
rows unless All is set.
*/
type Union struct {
	Branches []Op
	All      bool
}

func (u Union) Children() []Op { return u.Branches }
func (Union) opNode()          {}
