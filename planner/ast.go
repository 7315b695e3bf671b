/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package planner turns a single-query AST into a tree of logical
operators (spec §4.4). It never touches the record store itself - it
only consults the index catalog for cardinality estimates - so it can
be unit tested against a catalog fixture without a live graph.

The AST shape here is deliberately small: just enough to drive
translation and cost estimation, not a general expression language.
Grounded on how the teacher's parser feeds nested ASTNode trees to
eql/interpreter/traversal.go and eql/interpreter/where.go, generalized
from EQL's traversal-spec strings to Cypher-style node/edge patterns.
*/
package planner

import "github.com/vertexgraph/vgdb/store"

/*
Direction is the direction an edge pattern is traversed in.
*/
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

/*
NodePattern is one vertex slot in a match pattern.
*/
type NodePattern struct {
	Variable   string
	Labels     []string
	Properties map[string]Expr // equality constraints given inline, e.g. (n:Person {name: "Ann"})
}

/*
EdgePattern is the edge connecting the previous node pattern to the
next one.
*/
type EdgePattern struct {
	Variable  string
	Types     []string
	Direction Direction

	// Variable-length bounds. MinHops == MaxHops == 1 for a fixed single
	// hop (the common case, lowered to Expand); otherwise lowered to
	// ExpandVariable. MaxHops < 0 means unbounded.
	MinHops int
	MaxHops int
}

/*
PatternElement is one (edge, node) step of a pattern chain; the first
element of a Pattern has a nil Edge.
*/
type PatternElement struct {
	Edge *EdgePattern
	Node NodePattern
}

/*
Pattern is a chain of vertices connected by edges, e.g.
(a)-[:KNOWS]->(b)-[:WORKS_AT]->(c). NamedPath is non-empty when the
pattern is bound to a path variable (p = (a)-->(b)).
*/
type Pattern struct {
	Elements  []PatternElement
	NamedPath string
}

/*
Clause is one clause of a query. Concrete types below.
*/
type Clause interface {
	clauseNode()
}

type MatchClause struct {
	Pattern  Pattern
	Optional bool
	Where    Expr // nil if no WHERE
}

type SetItem struct {
	Variable string
	Property string // "" when this item sets labels instead
	Value    Expr
	Labels   []string
}

type RemoveItem struct {
	Variable string
	Property string
	Labels   []string
}

type MergeClause struct {
	Pattern  Pattern
	OnCreate []SetItem
	OnMatch  []SetItem
}

type CreateClause struct {
	Pattern Pattern
}

type DeleteClause struct {
	Variables []string
	Detach    bool
}

type SetClause struct {
	Items []SetItem
}

type RemoveClause struct {
	Items []RemoveItem
}

type UnwindClause struct {
	List Expr
	As   string
}

type OrderItem struct {
	Expr Expr
	Desc bool
}

type ProjectionItem struct {
	Expr Expr
	As   string
}

type WithClause struct {
	Items    []ProjectionItem
	Distinct bool
	Where    Expr
	OrderBy  []OrderItem
	Skip     Expr
	Limit    Expr
}

type ReturnClause struct {
	Items    []ProjectionItem
	Distinct bool
	OrderBy  []OrderItem
	Skip     Expr
	Limit    Expr
}

type UnionClause struct {
	Branches []*Query
	All      bool
}

func (MatchClause) clauseNode()  {}
func (MergeClause) clauseNode()  {}
func (CreateClause) clauseNode() {}
func (DeleteClause) clauseNode() {}
func (SetClause) clauseNode()    {}
func (RemoveClause) clauseNode() {}
func (UnwindClause) clauseNode() {}
func (WithClause) clauseNode()   {}
func (ReturnClause) clauseNode() {}
func (UnionClause) clauseNode()  {}

/*
Query is a full single-query AST: a flat clause sequence, exactly the
planner's translation input (spec §4.4).
*/
type Query struct {
	Clauses []Clause
}

/*
Expr is an expression node. Concrete types below; a small enough set to
drive WHERE predicates, property/label values and RETURN projections.
*/
type Expr interface {
	exprNode()
}

type Literal struct{ Value store.Value }

type ListLiteral struct{ Items []Expr }

type Param struct{ Name string }

type VarRef struct{ Name string }

type PropertyRef struct {
	Variable string
	Property string
}

type LabelCheck struct {
	Variable string
	Label    string
}

type BinaryOp struct {
	Op          string // "=", "<>", "<", "<=", ">", ">=", "AND", "OR", "+", "-", "*", "/", "IN", "STARTS WITH", ...
	Left, Right Expr
}

type UnaryOp struct {
	Op      string // "NOT", "-", "IS NULL", "IS NOT NULL"
	Operand Expr
}

type FunctionCall struct {
	Name string
	Args []Expr
}

func (Literal) exprNode()      {}
func (ListLiteral) exprNode()  {}
func (Param) exprNode()        {}
func (VarRef) exprNode()       {}
func (PropertyRef) exprNode()  {}
func (LabelCheck) exprNode()   {}
func (BinaryOp) exprNode()     {}
func (UnaryOp) exprNode()      {}
func (FunctionCall) exprNode() {}
