/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package executor is the pull-based ("Volcano") evaluator described in
spec §4.5: every logical operator from package planner lowers to an
Operator exposing Open/Pull/Reset over a Frame, a fixed-slot vector of
typed values indexed by symbols assigned during planning.

Grounded on the curptr/hasMoreNodes pull shape of
eql/interpreter/traversal.go (there: one traversal component pulling
from its child and handing a new source down; here: one Operator
pulling from its Input and writing into the shared Frame) and on the
row/result shape eql/interpreter/searchresult_test.go expects consumers
to produce.
*/
package executor

import "github.com/vertexgraph/vgdb/store"

/*
FrameValue is one slot's contents: a VertexRef (vertex reference), an
EdgeRefValue (edge reference), a store.Value (scalar property value),
a []interface{} (list), a PathValue (materialized path), or nil
(unbound - e.g. an OPTIONAL MATCH that found nothing).
*/
type FrameValue interface{}

/*
Frame is the fixed-slot row every operator reads from and writes to in
place as it pulls. Operators never resize a Frame; SymbolTable decides
its width up front.
*/
type Frame []FrameValue

/*
NewFrame allocates a frame with n slots, all initially unbound (nil).
*/
func NewFrame(n int) Frame {
	return make(Frame, n)
}

/*
Clone returns an independent copy of f, needed whenever an operator
must keep more than one row alive at once (Accumulate, OrderBy,
Distinct, the right-hand side of Cartesian).
*/
func (f Frame) Clone() Frame {
	c := make(Frame, len(f))
	copy(c, f)
	return c
}

/*
SymbolTable assigns a stable slot index to every row variable the plan
introduces, mirroring the "symbols assigned during semantic analysis"
step spec §4.5 refers to. Planning and execution share one instance so
an operator built from a planner.Op can resolve its variables by name
once and index by int for every row afterward.
*/
type SymbolTable struct {
	index map[string]int
	names []string
}

/*
NewSymbolTable creates an empty symbol table.
*/
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{index: make(map[string]int)}
}

/*
Slot returns name's slot index, assigning the next free index the first
time name is seen.
*/
func (s *SymbolTable) Slot(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	i := len(s.names)
	s.index[name] = i
	s.names = append(s.names, name)
	return i
}

/*
Width is the number of slots assigned so far - the size every Frame
built against this table must have.
*/
func (s *SymbolTable) Width() int {
	return len(s.names)
}

/*
VertexRef packages a vertex's Gid with the worker that owns it, the
shape Expand and the scan operators bind into a row slot.
*/
type VertexRef struct {
	Addr store.Address
}

/*
EdgeRefValue is the frame-slot representation of a bound edge.
*/
type EdgeRefValue struct {
	Addr store.Address
	Type string
	From store.Address
	To   store.Address
}

/*
PathValue is a materialized path: alternating VertexRef/EdgeRefValue
entries, first and last always VertexRef.
*/
type PathValue struct {
	Elements []FrameValue
}
