/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package graphaccess is the typed, transaction-bound view over the record
store (spec §4.4): a Graph resolves vertex/edge accessors and turns every
mutation into the StateDelta both the WAL and the distributed coordinator
replicate. Grounded on the node/edge CRUD split in
graph/graphmanager_nodes.go and graph/graphmanager_edges.go, and on the
event-on-mutation pattern in graph/rules.go (there: graph events; here:
deltas).
*/
package graphaccess

import (
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/txn"
)

/*
DeltaType is one of the tags enumerated in spec §3. The tag set is
closed; no other value is ever produced.
*/
type DeltaType string

const (
	TxBegin           DeltaType = "TRANSACTION_BEGIN"
	TxCommit          DeltaType = "TRANSACTION_COMMIT"
	TxAbort           DeltaType = "TRANSACTION_ABORT"
	CreateVertex      DeltaType = "CREATE_VERTEX"
	CreateEdge        DeltaType = "CREATE_EDGE"
	SetPropertyVertex DeltaType = "SET_PROPERTY_VERTEX"
	SetPropertyEdge   DeltaType = "SET_PROPERTY_EDGE"
	AddLabel          DeltaType = "ADD_LABEL"
	RemoveLabel       DeltaType = "REMOVE_LABEL"
	AddOutEdge        DeltaType = "ADD_OUT_EDGE"
	AddInEdge         DeltaType = "ADD_IN_EDGE"
	RemoveVertex      DeltaType = "REMOVE_VERTEX"
	RemoveEdge        DeltaType = "REMOVE_EDGE"
	RemoveOutEdge     DeltaType = "REMOVE_OUT_EDGE"
	RemoveInEdge      DeltaType = "REMOVE_IN_EDGE"
	BuildIndex        DeltaType = "BUILD_INDEX"
)

/*
StateDelta is a tagged record describing one logical change (spec §3).
Every field is a value type so a delta can cross the wire to the
distributed coordinator or be appended to the WAL without carrying any
live pointer into the record store.
*/
type StateDelta struct {
	Type DeltaType
	Tx   txn.TxID

	Gid store.Gid // target vertex or edge

	Labels     []string          // CREATE_VERTEX
	Properties map[string]store.Value // CREATE_VERTEX / CREATE_EDGE snapshot
	From, To   store.Address     // CREATE_EDGE
	EdgeType   string            // CREATE_EDGE

	Label    string      // ADD_LABEL / REMOVE_LABEL
	Property string      // SET_PROPERTY_VERTEX / SET_PROPERTY_EDGE
	Value    store.Value // SET_PROPERTY_VERTEX / SET_PROPERTY_EDGE

	Ref store.EdgeRef // ADD_OUT_EDGE / ADD_IN_EDGE / REMOVE_OUT_EDGE / REMOVE_IN_EDGE

	CheckEmpty bool // REMOVE_VERTEX

	IndexLabel    string // BUILD_INDEX
	IndexProperty string // BUILD_INDEX
}
