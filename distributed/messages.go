/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package distributed implements the per-worker update coordinator of spec
§4.7: an RPC service that buffers the structural and property deltas a
cross-worker transaction produces and, on Apply, drains and replays them
against the local store exactly as WAL recovery replays a committed run.

Grounded on cluster/manager's Client/MemberManager split (teacher): a
typed request/response struct per remote call instead of the teacher's
map[RequestArgument]interface{} envelope, carried over net/rpc +
encoding/gob so every argument stays a value type, per spec §6 ("no
references across the wire").
*/
package distributed

import (
	"github.com/vertexgraph/vgdb/graphaccess"
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/txn"
)

/*
Ack is the empty reply used by RPCs whose only observable result is
success or a returned error, matching the teacher's "Done" result
pattern (spec §4.7 table: "Returns Done or an error").
*/
type Ack struct{}

/*
UpdateArgs carries one delta bound for the buffered update queue of its
target record. Kind tells the coordinator which of vertex_updates or
edge_updates owns the record.
*/
type UpdateArgs struct {
	Tx    txn.TxID
	Kind  store.Kind
	Gid   store.Gid
	Delta graphaccess.StateDelta
}

/*
CreateVertexArgs/CreateVertexReply back the CreateVertex RPC.
*/
type CreateVertexArgs struct {
	Tx         txn.TxID
	Labels     []string
	Properties map[string]store.Value
}

type CreateVertexReply struct {
	Gid store.Gid
}

/*
CreateEdgeArgs/CreateEdgeReply back the CreateEdge RPC. From must be an
address owned by the worker handling the call.
*/
type CreateEdgeArgs struct {
	Tx         txn.TxID
	From, To   store.Address
	Type       string
	Properties map[string]store.Value
}

type CreateEdgeReply struct {
	Gid store.Gid
}

/*
RemoveVertexArgs backs the RemoveVertex RPC.
*/
type RemoveVertexArgs struct {
	Tx         txn.TxID
	Gid        store.Gid
	CheckEmpty bool
}

/*
RemoveEdgeArgs backs the RemoveEdge RPC. From/To are the edge's
endpoints, needed to know which vertices' adjacency lists to unlink and
whether To is local to this worker.
*/
type RemoveEdgeArgs struct {
	Tx       txn.TxID
	Gid      store.Gid
	Type     string
	From, To store.Address
}

/*
ApplyArgs backs the Apply RPC: drain and replay every delta buffered for
Tx on this worker, then commit (or, on the first error, abort) the local
half of the transaction.
*/
type ApplyArgs struct {
	Tx txn.TxID
}

/*
RegisterWorkerArgs/RegisterWorkerReply back worker membership
registration (spec §6).
*/
type RegisterWorkerArgs struct {
	DesiredID int32
	Endpoint  string
}

type RegisterWorkerReply struct {
	OK       bool
	WorkerID int32
	Workers  map[int32]string
}

/*
ClusterDiscoveryArgs announces a worker's presence to a peer that may not
yet know about it.
*/
type ClusterDiscoveryArgs struct {
	WorkerID int32
	Endpoint string
}

/*
StopWorkerArgs requests the graceful shutdown of a worker's RPC service.
*/
type StopWorkerArgs struct {
	WorkerID int32
}
