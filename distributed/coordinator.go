/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package distributed

import (
	"sync"

	"github.com/vertexgraph/vgdb/graphaccess"
	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/internal/vlog"
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/store/index"
	"github.com/vertexgraph/vgdb/txn"
	"github.com/vertexgraph/vgdb/wal"
)

var log = vlog.Get("distributed")

/*
recordUpdates is the per-record entry of a TxUpdates map: the queue of
deltas buffered for one record, applied in arrival order at Apply time.
Grounded on spec §4.7's "map gid → (Accessor, queue<StateDelta>)"; the
accessor itself is re-resolved lazily at Apply (via Graph.Apply/Find)
rather than cached, since Go's store accessors are cheap to re-obtain and
caching one across an RPC boundary would pin a transaction-bound value
past the call that produced it.
*/
type recordUpdates struct {
	queue []graphaccess.StateDelta
}

/*
txUpdates is the buffered write set of one transaction for either
vertices or edges, guarded by its own mutex rather than the teacher's
spinlock (spec §9: "a spinlock" is the source's lock-per-object choice;
Go's sync.Mutex is the idiomatic equivalent for a short critical section
like a queue append).
*/
type txUpdates struct {
	mu      sync.Mutex
	records map[store.Gid]*recordUpdates
}

func newTxUpdates() *txUpdates {
	return &txUpdates{records: make(map[store.Gid]*recordUpdates)}
}

func (u *txUpdates) enqueue(gid store.Gid, d graphaccess.StateDelta) {
	u.mu.Lock()
	defer u.mu.Unlock()

	r, ok := u.records[gid]
	if !ok {
		r = &recordUpdates{}
		u.records[gid] = r
	}
	r.queue = append(r.queue, d)
}

/*
drain returns every buffered delta across all records of u, ordered by
the sequence each individual record's queue was built in; deltas for
different records are independent (spec §4.7 "Ordering"), so the
cross-record order here is incidental map iteration order, not a
correctness requirement.
*/
func (u *txUpdates) drain() []graphaccess.StateDelta {
	u.mu.Lock()
	defer u.mu.Unlock()

	var out []graphaccess.StateDelta
	for _, r := range u.records {
		out = append(out, r.queue...)
	}
	return out
}

/*
Coordinator is the per-worker distributed update coordinator of spec
§4.7. One instance runs per worker, fronting that worker's Graph/Store
with the buffered-write and cross-worker-forwarding behavior a
distributed transaction needs.
*/
type Coordinator struct {
	WorkerID int32
	Graph    *graphaccess.Graph
	Engine   *txn.Engine
	WAL      *wal.WAL
	Catalog  *index.Catalog
	Peers    *Client

	mu            sync.Mutex
	vertexUpdates map[txn.TxID]*txUpdates
	edgeUpdates   map[txn.TxID]*txUpdates

	membersMu sync.RWMutex
	members   map[int32]string
}

/*
NewCoordinator creates a coordinator for worker id, backed by g for local
record access, eng for transaction bookkeeping, w for durability (may be
a disabled WAL), cat for label/property index maintenance (nil disables
it, as in tests that never touch the catalog), and peers for reaching
other workers' coordinators.
*/
func NewCoordinator(workerID int32, g *graphaccess.Graph, eng *txn.Engine, w *wal.WAL, cat *index.Catalog, peers *Client) *Coordinator {
	return &Coordinator{
		WorkerID:      workerID,
		Graph:         g,
		Engine:        eng,
		WAL:           w,
		Catalog:       cat,
		Peers:         peers,
		vertexUpdates: make(map[txn.TxID]*txUpdates),
		edgeUpdates:   make(map[txn.TxID]*txUpdates),
		members:       make(map[int32]string),
	}
}

func (c *Coordinator) vertexUpdatesFor(tx txn.TxID) *txUpdates {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.vertexUpdates[tx]
	if !ok {
		u = newTxUpdates()
		c.vertexUpdates[tx] = u
	}
	return u
}

func (c *Coordinator) edgeUpdatesFor(tx txn.TxID) *txUpdates {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.edgeUpdates[tx]
	if !ok {
		u = newTxUpdates()
		c.edgeUpdates[tx] = u
	}
	return u
}

func (c *Coordinator) updatesFor(tx txn.TxID, kind store.Kind) *txUpdates {
	if kind == store.KindEdge {
		return c.edgeUpdatesFor(tx)
	}
	return c.vertexUpdatesFor(tx)
}

/*
Update is the RPC handler enqueuing delta on the buffered updates for its
target record (spec §4.7). Nothing is applied to the store yet; Apply
drains and replays it.
*/
func (c *Coordinator) Update(args *UpdateArgs, reply *Ack) error {
	c.updatesFor(args.Tx, args.Kind).enqueue(args.Gid, args.Delta)
	*reply = Ack{}
	return nil
}

/*
CreateVertex is the RPC handler inserting a new vertex locally and
buffering the CREATE_VERTEX delta describing it (spec §4.7). The insert
happens immediately so the caller has a Gid to reference (e.g. to pass
to CreateEdge) before the transaction commits; the buffered delta is
what Apply later replays for WAL durability, exactly as a recovered
transaction's CREATE_VERTEX delta is replayed by wal.Recover.
*/
func (c *Coordinator) CreateVertex(args *CreateVertexArgs, reply *CreateVertexReply) error {
	t := c.Engine.AdoptForeign(args.Tx)

	gid, delta, err := c.Graph.CreateVertex(t, args.Labels, args.Properties)
	if err != nil {
		return err
	}
	c.vertexUpdatesFor(args.Tx).enqueue(gid, delta)

	reply.Gid = gid
	return nil
}

/*
CreateEdge is the RPC handler backing spec §4.7's CreateEdge row: insert
the edge record locally, then forward the structural deltas each
endpoint's owner needs to apply on commit. Because this handler always
runs on the worker that owns From (spec §8 scenario 4: "W1 holds vertex
from"), the ADD_OUT_EDGE forward is always local; ADD_IN_EDGE is local
only when To also happens to live on this worker, and is otherwise sent
over RPC to To's owner.
*/
func (c *Coordinator) CreateEdge(args *CreateEdgeArgs, reply *CreateEdgeReply) error {
	t := c.Engine.AdoptForeign(args.Tx)

	gid, delta, err := c.Graph.CreateEdgeRecord(t, args.From, args.To, args.Type, args.Properties)
	if err != nil {
		return err
	}
	edgeAddr := store.Address{Worker: c.WorkerID, Gid: gid}
	c.edgeUpdatesFor(args.Tx).enqueue(gid, delta)

	ref := store.EdgeRef{Vertex: args.To, Edge: edgeAddr, Type: args.Type}
	outDelta := graphaccess.StateDelta{Type: graphaccess.AddOutEdge, Tx: args.Tx, Gid: args.From.Gid, Ref: ref}
	if err := c.forwardUpdate(args.From.Worker, args.From.Gid, outDelta); err != nil {
		return err
	}

	if args.To != (store.Address{}) {
		inRef := store.EdgeRef{Vertex: args.From, Edge: edgeAddr, Type: args.Type}
		inDelta := graphaccess.StateDelta{Type: graphaccess.AddInEdge, Tx: args.Tx, Gid: args.To.Gid, Ref: inRef}
		if err := c.forwardUpdate(args.To.Worker, args.To.Gid, inDelta); err != nil {
			return err
		}
	}

	reply.Gid = gid
	return nil
}

/*
forwardUpdate buffers delta locally when worker is this coordinator's own
id, or sends it over RPC to worker's coordinator otherwise.
*/
func (c *Coordinator) forwardUpdate(worker int32, gid store.Gid, delta graphaccess.StateDelta) error {
	if worker == c.WorkerID {
		c.vertexUpdatesFor(delta.Tx).enqueue(gid, delta)
		return nil
	}
	if c.Peers == nil {
		return graphdberr.Wrap(graphdberr.ErrRPCFailure, "no peer client configured")
	}
	return c.Peers.Update(worker, UpdateArgs{Tx: delta.Tx, Kind: store.KindVertex, Gid: gid, Delta: delta})
}

/*
RemoveVertex is the RPC handler buffering a REMOVE_VERTEX delta (spec
§4.7); check_empty is validated against the vertex's state at Apply time,
not now, since more edges touching it may still be queued.
*/
func (c *Coordinator) RemoveVertex(args *RemoveVertexArgs, reply *Ack) error {
	delta := graphaccess.StateDelta{Type: graphaccess.RemoveVertex, Tx: args.Tx, Gid: args.Gid, CheckEmpty: args.CheckEmpty}
	c.vertexUpdatesFor(args.Tx).enqueue(args.Gid, delta)
	*reply = Ack{}
	return nil
}

/*
RemoveEdge is the RPC handler buffering REMOVE_EDGE on the edge record,
REMOVE_OUT_EDGE on From, and - only when To is local to this worker -
REMOVE_IN_EDGE on To (spec §4.7).
*/
func (c *Coordinator) RemoveEdge(args *RemoveEdgeArgs, reply *Ack) error {
	c.edgeUpdatesFor(args.Tx).enqueue(args.Gid, graphaccess.StateDelta{
		Type: graphaccess.RemoveEdge, Tx: args.Tx, Gid: args.Gid,
	})

	edgeAddr := store.Address{Worker: c.WorkerID, Gid: args.Gid}
	outRef := store.EdgeRef{Vertex: args.To, Edge: edgeAddr, Type: args.Type}
	c.vertexUpdatesFor(args.Tx).enqueue(args.From.Gid, graphaccess.StateDelta{
		Type: graphaccess.RemoveOutEdge, Tx: args.Tx, Gid: args.From.Gid, Ref: outRef,
	})

	if args.To.Worker == c.WorkerID {
		inRef := store.EdgeRef{Vertex: args.From, Edge: edgeAddr, Type: args.Type}
		c.vertexUpdatesFor(args.Tx).enqueue(args.To.Gid, graphaccess.StateDelta{
			Type: graphaccess.RemoveInEdge, Tx: args.Tx, Gid: args.To.Gid, Ref: inRef,
		})
	}

	*reply = Ack{}
	return nil
}

/*
Apply is the RPC handler draining every delta buffered for args.Tx on
this worker and replaying it against the local store, in the same
delta-per-transaction replay shape wal.Recover uses. Structural deltas
(ADD_OUT_EDGE/ADD_IN_EDGE) are additionally written to the WAL as they
are applied (spec §4.7), since a worker receiving one on behalf of a
remote CreateEdge call has no other moment at which to durably log it.

On the first error, the local half of the transaction is aborted and the
error is returned for the caller to escalate into a cluster-wide abort
(spec §4.7 "Ordering").
*/
func (c *Coordinator) Apply(args *ApplyArgs, reply *Ack) error {
	t := c.Engine.AdoptForeign(args.Tx)

	if err := c.applyBuffered(t, c.vertexUpdatesFor(args.Tx)); err != nil {
		c.abort(args.Tx)
		return err
	}
	if err := c.applyBuffered(t, c.edgeUpdatesFor(args.Tx)); err != nil {
		c.abort(args.Tx)
		return err
	}

	if err := c.Engine.Commit(args.Tx); err != nil {
		return err
	}
	if c.WAL != nil {
		if err := c.WAL.Emplace(graphaccess.StateDelta{Type: graphaccess.TxCommit, Tx: args.Tx}); err != nil {
			log.Error("distributed: wal emplace of commit marker failed: ", err)
			return graphdberr.Wrap(graphdberr.ErrWALWrite, err.Error())
		}
	}

	c.clearTx(args.Tx)
	*reply = Ack{}
	return nil
}

/*
Abort is the RPC handler discarding a transaction's buffered updates on
this worker without applying any of them, used when a sibling worker's
Apply failed and the coordinating worker unwinds the transaction
cluster-wide.
*/
func (c *Coordinator) Abort(args *ApplyArgs, reply *Ack) error {
	c.abort(args.Tx)
	*reply = Ack{}
	return nil
}

/*
isVertexCatalogDelta reports whether d changes a vertex's label or
property set in a way index.Catalog needs to hear about, per the
OnVertexCommitted/OnVertexRemoved split (store/index/catalog.go).
*/
func isVertexCatalogDelta(t graphaccess.DeltaType) bool {
	switch t {
	case graphaccess.CreateVertex, graphaccess.AddLabel, graphaccess.RemoveLabel, graphaccess.SetPropertyVertex, graphaccess.RemoveVertex:
		return true
	}
	return false
}

func (c *Coordinator) applyBuffered(t *txn.Transaction, u *txUpdates) error {
	for _, d := range u.drain() {
		var old *store.VertexData
		if c.Catalog != nil && isVertexCatalogDelta(d.Type) && d.Type != graphaccess.CreateVertex {
			old, _ = c.Graph.Vertex(t, d.Gid)
		}

		if err := c.Graph.Apply(t, d); err != nil {
			return err
		}
		if c.WAL != nil && (d.Type == graphaccess.AddOutEdge || d.Type == graphaccess.AddInEdge) {
			if err := c.WAL.Emplace(d); err != nil {
				log.Error("distributed: wal emplace of structural delta failed: ", err)
				return graphdberr.Wrap(graphdberr.ErrWALWrite, err.Error())
			}
		}

		if c.Catalog != nil && isVertexCatalogDelta(d.Type) {
			if d.Type == graphaccess.RemoveVertex {
				if old != nil {
					c.Catalog.OnVertexRemoved(d.Gid, old)
				}
			} else if vd, err := c.Graph.Vertex(t, d.Gid); err == nil {
				c.Catalog.OnVertexCommitted(d.Gid, vd, old)
			}
		}
	}
	return nil
}

func (c *Coordinator) abort(tx txn.TxID) {
	if err := c.Engine.Abort(tx); err != nil {
		log.Error("distributed: abort failed: ", err)
	}
	if c.WAL != nil {
		if err := c.WAL.Emplace(graphaccess.StateDelta{Type: graphaccess.TxAbort, Tx: tx}); err != nil {
			log.Error("distributed: wal emplace of abort marker failed: ", err)
		}
	}
	c.clearTx(tx)
}

func (c *Coordinator) clearTx(tx txn.TxID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vertexUpdates, tx)
	delete(c.edgeUpdates, tx)
}

/*
ClearTransactionalCache drops every buffered TxUpdates whose id is older
than oldestActive (spec §4.7): once no active transaction can still need
it, a dangling buffer (abandoned without Apply, e.g. the originating
worker crashed before committing) is reclaimed.
*/
func (c *Coordinator) ClearTransactionalCache(oldestActive txn.TxID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id := range c.vertexUpdates {
		if id < oldestActive {
			delete(c.vertexUpdates, id)
			n++
		}
	}
	for id := range c.edgeUpdates {
		if id < oldestActive {
			delete(c.edgeUpdates, id)
			n++
		}
	}
	return n
}

/*
CommitAcrossCluster drives Apply on every participant worker of a
cross-worker transaction: locally when a participant is this worker,
over RPC otherwise. The first failure aborts the transaction everywhere
it was already applied would be inconsistent to leave standing, so every
participant is still asked to abort once one Apply fails (spec §4.7: "the
failed worker is reported to the owning transaction which must abort
cluster-wide").
*/
func (c *Coordinator) CommitAcrossCluster(tx txn.TxID, participants []int32) error {
	var failed error

	for _, w := range participants {
		var err error
		if w == c.WorkerID {
			err = c.Apply(&ApplyArgs{Tx: tx}, &Ack{})
		} else if c.Peers != nil {
			err = c.Peers.Apply(w, ApplyArgs{Tx: tx})
		} else {
			err = graphdberr.Wrap(graphdberr.ErrRPCFailure, "no peer client configured")
		}
		if err != nil && failed == nil {
			failed = err
		}
	}

	if failed != nil {
		for _, w := range participants {
			if w == c.WorkerID {
				c.abort(tx)
			} else if c.Peers != nil {
				c.Peers.Abort(w, tx)
			}
		}
	}

	return failed
}

/*
RegisterWorker is the RPC handler backing spec §6's membership call: a
worker announces the id it would like and its RPC endpoint; the
coordinator assigns it (honoring the request unless the id is already
taken) and returns the full membership table known so far.
*/
func (c *Coordinator) RegisterWorker(args *RegisterWorkerArgs, reply *RegisterWorkerReply) error {
	c.membersMu.Lock()
	defer c.membersMu.Unlock()

	id := args.DesiredID
	if existing, taken := c.members[id]; taken && existing != args.Endpoint {
		reply.OK = false
		reply.WorkerID = id
		return nil
	}
	c.members[id] = args.Endpoint

	workers := make(map[int32]string, len(c.members))
	for k, v := range c.members {
		workers[k] = v
	}

	reply.OK = true
	reply.WorkerID = id
	reply.Workers = workers
	return nil
}

/*
ClusterDiscovery is the RPC handler announcing a worker's presence to a
peer that may not yet know about it (spec §6).
*/
func (c *Coordinator) ClusterDiscovery(args *ClusterDiscoveryArgs, reply *Ack) error {
	c.membersMu.Lock()
	c.members[args.WorkerID] = args.Endpoint
	c.membersMu.Unlock()
	*reply = Ack{}
	return nil
}

/*
Members returns a copy of the worker id -> endpoint membership table.
*/
func (c *Coordinator) Members() map[int32]string {
	c.membersMu.RLock()
	defer c.membersMu.RUnlock()

	out := make(map[int32]string, len(c.members))
	for k, v := range c.members {
		out[k] = v
	}
	return out
}

/*
StopWorker is the RPC handler requesting graceful shutdown of a worker's
RPC service (spec §6). The coordinator itself cannot close the listener
that is serving this very call; it records the request and lets Server
(which owns the listener) act on it.
*/
func (c *Coordinator) StopWorker(args *StopWorkerArgs, reply *Ack) error {
	c.membersMu.Lock()
	delete(c.members, args.WorkerID)
	c.membersMu.Unlock()
	*reply = Ack{}
	return nil
}
