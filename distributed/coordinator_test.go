/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package distributed

import (
	"testing"
	"time"

	"github.com/vertexgraph/vgdb/graphaccess"
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/store/index"
	"github.com/vertexgraph/vgdb/txn"
)

func newTestCoordinator(t *testing.T, workerID int32) *Coordinator {
	t.Helper()
	eng := txn.NewEngine()
	st := store.NewStore(eng, workerID, 200*time.Millisecond, 0)
	g := graphaccess.NewGraph(st)
	return NewCoordinator(workerID, g, eng, nil, index.NewCatalog(), nil)
}

/*
TestCoordinatorSingleWorkerCreateApply covers the single-worker path of
spec §4.7's table: CreateVertex inserts immediately and buffers its
delta, and Apply commits the transaction without anything left buffered
behind.
*/
func TestCoordinatorSingleWorkerCreateApply(t *testing.T) {
	c := newTestCoordinator(t, 1)

	tx := c.Engine.Begin()

	var created CreateVertexReply
	if err := c.CreateVertex(&CreateVertexArgs{
		Tx:         tx.ID,
		Labels:     []string{"Person"},
		Properties: map[string]store.Value{"name": "ada"},
	}, &created); err != nil {
		t.Fatal(err)
	}

	if err := c.Apply(&ApplyArgs{Tx: tx.ID}, &Ack{}); err != nil {
		t.Fatal(err)
	}

	if !c.Engine.IsCommitted(tx.ID) {
		t.Fatal("expected transaction to be committed after Apply")
	}

	reader := c.Engine.Begin()
	v, err := c.Graph.Vertex(reader, created.Gid)
	if err != nil {
		t.Fatal(err)
	}
	if v.Properties["name"] != store.Value("ada") {
		t.Fatalf("unexpected vertex properties: %+v", v.Properties)
	}

	c.mu.Lock()
	remaining := len(c.vertexUpdates)
	c.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected no buffered updates left after Apply, got %d", remaining)
	}
}

/*
TestCoordinatorApplyMaintainsCatalog checks that Apply keeps the
coordinator's label index in sync with the vertices it commits, the way
a real cluster deployment relies on Apply (rather than a test helper) to
drive index.Catalog.OnVertexCommitted/OnVertexRemoved.
*/
func TestCoordinatorApplyMaintainsCatalog(t *testing.T) {
	c := newTestCoordinator(t, 1)
	tx := c.Engine.Begin()

	var created CreateVertexReply
	if err := c.CreateVertex(&CreateVertexArgs{
		Tx:         tx.ID,
		Labels:     []string{"Person"},
		Properties: map[string]store.Value{"name": "ada"},
	}, &created); err != nil {
		t.Fatal(err)
	}

	if c.Catalog.LabelIndex().Count("Person") != 0 {
		t.Fatal("expected the catalog to stay empty before Apply replays the buffered delta")
	}

	if err := c.Apply(&ApplyArgs{Tx: tx.ID}, &Ack{}); err != nil {
		t.Fatal(err)
	}

	if got := c.Catalog.LabelIndex().Count("Person"); got != 1 {
		t.Fatalf("expected Apply to index the new vertex under Person, got count %d", got)
	}

	removeTx := c.Engine.Begin()
	if err := c.RemoveVertex(&RemoveVertexArgs{Tx: removeTx.ID, Gid: created.Gid}, &Ack{}); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(&ApplyArgs{Tx: removeTx.ID}, &Ack{}); err != nil {
		t.Fatal(err)
	}
	if got := c.Catalog.LabelIndex().Count("Person"); got != 0 {
		t.Fatalf("expected Apply to drop the removed vertex from the catalog, got count %d", got)
	}
}

/*
TestCoordinatorCreateEdgeSameWorker covers spec §8 scenario 4's
same-worker shortcut: when both endpoints are local, CreateEdge buffers
ADD_OUT_EDGE/ADD_IN_EDGE against this coordinator directly rather than
over RPC.
*/
func TestCoordinatorCreateEdgeSameWorker(t *testing.T) {
	c := newTestCoordinator(t, 1)
	tx := c.Engine.Begin()

	var a, b CreateVertexReply
	if err := c.CreateVertex(&CreateVertexArgs{Tx: tx.ID, Labels: []string{"Person"}}, &a); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateVertex(&CreateVertexArgs{Tx: tx.ID, Labels: []string{"Person"}}, &b); err != nil {
		t.Fatal(err)
	}

	from := store.Address{Worker: 1, Gid: a.Gid}
	to := store.Address{Worker: 1, Gid: b.Gid}

	var edge CreateEdgeReply
	if err := c.CreateEdge(&CreateEdgeArgs{Tx: tx.ID, From: from, To: to, Type: "knows"}, &edge); err != nil {
		t.Fatal(err)
	}

	if err := c.Apply(&ApplyArgs{Tx: tx.ID}, &Ack{}); err != nil {
		t.Fatal(err)
	}

	reader := c.Engine.Begin()
	va, err := c.Graph.Vertex(reader, a.Gid)
	if err != nil {
		t.Fatal(err)
	}
	if len(va.Out) != 1 || va.Out[0].Edge.Gid != edge.Gid {
		t.Fatalf("expected from-vertex to carry the new out edge, got %+v", va.Out)
	}

	vb, err := c.Graph.Vertex(reader, b.Gid)
	if err != nil {
		t.Fatal(err)
	}
	if len(vb.In) != 1 || vb.In[0].Edge.Gid != edge.Gid {
		t.Fatalf("expected to-vertex to carry the new in edge, got %+v", vb.In)
	}
}

/*
TestCoordinatorApplyErrorAborts checks that a buffered delta which fails
to apply (here, a RemoveVertex with check_empty on a vertex that still
has an edge) aborts the local transaction and clears its buffered
updates instead of leaving them for a future Apply to retry.
*/
func TestCoordinatorApplyErrorAborts(t *testing.T) {
	c := newTestCoordinator(t, 1)
	tx := c.Engine.Begin()

	var a, b CreateVertexReply
	if err := c.CreateVertex(&CreateVertexArgs{Tx: tx.ID, Labels: []string{"Person"}}, &a); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateVertex(&CreateVertexArgs{Tx: tx.ID, Labels: []string{"Person"}}, &b); err != nil {
		t.Fatal(err)
	}

	from := store.Address{Worker: 1, Gid: a.Gid}
	to := store.Address{Worker: 1, Gid: b.Gid}
	var edge CreateEdgeReply
	if err := c.CreateEdge(&CreateEdgeArgs{Tx: tx.ID, From: from, To: to, Type: "knows"}, &edge); err != nil {
		t.Fatal(err)
	}

	if err := c.RemoveVertex(&RemoveVertexArgs{Tx: tx.ID, Gid: a.Gid, CheckEmpty: true}, &Ack{}); err != nil {
		t.Fatal(err)
	}

	if err := c.Apply(&ApplyArgs{Tx: tx.ID}, &Ack{}); err == nil {
		t.Fatal("expected Apply to fail removing a non-empty vertex")
	}

	if !c.Engine.IsAborted(tx.ID) {
		t.Fatal("expected transaction to be aborted after a failed Apply")
	}

	c.mu.Lock()
	remaining := len(c.vertexUpdates) + len(c.edgeUpdates)
	c.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected buffered updates to be cleared after abort, got %d", remaining)
	}
}

/*
TestClearTransactionalCache checks that only buffers whose transaction
id is older than the oldest-active watermark are reclaimed (spec §4.7).
*/
func TestClearTransactionalCache(t *testing.T) {
	c := newTestCoordinator(t, 1)

	old := c.Engine.Begin()
	var v CreateVertexReply
	if err := c.CreateVertex(&CreateVertexArgs{Tx: old.ID, Labels: []string{"Person"}}, &v); err != nil {
		t.Fatal(err)
	}

	recent := c.Engine.Begin()
	if err := c.CreateVertex(&CreateVertexArgs{Tx: recent.ID, Labels: []string{"Person"}}, &v); err != nil {
		t.Fatal(err)
	}

	n := c.ClearTransactionalCache(recent.ID)
	if n != 1 {
		t.Fatalf("expected exactly one stale buffer reclaimed, got %d", n)
	}

	c.mu.Lock()
	_, stillOld := c.vertexUpdates[old.ID]
	_, stillRecent := c.vertexUpdates[recent.ID]
	c.mu.Unlock()
	if stillOld {
		t.Fatal("expected the old transaction's buffer to be gone")
	}
	if !stillRecent {
		t.Fatal("expected the recent transaction's buffer to remain")
	}
}

/*
TestRegisterWorkerRejectsConflictingID checks that a second worker trying
to claim an id already bound to a different endpoint is rejected rather
than silently overwriting the membership table.
*/
func TestRegisterWorkerRejectsConflictingID(t *testing.T) {
	c := newTestCoordinator(t, 1)

	var first RegisterWorkerReply
	if err := c.RegisterWorker(&RegisterWorkerArgs{DesiredID: 2, Endpoint: "10.0.0.2:9000"}, &first); err != nil {
		t.Fatal(err)
	}
	if !first.OK {
		t.Fatal("expected first registration to succeed")
	}

	var second RegisterWorkerReply
	if err := c.RegisterWorker(&RegisterWorkerArgs{DesiredID: 2, Endpoint: "10.0.0.3:9000"}, &second); err != nil {
		t.Fatal(err)
	}
	if second.OK {
		t.Fatal("expected conflicting registration to be rejected")
	}

	members := c.Members()
	if members[2] != "10.0.0.2:9000" {
		t.Fatalf("expected original endpoint to be retained, got %q", members[2])
	}
}
