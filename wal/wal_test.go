/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package wal

import (
	"testing"
	"time"

	"github.com/vertexgraph/vgdb/graphaccess"
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/store/index"
	"github.com/vertexgraph/vgdb/txn"
)

func newTestWAL(t *testing.T, dir string) *WAL {
	t.Helper()
	w, err := Open(Options{
		Directory:     dir,
		Enabled:       true,
		Synchronous:   true,
		FlushInterval: 20 * time.Millisecond,
		RingSize:      64,
	})
	if err != nil {
		t.Fatal(err)
	}
	return w
}

/*
TestRecoverReplaysCommittedDiscardsDangling covers the crash scenario of
spec §8 scenario 5: ten vertices are created and committed, an eleventh
transaction creates a vertex but never commits (the write-side of a
process that died before emitting TRANSACTION_COMMIT). After recovery
against a fresh store, exactly the ten committed vertices are visible and
the uncommitted eleventh is not.
*/
func TestRecoverReplaysCommittedDiscardsDangling(t *testing.T) {
	dir := t.TempDir()
	w := newTestWAL(t, dir)

	eng := txn.NewEngine()
	st := store.NewStore(eng, 1, 200*time.Millisecond, 0)
	g := graphaccess.NewGraph(st)

	const committed = 10
	for i := 0; i < committed; i++ {
		tx := eng.Begin()
		_, delta, err := g.CreateVertex(tx, []string{"Person"}, map[string]store.Value{"i": int64(i)})
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Emplace(delta); err != nil {
			t.Fatal(err)
		}
		if err := eng.Commit(tx.ID); err != nil {
			t.Fatal(err)
		}
		if err := w.Emplace(graphaccess.StateDelta{Type: graphaccess.TxCommit, Tx: tx.ID}); err != nil {
			t.Fatal(err)
		}
	}

	// A transaction that wrote a delta and then crashed before ever
	// committing. Its record must not survive recovery.
	dangling := eng.Begin()
	_, danglingDelta, err := g.CreateVertex(dangling, []string{"Person"}, map[string]store.Value{"i": int64(99)})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Emplace(danglingDelta); err != nil {
		t.Fatal(err)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	restartEng := txn.NewEngine()
	restartStore := store.NewStore(restartEng, 1, 200*time.Millisecond, 0)
	restartGraph := graphaccess.NewGraph(restartStore)

	maxTx, err := Recover(dir, restartGraph, nil)
	if err != nil {
		t.Fatal(err)
	}
	if maxTx < dangling.ID {
		t.Fatalf("expected recovered max tx id to cover the dangling transaction, got %d want >= %d", maxTx, dangling.ID)
	}

	reader := restartEng.Begin()
	accs := restartStore.Scan(reader, store.KindVertex)
	if len(accs) != committed {
		t.Fatalf("expected %d recovered vertices, got %d", committed, len(accs))
	}

	seen := make(map[int64]bool)
	for _, acc := range accs {
		v, ok := acc.Vertex().Properties["i"].(int64)
		if !ok {
			t.Fatalf("recovered vertex missing int property i: %+v", acc.Vertex())
		}
		seen[v] = true
	}
	for i := 0; i < committed; i++ {
		if !seen[int64(i)] {
			t.Fatalf("expected recovered vertex with i=%d", i)
		}
	}
	if seen[99] {
		t.Fatal("uncommitted vertex from the dangling transaction is observable after recovery")
	}

	// A transaction begun after restart must not be able to reuse an id
	// that was already used before the crash.
	if reader.ID <= dangling.ID {
		t.Fatalf("post-restart transaction id %d collides with pre-crash id %d", reader.ID, dangling.ID)
	}
}

/*
TestRecoverDiscardsAbortedRun checks that a transaction whose run ends in
TRANSACTION_ABORT contributes nothing to the recovered state, even though
its deltas were durably written before the abort.
*/
func TestRecoverDiscardsAbortedRun(t *testing.T) {
	dir := t.TempDir()
	w := newTestWAL(t, dir)

	eng := txn.NewEngine()
	st := store.NewStore(eng, 1, 200*time.Millisecond, 0)
	g := graphaccess.NewGraph(st)

	tx := eng.Begin()
	_, delta, err := g.CreateVertex(tx, []string{"Person"}, map[string]store.Value{"name": "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Emplace(delta); err != nil {
		t.Fatal(err)
	}
	if err := eng.Abort(tx.ID); err != nil {
		t.Fatal(err)
	}
	if err := w.Emplace(graphaccess.StateDelta{Type: graphaccess.TxAbort, Tx: tx.ID}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	restartEng := txn.NewEngine()
	restartStore := store.NewStore(restartEng, 1, 200*time.Millisecond, 0)
	restartGraph := graphaccess.NewGraph(restartStore)

	if _, err := Recover(dir, restartGraph, nil); err != nil {
		t.Fatal(err)
	}

	reader := restartEng.Begin()
	accs := restartStore.Scan(reader, store.KindVertex)
	if len(accs) != 0 {
		t.Fatalf("expected no vertices after an aborted run, got %d", len(accs))
	}
}

/*
TestDisabledWALIsNoOp makes sure a WAL opened with Enabled: false accepts
Emplace without ever touching the filesystem, so an in-memory-only
configuration can skip durability without special-casing every call site.
*/
func TestDisabledWALIsNoOp(t *testing.T) {
	w, err := Open(Options{Directory: t.TempDir(), Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if w.Enabled() {
		t.Fatal("expected a disabled WAL to report Enabled() == false")
	}
	if err := w.Emplace(graphaccess.StateDelta{Type: graphaccess.TxCommit, Tx: 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

/*
TestRecoverReplaysBuildIndex covers spec §4.3's "logs a BUILD_INDEX delta
so recovery rebuilds it": an index declared before a crash must come
back populated after Recover runs against a fresh catalog, not just the
vertices it was built from.
*/
func TestRecoverReplaysBuildIndex(t *testing.T) {
	dir := t.TempDir()
	w := newTestWAL(t, dir)

	eng := txn.NewEngine()
	st := store.NewStore(eng, 1, 200*time.Millisecond, 0)
	g := graphaccess.NewGraph(st)
	cat := index.NewCatalog()

	tx := eng.Begin()
	gid, delta, err := g.CreateVertex(tx, []string{"Person"}, map[string]store.Value{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Emplace(delta); err != nil {
		t.Fatal(err)
	}
	if err := eng.Commit(tx.ID); err != nil {
		t.Fatal(err)
	}
	if err := w.Emplace(graphaccess.StateDelta{Type: graphaccess.TxCommit, Tx: tx.ID}); err != nil {
		t.Fatal(err)
	}
	cat.LabelIndex().Add("Person", gid)

	buildTx := eng.Begin()
	if _, buildDelta := cat.BuildIndex(buildTx, g, "Person", "name"); true {
		if err := w.Emplace(buildDelta); err != nil {
			t.Fatal(err)
		}
	}
	if err := eng.Commit(buildTx.ID); err != nil {
		t.Fatal(err)
	}
	if err := w.Emplace(graphaccess.StateDelta{Type: graphaccess.TxCommit, Tx: buildTx.ID}); err != nil {
		t.Fatal(err)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	restartEng := txn.NewEngine()
	restartStore := store.NewStore(restartEng, 1, 200*time.Millisecond, 0)
	restartGraph := graphaccess.NewGraph(restartStore)
	restartCat := index.NewCatalog()

	if _, err := Recover(dir, restartGraph, restartCat); err != nil {
		t.Fatal(err)
	}

	idx := restartCat.LabelProperty("Person", "name")
	if idx == nil {
		t.Fatal("expected the label-property index to exist after recovery")
	}
	if got := idx.PointLookup("ada"); len(got) != 1 || got[0] != gid {
		t.Fatalf("expected recovered index to map %q to %v, got %v", "ada", gid, got)
	}
}
