package store

import (
	"errors"
	"testing"
	"time"

	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/txn"
)

func newTestStore() (*txn.Engine, *Store) {
	eng := txn.NewEngine()
	s := NewStore(eng, 1, 200*time.Millisecond, 0)
	return eng, s
}

func mustInsertVertex(t *testing.T, s *Store, tx *txn.Transaction, label string) *Accessor {
	v := NewVertexData()
	v.Labels[label] = struct{}{}
	acc, err := s.Insert(tx, KindVertex, v)
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

func TestSnapshotIsolation(t *testing.T) {
	eng, s := newTestStore()

	a := eng.Begin()
	b := eng.Begin()

	acc := mustInsertVertex(t, s, b, "Person")
	if err := eng.Commit(b.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Find(a, acc.Gid); err == nil {
		t.Fatal("expected NotFound, A started before B committed")
	} else if !errors.Is(err, graphdberr.ErrNotFound) {
		t.Fatal("expected NotFound, got", err)
	}

	c := eng.Begin()
	if _, err := s.Find(c, acc.Gid); err != nil {
		t.Fatal("C should see the committed vertex:", err)
	}
}

func TestWriteWriteConflict(t *testing.T) {
	eng, s := newTestStore()

	setup := eng.Begin()
	acc0 := mustInsertVertex(t, s, setup, "Person")
	eng.Commit(setup.ID)

	a := eng.Begin()
	b := eng.Begin()

	accA, err := s.Find(a, acc0.Gid)
	if err != nil {
		t.Fatal(err)
	}
	accB, err := s.Find(b, acc0.Gid)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Update(accA); err != nil {
		t.Fatal("A should acquire the lock:", err)
	}

	_, errB := s.Update(accB)
	if errB == nil {
		t.Fatal("expected B to conflict with A")
	}
	if !errors.Is(errB, graphdberr.ErrLockTimeout) && !errors.Is(errB, graphdberr.ErrSerialization) {
		t.Fatal("expected LockTimeout or SerializationError, got", errB)
	}

	if err := eng.Commit(a.ID); err != nil {
		t.Fatal(err)
	}
	eng.Abort(b.ID)
	s.ReleaseLocks(a.ID)
	s.ReleaseLocks(b.ID)

	verify := eng.Begin()
	final, err := s.Find(verify, acc0.Gid)
	if err != nil {
		t.Fatal(err)
	}
	if !final.Vertex().HasLabel("Person") {
		t.Fatal("winner's value should be visible")
	}
}

func TestRemoveNotFoundAfterCommit(t *testing.T) {
	eng, s := newTestStore()

	setup := eng.Begin()
	acc0 := mustInsertVertex(t, s, setup, "Person")
	eng.Commit(setup.ID)

	del := eng.Begin()
	accDel, err := s.Find(del, acc0.Gid)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(accDel); err != nil {
		t.Fatal(err)
	}
	eng.Commit(del.ID)
	s.ReleaseLocks(del.ID)

	after := eng.Begin()
	if _, err := s.Find(after, acc0.Gid); !errors.Is(err, graphdberr.ErrNotFound) {
		t.Fatal("expected NotFound after committed remove, got", err)
	}
}

func TestGCPrunesExpiredVersions(t *testing.T) {
	eng, s := newTestStore()

	setup := eng.Begin()
	acc0 := mustInsertVertex(t, s, setup, "Person")
	eng.Commit(setup.ID)
	s.ReleaseLocks(setup.ID)

	upd := eng.Begin()
	accU, err := s.Find(upd, acc0.Gid)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(accU); err != nil {
		t.Fatal(err)
	}
	eng.Commit(upd.ID)
	s.ReleaseLocks(upd.ID)

	if n := s.RunGC(); n != 1 {
		t.Fatalf("expected 1 version pruned, got %d", n)
	}
}
