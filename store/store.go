/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/internal/vlog"
	"github.com/vertexgraph/vgdb/txn"
)

var log = vlog.Get("store")

/*
Kind distinguishes vertex records from edge records; both live in the
same Gid space but in separate record maps so an edge and a vertex can
never collide on the same Accessor.
*/
type Kind int

const (
	KindVertex Kind = iota
	KindEdge
)

/*
Accessor is a transaction-bound handle to a record (spec glossary). It
pins the version visible to its transaction at the time it was obtained;
Reconstruct re-resolves it after the caller has yielded and wants a
fresh read.
*/
type Accessor struct {
	Gid  Gid
	Kind Kind
	tx   *txn.Transaction
	rec  *Record
	ver  *version
}

/*
IsTombstone reports whether the bound version represents a deletion.
*/
func (a *Accessor) IsTombstone() bool {
	return a.ver.isTombstone()
}

/*
Vertex returns the vertex payload of the bound version. Callers must not
mutate the returned value; use Store.Update to get a mutable clone.
*/
func (a *Accessor) Vertex() *VertexData {
	return a.ver.data.(*VertexData)
}

/*
Edge returns the edge payload of the bound version.
*/
func (a *Accessor) Edge() *EdgeData {
	return a.ver.data.(*EdgeData)
}

/*
Store is the MVCC record store (spec §4.2): versioned access to vertex
and edge records keyed by Gid, with write-lock enforcement and background
garbage collection of obsolete versions.
*/
type Store struct {
	eng    *txn.Engine
	worker int32

	mu      sync.RWMutex
	records map[Gid]*Record
	kinds   map[Gid]Kind
	counter uint64

	locks *lockStore

	heldMu sync.Mutex
	held   map[txn.TxID][]Gid

	gcInterval time.Duration
	cancel     context.CancelFunc
}

/*
NewStore creates a store for the given worker, backed by eng for
visibility decisions. lockTimeout bounds how long Update/Insert wait for
a conflicting writer; gcInterval is how often the background collector
runs (zero disables it).
*/
func NewStore(eng *txn.Engine, worker int32, lockTimeout, gcInterval time.Duration) *Store {
	s := &Store{
		eng:        eng,
		worker:     worker,
		records:    make(map[Gid]*Record),
		kinds:      make(map[Gid]Kind),
		locks:      newLockStore(eng, lockTimeout),
		held:       make(map[txn.TxID][]Gid),
		gcInterval: gcInterval,
	}

	if gcInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.gcLoop(ctx)
	}

	return s
}

/*
Worker returns the worker id this store allocates Gids under, needed by
callers (the executor's scan operators) that bind a bare Gid into a
full Address.
*/
func (s *Store) Worker() int32 {
	return s.worker
}

/*
Engine returns the transaction engine backing this store's visibility
decisions. WAL recovery needs it to reinstate a recovered transaction's
final commit state on the restarted engine.
*/
func (s *Store) Engine() *txn.Engine {
	return s.eng
}

/*
Close stops the background garbage collector.
*/
func (s *Store) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Store) nextGid() Gid {
	c := atomic.AddUint64(&s.counter, 1)
	return NewGid(s.worker, c)
}

/*
Find returns an accessor bound to t and to the version of gid visible to
t. It fails with ErrNotFound when no visible version exists.
*/
func (s *Store) Find(t *txn.Transaction, gid Gid) (*Accessor, error) {
	s.mu.RLock()
	rec, ok := s.records[gid]
	kind := s.kinds[gid]
	s.mu.RUnlock()

	if !ok {
		return nil, graphdberr.Wrap(graphdberr.ErrNotFound, gid.String())
	}

	v := rec.visible(s.eng, t.ID, t.Snapshot)
	if v == nil || v.isTombstone() {
		return nil, graphdberr.Wrap(graphdberr.ErrNotFound, gid.String())
	}

	return &Accessor{Gid: gid, Kind: kind, tx: t, rec: rec, ver: v}, nil
}

/*
Insert allocates a Gid and creates the initial version of a new record,
owned by t.
*/
func (s *Store) Insert(t *txn.Transaction, kind Kind, data interface{}) (*Accessor, error) {
	gid := s.nextGid()
	rec := &Record{}

	v := &version{data: data, txInserted: t.ID}
	rec.link(v)

	s.mu.Lock()
	s.records[gid] = rec
	s.kinds[gid] = kind
	s.mu.Unlock()

	s.trackLock(t.ID, gid)

	return &Accessor{Gid: gid, Kind: kind, tx: t, rec: rec, ver: v}, nil
}

/*
InsertAt creates the initial version of a new record at an
already-allocated gid, owned by t. Used by WAL recovery and by the
distributed coordinator's Apply RPC, where the Gid was decided by the
original transaction and must be reproduced exactly rather than
freshly allocated from this store's own counter.
*/
func (s *Store) InsertAt(t *txn.Transaction, gid Gid, kind Kind, data interface{}) error {
	rec := &Record{}

	v := &version{data: data, txInserted: t.ID}
	rec.link(v)

	s.mu.Lock()
	s.records[gid] = rec
	s.kinds[gid] = kind
	s.mu.Unlock()

	s.trackLock(t.ID, gid)

	return nil
}

/*
Update ensures t holds the write lock on the record behind acc, then
clones the visible payload into a mutable value, links it as the new
head, and expires the old head in t's name. The returned value may be
mutated freely by the caller before being handed back via the accessor's
next operation - the clone belongs to the transaction that produced it
until commit or rollback.
*/
func (s *Store) Update(acc *Accessor) (interface{}, error) {
	if err := s.locks.acquire(acc.Gid, acc.tx.ID); err != nil {
		return nil, err
	}
	s.trackLock(acc.tx.ID, acc.Gid)

	head := acc.rec.headUnsafe()

	if head != acc.ver {
		if head != nil && head.isTombstone() && s.committedAndVisible(acc.tx, head.txExpired) {
			return nil, graphdberr.Wrap(graphdberr.ErrRecordDeleted, acc.Gid.String())
		}
		return nil, graphdberr.Wrap(graphdberr.ErrSerialization, acc.Gid.String())
	}

	clone := cloneData(head.data)

	newVer := &version{data: clone, txInserted: acc.tx.ID}
	acc.rec.link(newVer)
	acc.rec.setExpired(head, acc.tx.ID)

	acc.ver = newVer

	return clone, nil
}

/*
Remove behaves like Update but marks the new head as a tombstone.
*/
func (s *Store) Remove(acc *Accessor) error {
	if err := s.locks.acquire(acc.Gid, acc.tx.ID); err != nil {
		return err
	}
	s.trackLock(acc.tx.ID, acc.Gid)

	head := acc.rec.headUnsafe()

	if head != acc.ver {
		if head != nil && head.isTombstone() && s.committedAndVisible(acc.tx, head.txExpired) {
			return graphdberr.Wrap(graphdberr.ErrRecordDeleted, acc.Gid.String())
		}
		return graphdberr.Wrap(graphdberr.ErrSerialization, acc.Gid.String())
	}

	tomb := &version{data: nil, txInserted: acc.tx.ID}
	acc.rec.link(tomb)
	acc.rec.setExpired(head, acc.tx.ID)

	acc.ver = tomb

	return nil
}

/*
Reconstruct re-resolves the version of acc's record visible to its
transaction. Used after a caller has yielded (e.g. across a Pull
boundary in the executor) and wants to observe the record's latest
state under its own snapshot.
*/
func (s *Store) Reconstruct(acc *Accessor) error {
	v := acc.rec.visible(s.eng, acc.tx.ID, acc.tx.Snapshot)
	if v == nil {
		return graphdberr.Wrap(graphdberr.ErrNotFound, acc.Gid.String())
	}
	acc.ver = v
	return nil
}

/*
ReleaseLocks drops every lock held by tx. Called once the transaction
has committed or aborted.
*/
func (s *Store) ReleaseLocks(tx txn.TxID) {
	s.heldMu.Lock()
	gids := s.held[tx]
	delete(s.held, tx)
	s.heldMu.Unlock()

	s.locks.releaseAll(tx, gids)
}

func (s *Store) trackLock(tx txn.TxID, gid Gid) {
	s.heldMu.Lock()
	defer s.heldMu.Unlock()

	for _, g := range s.held[tx] {
		if g == gid {
			return
		}
	}
	s.held[tx] = append(s.held[tx], gid)
}

/*
Scan returns an accessor for every record of the given kind that is
visible to t. This backs ScanAll (planner/executor) and BuildIndex
(store/index), which both need to walk the full committed vertex set.
*/
func (s *Store) Scan(t *txn.Transaction, kind Kind) []*Accessor {
	s.mu.RLock()
	gids := make([]Gid, 0, len(s.records))
	for gid, k := range s.kinds {
		if k == kind {
			gids = append(gids, gid)
		}
	}
	recs := make(map[Gid]*Record, len(gids))
	for _, gid := range gids {
		recs[gid] = s.records[gid]
	}
	s.mu.RUnlock()

	out := make([]*Accessor, 0, len(gids))
	for _, gid := range gids {
		rec := recs[gid]
		v := rec.visible(s.eng, t.ID, t.Snapshot)
		if v == nil || v.isTombstone() {
			continue
		}
		out = append(out, &Accessor{Gid: gid, Kind: kind, tx: t, rec: rec, ver: v})
	}
	return out
}

func (s *Store) committedAndVisible(t *txn.Transaction, expirer txn.TxID) bool {
	return expirer != 0 && s.eng.IsCommitted(expirer) && !t.Snapshot.Contains(expirer)
}

func cloneData(data interface{}) interface{} {
	switch v := data.(type) {
	case *VertexData:
		return v.Clone()
	case *EdgeData:
		return v.Clone()
	default:
		return v
	}
}

/*
headUnsafe returns the current head without filtering by visibility;
used internally by Update/Remove which have already taken the write
lock and need the raw chain state to detect conflicts.
*/
func (r *Record) headUnsafe() *version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.head
}

/*
gcLoop runs garbage collection on a fixed interval until ctx is
cancelled (spec §4.2: "a background task periodically computes oldest =
min(active ∪ {last_committed+1})...").
*/
func (s *Store) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.RunGC()
			if n > 0 {
				log.Debug("gc pruned ", n, " versions")
			}
		}
	}
}

/*
RunGC performs one garbage-collection pass and returns the number of
versions pruned. Exposed for tests and for callers that want
synchronous, on-demand collection instead of the background loop.
*/
func (s *Store) RunGC() int {
	oldest := s.eng.OldestActive()

	s.mu.RLock()
	recs := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	total := 0
	for _, r := range recs {
		total += r.gcPrune(s.eng, oldest)
	}
	return total
}
