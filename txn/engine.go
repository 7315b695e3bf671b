/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package txn is the transaction engine described in spec §4.1: it issues
monotonically increasing transaction ids, tracks the active/committed/
aborted sets, and produces the snapshots that give every other layer its
notion of visibility.

It is grounded on the teacher's habit of guarding all transaction-related
state behind a single mutex (see graph.Manager.mutex in the eliasdb
source this module started from) and on the Begin/Commit/Abort/snapshot
shape of a single-node transaction engine such as the one documented in
the original specification's storage-engine notes.
*/
package txn

import "sync"

/*
TxID identifies a transaction. Zero is never issued and is used by other
packages as a sentinel for "no transaction" (e.g. a live, unexpired
record).
*/
type TxID uint64

/*
State is the lifecycle state of a transaction.
*/
type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

/*
Snapshot is the set of transaction ids that were active at a
transaction's start. It never changes after creation, so readers may
share one copy wait-free.
*/
type Snapshot map[TxID]struct{}

/*
Contains reports whether id was active when the snapshot was taken.
*/
func (s Snapshot) Contains(id TxID) bool {
	_, ok := s[id]
	return ok
}

/*
Transaction is a single transaction's (id, snapshot, state) tuple.
*/
type Transaction struct {
	ID       TxID
	Snapshot Snapshot

	mu    sync.RWMutex
	state State
}

/*
State returns the current lifecycle state of the transaction.
*/
func (t *Transaction) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

/*
Engine is the transaction manager for one worker. All operations are
safe for concurrent use.
*/
type Engine struct {
	mu sync.Mutex

	counter TxID
	active  map[TxID]*Transaction

	// committed/aborted record the final state of every transaction this
	// engine has ever finalized, which is what lets package store's
	// visibility check classify a tx_inserted/tx_expired id it has never seen
	// active. A production engine would eventually compact this behind
	// the commit log's oldest-active watermark; spec's GC (§4.2) only
	// prunes record versions, not this bookkeeping, so it is left as is.
	committed map[TxID]struct{}
	aborted   map[TxID]struct{}
}

/*
NewEngine creates a fresh transaction engine with no active transactions.
*/
func NewEngine() *Engine {
	return &Engine{
		active:    make(map[TxID]*Transaction),
		committed: make(map[TxID]struct{}),
		aborted:   make(map[TxID]struct{}),
	}
}

/*
Begin allocates the next transaction id, records it as active, and
captures a snapshot of the transactions that were active at this moment
(excluding the new id itself).
*/
func (e *Engine) Begin() *Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.counter == ^TxID(0) {
		panic("txn: transaction id space exhausted")
	}
	e.counter++
	id := e.counter

	snap := make(Snapshot, len(e.active))
	for active := range e.active {
		snap[active] = struct{}{}
	}

	t := &Transaction{ID: id, Snapshot: snap, state: Active}
	e.active[id] = t

	return t
}

/*
Commit moves id out of the active set and into the committed set.
*/
func (e *Engine) Commit(id TxID) error {
	return e.finalize(id, Committed)
}

/*
Abort moves id out of the active set and into the aborted set.
*/
func (e *Engine) Abort(id TxID) error {
	return e.finalize(id, Aborted)
}

func (e *Engine) finalize(id TxID, final State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.active[id]
	if !ok {
		return nil
	}
	delete(e.active, id)

	if final == Committed {
		e.committed[id] = struct{}{}
	} else {
		e.aborted[id] = struct{}{}
	}

	t.setState(final)
	return nil
}

/*
Snapshot returns a copy of the globally active transaction id set.
*/
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := make(Snapshot, len(e.active))
	for id := range e.active {
		snap[id] = struct{}{}
	}
	return snap
}

/*
GlobalLast returns the most recently allocated transaction id.
*/
func (e *Engine) GlobalLast() TxID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

/*
OldestActive returns min(active ∪ {last_committed+1}), the watermark
below which no transaction can still need old versions. This is the
quantity the record-store garbage collector uses (spec §4.2).
*/
func (e *Engine) OldestActive() TxID {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldest := e.counter + 1
	for id := range e.active {
		if id < oldest {
			oldest = id
		}
	}
	return oldest
}

/*
IsCommitted reports whether id is known to have committed.
*/
func (e *Engine) IsCommitted(id TxID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.committed[id]
	return ok
}

/*
IsActive reports whether id is currently active.
*/
func (e *Engine) IsActive(id TxID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[id]
	return ok
}

/*
IsAborted reports whether id is known to have aborted.
*/
func (e *Engine) IsAborted(id TxID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.aborted[id]
	return ok
}

/*
AdvanceTo bumps the engine's id counter so the next Begin issues an id
strictly greater than id. Used by WAL recovery to make sure a restarted
engine never reissues a transaction id that was already used - committed,
aborted, or left dangling by a crash - before the restart.
*/
func (e *Engine) AdvanceTo(id TxID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id > e.counter {
		e.counter = id
	}
}

/*
AdoptCommitted marks id as committed without it ever having gone through
Begin/Commit on this engine instance, and advances the counter past it.
WAL recovery uses this to reinstate the final state of a transaction that
committed before a crash, so snapshots taken by transactions begun after
restart see its writes exactly as they were before the crash (spec §4.6,
§8 scenario 5).
*/
func (e *Engine) AdoptCommitted(id TxID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed[id] = struct{}{}
	if id > e.counter {
		e.counter = id
	}
}

/*
AdoptForeign registers id - minted by the transaction engine of whichever
worker the client's transaction began on - as active on this engine, if
it is not already, and returns its local Transaction handle. A worker
that only participates in a cross-worker transaction via RPC never calls
Begin itself; it still needs an active *Transaction to pass to the
record store for lock tracking and visibility, so it adopts the foreign
id instead of minting its own (spec §4.7: every coordinator RPC is keyed
by transaction id).

The returned Transaction carries an empty snapshot: a participant
worker's record reads always happen on behalf of the coordinating
worker's already-decided visibility, never independently, so there is
nothing for it to exclude.
*/
func (e *Engine) AdoptForeign(id TxID) *Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.active[id]; ok {
		return t
	}
	if id > e.counter {
		e.counter = id
	}
	t := &Transaction{ID: id, Snapshot: Snapshot{}, state: Active}
	e.active[id] = t
	return t
}
