/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package store

import (
	"sync"

	"github.com/vertexgraph/vgdb/txn"
)

/*
version is one entry of a Record's version chain.
*/
type version struct {
	data       interface{} // *VertexData or *EdgeData
	txInserted txn.TxID
	txExpired  txn.TxID // zero means live
	next       *version // newer version, or nil
}

/*
Record is the version list for a single logical entity (spec §3). Version
chains are append-only: once a version is linked, it is never mutated
again, only superseded by a new head.
*/
type Record struct {
	mu   sync.RWMutex
	head *version
}

/*
visible walks the chain from head and returns the version visible to the
given snapshot under the engine's committed/aborted bookkeeping, per the
rule in spec §3:

	a version is visible iff its tx_inserted is committed and not in the
	snapshot, and its tx_expired either is zero, is still active, is
	aborted, or is in the snapshot.

own is the id of the transaction doing the lookup: a transaction always
sees its own uncommitted writes. A transaction with a higher id than own
began after own did, so a version it inserted is not visible to own and
a version it expired still is.
*/
func (r *Record) visible(eng *txn.Engine, own txn.TxID, snap txn.Snapshot) *version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for v := r.head; v != nil; v = v.next {
		if !insertedVisible(eng, own, snap, v.txInserted) {
			continue
		}
		if !expiredVisible(eng, own, snap, v.txExpired) {
			continue
		}
		return v
	}
	return nil
}

func insertedVisible(eng *txn.Engine, own txn.TxID, snap txn.Snapshot, inserter txn.TxID) bool {
	if inserter == own {
		return true
	}
	if inserter > own {
		return false
	}
	return eng.IsCommitted(inserter) && !snap.Contains(inserter)
}

func expiredVisible(eng *txn.Engine, own txn.TxID, snap txn.Snapshot, expirer txn.TxID) bool {
	if expirer == 0 {
		return true
	}
	if expirer == own {
		// Own transaction has expired this version itself (e.g. via a
		// second Update in the same tx) - the new head should be used
		// instead, so this one is not visible.
		return false
	}
	if expirer > own {
		return true
	}
	if eng.IsAborted(expirer) {
		return true
	}
	if snap.Contains(expirer) {
		return true
	}
	if !eng.IsCommitted(expirer) {
		// Still active and not our own: neither committed nor aborted.
		return true
	}
	return false
}

/*
link appends a new head to the version chain and returns the version it
superseded, if any.
*/
func (r *Record) link(v *version) *version {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.head
	v.next = old
	r.head = v
	return old
}

/*
setExpired marks v as expired by the given transaction under the
record's lock, so concurrent readers walking the chain in visible()
never observe a half-written field.
*/
func (r *Record) setExpired(v *version, by txn.TxID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.txExpired = by
}

/*
gcPrune unlinks every version whose txExpired is committed with an id
strictly below oldest, keeping only the suffix of the chain that might
still be visible to some transaction. It returns the number of versions
removed.
*/
func (r *Record) gcPrune(eng *txn.Engine, oldest txn.TxID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	cur := r.head
	var prev *version

	for cur != nil {
		if cur.txExpired != 0 && eng.IsCommitted(cur.txExpired) && cur.txExpired < oldest {
			// Unlink cur; nothing older than oldest can still need it.
			next := cur.next
			if prev == nil {
				r.head = next
			} else {
				prev.next = next
			}
			removed++
			cur = next
			continue
		}
		prev = cur
		cur = cur.next
	}

	return removed
}

/*
isTombstone reports whether a version represents a deleted record.
*/
func (v *version) isTombstone() bool {
	return v.data == nil
}
