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
	"time"

	"github.com/vertexgraph/vgdb/graphdberr"
	"github.com/vertexgraph/vgdb/txn"
)

/*
lockStore is a per-record lock table mapping a record to its holding
transaction. Acquisition blocks up to a configured timeout. Deadlocks are
avoided by wound-wait: on conflict the younger transaction is aborted so
the older one can proceed, grounded on the reader/writer precedence rule
in the original engine's rw_lock (spec design note §9 generalizes this to
whole-record exclusive locks, since only one writer per version list is
ever required).
*/
type lockStore struct {
	mu      sync.Mutex
	holders map[Gid]txn.TxID
	waiters map[Gid][]chan struct{}

	eng     *txn.Engine
	timeout time.Duration
}

func newLockStore(eng *txn.Engine, timeout time.Duration) *lockStore {
	return &lockStore{
		holders: make(map[Gid]txn.TxID),
		waiters: make(map[Gid][]chan struct{}),
		eng:     eng,
		timeout: timeout,
	}
}

/*
acquire obtains the write lock on gid for tx, wounding a younger holder
or waiting for an older one, up to the configured timeout.
*/
func (l *lockStore) acquire(gid Gid, tx txn.TxID) error {
	deadline := time.Now().Add(l.timeout)

	for {
		l.mu.Lock()

		holder, held := l.holders[gid]

		if !held || holder == tx {
			l.holders[gid] = tx
			l.mu.Unlock()
			return nil
		}

		if !l.eng.IsActive(holder) {
			// Holder already finished; the lock was never released
			// (e.g. after an abort) - reclaim it.
			l.holders[gid] = tx
			l.mu.Unlock()
			return nil
		}

		if tx < holder {
			// Wound: we are older, the younger holder must abort.
			l.eng.Abort(holder)
			l.holders[gid] = tx
			l.notifyLocked(gid)
			l.mu.Unlock()
			return nil
		}

		// Wait: we are younger, back off until the holder releases or
		// the deadline passes.
		wait := make(chan struct{})
		l.waiters[gid] = append(l.waiters[gid], wait)
		l.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return graphdberr.Wrap(graphdberr.ErrLockTimeout, "record "+gid.String())
		}

		select {
		case <-wait:
		case <-time.After(remaining):
			return graphdberr.Wrap(graphdberr.ErrLockTimeout, "record "+gid.String())
		}
	}
}

/*
release drops the lock held by tx on gid, if any, and wakes one waiter.
*/
func (l *lockStore) release(gid Gid, tx txn.TxID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holders[gid] == tx {
		delete(l.holders, gid)
	}
	l.notifyLocked(gid)
}

/*
releaseAll drops every lock held by tx, used at transaction end.
*/
func (l *lockStore) releaseAll(tx txn.TxID, held []Gid) {
	for _, gid := range held {
		l.release(gid, tx)
	}
}

func (l *lockStore) notifyLocked(gid Gid) {
	waiters := l.waiters[gid]
	if len(waiters) == 0 {
		return
	}
	for _, w := range waiters {
		close(w)
	}
	delete(l.waiters, gid)
}
