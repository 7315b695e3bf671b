/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package wal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vertexgraph/vgdb/graphaccess"
	"github.com/vertexgraph/vgdb/store/index"
	"github.com/vertexgraph/vgdb/txn"
)

/*
segmentFiles returns every rotated wal-<tx>.bin file in dir, oldest
first, followed by the active segment if present - the order recovery
must replay in.
*/
func segmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type rotated struct {
		name string
		tx   uint64
	}
	var segs []rotated
	hasActive := false

	for _, e := range entries {
		name := e.Name()
		if name == activeFileName {
			hasActive = true
			continue
		}
		if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".bin")
		n, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, rotated{name: name, tx: n})
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].tx < segs[j].tx })

	out := make([]string, 0, len(segs)+1)
	for _, s := range segs {
		out = append(out, filepath.Join(dir, s.name))
	}
	if hasActive {
		out = append(out, filepath.Join(dir, activeFileName))
	}
	return out, nil
}

/*
Recover replays every committed transaction found in dir's WAL segments
against g, in commit order, and returns the highest transaction id it
observed (committed or not) so the caller can fast-forward its
transaction engine's counter past it. cat, if non-nil, is the catalog a
BUILD_INDEX delta in the log is replayed against, so a label-property
index declared before the crash exists again once recovery finishes
(spec §4.3, §4.6); a nil cat silently drops any BUILD_INDEX delta found,
for callers that run without a catalog at all.

A transaction's deltas are buffered as they are read; they are applied
only once a TRANSACTION_COMMIT delta for the same transaction id is
seen. A transaction whose run ends in TRANSACTION_ABORT, or is still
open when a segment ends (a crash mid-write), is discarded entirely -
this is the "discard uncommitted transactions on recovery" contract
(spec §4.6, §8 scenario 5).
*/
func Recover(dir string, g *graphaccess.Graph, cat *index.Catalog) (txn.TxID, error) {
	files, err := segmentFiles(dir)
	if err != nil {
		return 0, err
	}

	pending := make(map[txn.TxID][]graphaccess.StateDelta)
	var maxTx txn.TxID

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return maxTx, err
		}

		for {
			d, derr := decodeEntry(f)
			if derr != nil {
				if errors.Is(derr, io.EOF) || errors.Is(derr, io.ErrUnexpectedEOF) || errors.Is(derr, errCorrupt) {
					// Torn or corrupt tail: this segment's writer crashed
					// mid-record. Stop reading this file; later segments
					// (if any) still get a chance.
					break
				}
				f.Close()
				return maxTx, derr
			}

			if d.Tx > maxTx {
				maxTx = d.Tx
			}

			switch d.Type {
			case graphaccess.TxCommit:
				run := pending[d.Tx]
				delete(pending, d.Tx)
				if err := replayRun(g, cat, d.Tx, run); err != nil {
					f.Close()
					return maxTx, err
				}

			case graphaccess.TxAbort:
				delete(pending, d.Tx)

			default:
				pending[d.Tx] = append(pending[d.Tx], d)
			}
		}

		f.Close()
	}

	g.Store.Engine().AdvanceTo(maxTx)

	return maxTx, nil
}

/*
replayRun applies every delta of a committed transaction's run, in a
single fresh local transaction bound to the same id, so visibility
bookkeeping (Gid allocation aside - replay always targets a specific
Gid via Graph.Apply) lines up with what originally happened. A
BUILD_INDEX delta is replayed against cat instead of g.Apply (which
treats it as a no-op, see graphaccess.Graph.Apply), since rebuilding an
index requires scanning the already-replayed vertex set rather than
mutating a single record. Once every delta has been reapplied, the
transaction id is adopted as committed on the live engine, so
transactions begun after restart see these writes exactly as they were
before the crash.
*/
func replayRun(g *graphaccess.Graph, cat *index.Catalog, id txn.TxID, run []graphaccess.StateDelta) error {
	t := &txn.Transaction{ID: id, Snapshot: txn.Snapshot{}}
	for _, d := range run {
		if d.Type == graphaccess.BuildIndex {
			if cat != nil {
				cat.BuildIndex(t, g, d.IndexLabel, d.IndexProperty)
			}
			continue
		}
		if err := g.Apply(t, d); err != nil {
			return err
		}
	}
	g.Store.Engine().AdoptCommitted(id)
	return nil
}
