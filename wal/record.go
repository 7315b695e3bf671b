/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package wal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc64"
	"io"

	"github.com/vertexgraph/vgdb/graphaccess"
)

var crcTable = crc64.MakeTable(crc64.ISO)

/*
On-disk record layout, grounded on the length-prefixed records read by
storage/file/transactionmanager.go's recover():

	[length:8 little-endian][gob-encoded StateDelta : length bytes][crc64:8 little-endian]

The trailer covers the encoded payload only, not the length prefix
itself - a truncated write leaves a dangling length with no matching
payload, which decodeEntry reports as a short read and Recover treats
as end of log rather than corruption.
*/

/*
encodeEntry gob-encodes d, and writes the length-prefixed, checksummed
record to w.
*/
func encodeEntry(w io.Writer, d graphaccess.StateDelta) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&d); err != nil {
		return fmt.Errorf("wal: encode delta: %w", err)
	}
	payload := buf.Bytes()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}

	sum := crc64.Checksum(payload, crcTable)
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], sum)
	if _, err := w.Write(sumBuf[:]); err != nil {
		return err
	}

	return nil
}

/*
errCorrupt marks a record whose checksum trailer did not match its
payload. Recovery treats it the same as a short read: stop replaying
this file, the tail was never fully flushed before a crash.
*/
var errCorrupt = fmt.Errorf("wal: checksum mismatch")

/*
decodeEntry reads one length-prefixed, checksummed record from r. io.EOF
(exactly at a record boundary) signals a clean end of stream; any other
error, including errCorrupt, signals a torn or corrupted tail.
*/
func decodeEntry(r io.Reader) (graphaccess.StateDelta, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return graphaccess.StateDelta{}, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return graphaccess.StateDelta{}, err
	}

	var sumBuf [8]byte
	if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
		return graphaccess.StateDelta{}, err
	}
	want := binary.LittleEndian.Uint64(sumBuf[:])
	if got := crc64.Checksum(payload, crcTable); got != want {
		return graphaccess.StateDelta{}, errCorrupt
	}

	var d graphaccess.StateDelta
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&d); err != nil {
		return graphaccess.StateDelta{}, fmt.Errorf("wal: decode delta: %w", err)
	}
	return d, nil
}
