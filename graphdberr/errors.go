/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package graphdberr contains the error kinds surfaced by the core engine.

Every layer below the client boundary returns one of the sentinel errors
in this package, optionally wrapped with a detail string by Wrap (an
*Error whose Unwrap returns the sentinel) so that callers can use
errors.Is to classify a failure without parsing strings.
*/
package graphdberr

import "errors"

/*
Sentinel error kinds. See spec §7 for the propagation contract of each.
*/
var (
	// ErrSerialization signals an MVCC write-write conflict; the
	// transaction must abort and may retry.
	ErrSerialization = errors.New("serialization error")

	// ErrLockTimeout signals a record-lock wait exceeded the deadline.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrRecordDeleted signals an update targeted a version expired by a
	// committed transaction.
	ErrRecordDeleted = errors.New("record deleted")

	// ErrUnableToDeleteVertex signals a check_empty removal found
	// incident edges.
	ErrUnableToDeleteVertex = errors.New("unable to delete vertex: has edges")

	// ErrNotFound signals no visible version of the requested Gid.
	ErrNotFound = errors.New("not found")

	// ErrRPCFailure signals a worker call failed or timed out.
	ErrRPCFailure = errors.New("rpc failure")

	// ErrWALWrite is fatal: the database must refuse further commits.
	ErrWALWrite = errors.New("wal write failure")

	// ErrQuery signals a semantic error surfaced by the planner.
	ErrQuery = errors.New("query error")
)

/*
Error wraps a sentinel with a detail string while remaining
errors.Is-compatible with the sentinel it wraps.
*/
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Kind
}

/*
Wrap creates an *Error for a given sentinel kind and detail message.
*/
func Wrap(kind error, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}
