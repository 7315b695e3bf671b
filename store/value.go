/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package store

import (
	"encoding/gob"
	"fmt"
)

/*
Value is a property value. The concrete Go type carried inside is one of
bool, int64, float64, string, or []Value for lists; any other underlying
type is accepted but treated as non-orderable.
*/
type Value interface{}

func init() {
	// Every concrete type ever stored in a Value field must be registered
	// with gob so StateDelta values survive the WAL and the distributed
	// RPC codec, both of which carry property maps through interface{}.
	gob.Register(bool(false))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register([]Value(nil))
}

/*
Compare orders two property values. The second return value is false if
a and b are not of comparable types (spec §4.3's "degenerate bucket");
a range scan never matches such values against a bound it cannot
compare them with.
*/
func Compare(a, b Value) (int, bool) {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, bv), true
		case float64:
			return cmpOrdered(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, float64(bv)), true
		case float64:
			return cmpOrdered(av, bv), true
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmpOrdered(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmpOrdered(boolToInt(av), boolToInt(bv)), true
		}
	}
	return 0, false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cmpOrdered[T int | int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

/*
Equal reports whether a and b represent the same property value.
*/
func Equal(a, b Value) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
