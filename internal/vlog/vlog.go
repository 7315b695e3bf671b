/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package vlog is the logging setup shared by every layer of the engine. It
wraps github.com/krotik/common/logutil the way the teacher codebase wraps
it for its own subsystems: one scoped logger per package, a console sink
by default, and a switchable level.
*/
package vlog

import (
	"os"

	"github.com/krotik/common/logutil"
)

var currentLevel logutil.Level = logutil.Info

/*
SetLevel changes the minimum level which is printed by loggers created
with Get. Existing loggers pick up the new level on their next log call.
*/
func SetLevel(level logutil.Level) {
	currentLevel = level
}

/*
Get returns a scoped logger writing to stderr with the console formatter.
scope is usually the package name, e.g. "store" or "wal".
*/
func Get(scope string) logutil.Logger {
	l := logutil.GetLogger(scope)
	l.AddLogSink(currentLevel, logutil.ConsoleFormatter(), os.Stderr)
	return l
}
