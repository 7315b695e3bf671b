/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package config loads and exposes the runtime configuration recognized by
the engine (spec §6). It mirrors the load/accessor idiom of the teacher's
own config package: a package-level Config map populated from a JSON file
or from DefaultConfig, with typed Str/Int/Bool accessors.
*/
package config

import (
	"encoding/json"
	"os"
	"strconv"
)

/*
Recognized configuration keys.
*/
const (
	DurabilityDirectory    = "DurabilityDirectory"
	DurabilityEnabled      = "DurabilityEnabled"
	SynchronousCommit      = "SynchronousCommit"
	WALFlushIntervalMs     = "WALFlushIntervalMs"
	WALRotateDeltasCount   = "WALRotateDeltasCount"
	QueryExecutionTimeoutS = "QueryExecutionTimeoutSec"
	LockTimeoutMs          = "LockTimeoutMs"
)

/*
DefaultConfig contains the default configuration values. All values are
stored as strings; accessors convert on read.
*/
var DefaultConfig = map[string]string{
	DurabilityDirectory:    "durability",
	DurabilityEnabled:      "true",
	SynchronousCommit:      "true",
	WALFlushIntervalMs:     "2000",
	WALRotateDeltasCount:   "100000",
	QueryExecutionTimeoutS: "180",
	LockTimeoutMs:          "1000",
}

/*
Config is the currently loaded configuration. It is nil until
LoadConfigFile or LoadDefaultConfig is called.
*/
var Config map[string]interface{}

/*
LoadDefaultConfig resets Config to DefaultConfig.
*/
func LoadDefaultConfig() {
	Config = make(map[string]interface{})
	for k, v := range DefaultConfig {
		Config[k] = v
	}
}

/*
LoadConfigFile loads configuration from a JSON file, filling in any key
missing from the file with its default value.
*/
func LoadConfigFile(filename string) error {
	LoadDefaultConfig()

	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	overrides := make(map[string]interface{})
	if err := json.NewDecoder(f).Decode(&overrides); err != nil {
		return err
	}

	for k, v := range overrides {
		Config[k] = v
	}

	return nil
}

/*
Str returns the string representation of a configuration value.
*/
func Str(key string) string {
	if Config == nil {
		LoadDefaultConfig()
	}
	switch v := Config[key].(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return DefaultConfig[key]
	}
}

/*
Int returns the integer representation of a configuration value.
*/
func Int(key string) int {
	i, err := strconv.Atoi(Str(key))
	if err != nil {
		i, _ = strconv.Atoi(DefaultConfig[key])
	}
	return i
}

/*
Bool returns the boolean representation of a configuration value.
*/
func Bool(key string) bool {
	b, err := strconv.ParseBool(Str(key))
	if err != nil {
		b, _ = strconv.ParseBool(DefaultConfig[key])
	}
	return b
}
