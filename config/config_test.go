package config

import (
	"os"
	"testing"
)

const testconf = "testconfig.json"

func TestConfig(t *testing.T) {
	Config = nil

	if err := os.WriteFile(testconf, []byte(`{
    "SynchronousCommit": false,
    "LockTimeoutMs": 5000
}`), 0644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(testconf)

	if err := LoadConfigFile(testconf); err != nil {
		t.Error(err)
		return
	}

	if res := Bool(SynchronousCommit); res {
		t.Error("Unexpected result:", res)
	}

	if res := Int(LockTimeoutMs); res != 5000 {
		t.Error("Unexpected result:", res)
	}

	if res := Str(DurabilityDirectory); res != DefaultConfig[DurabilityDirectory] {
		t.Error("Unexpected result:", res)
	}

	LoadDefaultConfig()

	if res := Bool(SynchronousCommit); !res {
		t.Error("Unexpected result:", res)
	}

	if res := Int(WALRotateDeltasCount); res != 100000 {
		t.Error("Unexpected result:", res)
	}
}

func TestConfigMissingFile(t *testing.T) {
	if err := LoadConfigFile("does-not-exist.json"); err == nil {
		t.Error("expected error for missing config file")
	}
}
