package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hkwi/nlink"
)

func TestReadConf(t *testing.T) {
	populated := DefaultConfig
	populated.LogLevel = "debug"
	populated.Timeout = 250
	populated.Index = 2
	populated.Name = "eth0"
	populated.Hub.QueueLength = 64
	populated.Hub.StrictCheck = true

	tests := map[string]Config{
		"":                        DefaultConfig,
		"testdata/defaults.yaml":  DefaultConfig,
		"testdata/populated.yaml": populated,
	}

	for path, want := range tests {
		c, err := ReadConf(path)
		if err != nil {
			t.Fatalf("error parsing %q: %v", path, err)
		}
		t.Logf("%s:\n%s", path, c)
		if diff := cmp.Diff(want, *c, cmpopts.IgnoreFields(nlink.Config{}, "Logger", "Registerer")); diff != "" {
			t.Errorf("%q mismatch (-want +got):\n%s", path, diff)
		}
	}
}

func TestReadConfErrors(t *testing.T) {
	for _, path := range []string{"testdata/badlevel.yaml", "testdata/missing.yaml"} {
		if _, err := ReadConf(path); err == nil {
			t.Errorf("%q: expected an error", path)
		}
	}
}
