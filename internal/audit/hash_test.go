package audit

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": map[string]any{"z": true, "y": "<x>"}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"y":"<x>","z":true},"b":1}`
	if string(a) != want {
		t.Fatalf("got %s want %s", a, want)
	}
}

func TestCanonicalizeSurvivesReencoding(t *testing.T) {
	// jsonb reorders keys and drops whitespace
	stored := json.RawMessage(`{ "z": 1.50, "a": [3, 2, {"k": "v", "c": null}] }`)
	got, err := Canonicalize(stored)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":[3,2,{"c":null,"k":"v"}],"z":1.50}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestCanonicalizeWritesPlainDecimals(t *testing.T) {
	cases := map[string]string{
		"1e-07":   "0.0000001",
		"1e+21":   "1000000000000000000000",
		"1.50":    "1.50",
		"1.500e1": "15.00",
		"1.5E-1":  "0.15",
		"-0":      "0",
		"-0.0":    "0.0",
		"-2.5e2":  "-250",
		"42":      "42",
	}
	for in, want := range cases {
		got, err := Canonicalize(json.RawMessage(`{"n":` + in + `}`))
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if string(got) != `{"n":`+want+`}` {
			t.Fatalf("%s: got %s want %s", in, got, want)
		}
	}
}

func TestCanonicalizeMatchesJSONBReadback(t *testing.T) {
	// Go writes 1e-07 and 1e+21, jsonb hands back the numeric rendering.
	written, err := Canonicalize(map[string]any{"small": 1e-7, "big": 1e21, "list": []any{2.5e-8}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	readback, err := Canonicalize(json.RawMessage(`{"big": 1000000000000000000000, "list": [0.000000025], "small": 0.0000001}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(written) != string(readback) {
		t.Fatalf("hash input drifted:\n%s\n%s", written, readback)
	}
}

func TestComputeHashDependsOnEveryInput(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 123456789, time.UTC)
	base := ComputeHash(GenesisHash, []byte(`{"a":1}`), ts)
	if len(base) != 64 {
		t.Fatalf("expected hex sha256, got %q", base)
	}
	if ComputeHash(GenesisHash, []byte(`{"a":1}`), ts.Add(time.Nanosecond)) != base {
		t.Fatalf("sub-microsecond precision must not affect the hash")
	}
	variants := []string{
		ComputeHash("1"+GenesisHash[1:], []byte(`{"a":1}`), ts),
		ComputeHash(GenesisHash, []byte(`{"a":2}`), ts),
		ComputeHash(GenesisHash, []byte(`{"a":1}`), ts.Add(time.Microsecond)),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d produced the same hash", i)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	ts := time.Date(2025, 1, 2, 6, 4, 5, 120000000, loc)
	if got := FormatTimestamp(ts); got != "2025-01-02T03:04:05.120000Z" {
		t.Fatalf("unexpected format %s", got)
	}
}
