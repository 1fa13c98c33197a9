package gtdlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMissingFromRemote_AndGraft_RoundTrip(t *testing.T) {
	local := newTestStore(t)
	env := NewEnvelope(DeriveKey("pw"))

	line0, err := env.Encrypt([]byte("t a1 first"), "r1", 0)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := local.RawWrite("r1", 0, []byte(line0)); err != nil {
		t.Fatalf("RawWrite: %v", err)
	}
	off1 := int64(len(line0))
	line1, err := env.Encrypt([]byte("t a2 second"), "r1", off1)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := local.RawWrite("r1", off1, []byte(line1)); err != nil {
		t.Fatalf("RawWrite: %v", err)
	}

	localOffs, err := local.Offsets()
	if err != nil {
		t.Fatalf("Offsets: %v", err)
	}

	// Remote has only the first record.
	remoteOffs := OffsetMap{"r1": off1}

	payload, err := MissingFromRemote(local, localOffs, remoteOffs)
	if err != nil {
		t.Fatalf("MissingFromRemote: %v", err)
	}
	seg, ok := payload["r1"]
	if !ok {
		t.Fatal("expected a payload segment for r1")
	}
	if seg.Start != off1 {
		t.Fatalf("expected segment to start at %d, got %d", off1, seg.Start)
	}
	if string(seg.Data) != line1 {
		t.Fatalf("segment data mismatch: got %q want %q", seg.Data, line1)
	}

	// Graft that payload onto a fresh "remote" store that already has the
	// first record but nothing past it.
	remote := newTestStore(t)
	if err := remote.RawWrite("r1", 0, []byte(line0)); err != nil {
		t.Fatalf("RawWrite: %v", err)
	}

	if !IsGapless(remoteOffs, payload) {
		t.Fatal("expected payload to be gapless relative to remote's offsets")
	}
	if err := Graft(remote, remoteOffs, payload); err != nil {
		t.Fatalf("Graft: %v", err)
	}

	got, err := remote.RawRange("r1", 0)
	if err != nil {
		t.Fatalf("RawRange: %v", err)
	}
	want := line0 + line1
	if string(got) != want {
		t.Fatalf("grafted content mismatch: got %q want %q", got, want)
	}
}

func TestMissingFromRemote_NothingWhenUpToDate(t *testing.T) {
	local := newTestStore(t)
	if err := local.RawWrite("r1", 0, []byte("abc")); err != nil {
		t.Fatalf("RawWrite: %v", err)
	}
	offs := OffsetMap{"r1": 3}

	payload, err := MissingFromRemote(local, offs, offs)
	if err != nil {
		t.Fatalf("MissingFromRemote: %v", err)
	}
	if len(payload) != 0 {
		t.Fatalf("expected no payload when remote is already current, got %v", payload)
	}
}

func TestIsGapless_DetectsGap(t *testing.T) {
	localOffs := OffsetMap{"r1": 5}
	payload := Payload{"r1": RemoteSegment{Start: 10, Data: []byte("xyz")}}
	if IsGapless(localOffs, payload) {
		t.Fatal("expected a gap: segment starts past the local offset")
	}
}

func TestGraft_RefusesGap(t *testing.T) {
	store := newTestStore(t)
	if err := store.RawWrite("r1", 0, []byte("abc")); err != nil {
		t.Fatalf("RawWrite: %v", err)
	}
	localOffs := OffsetMap{"r1": 3}
	payload := Payload{"r1": RemoteSegment{Start: 10, Data: []byte("xyz")}}

	if err := Graft(store, localOffs, payload); err == nil {
		t.Fatal("expected Graft to refuse a payload with a gap")
	}
}

func TestPayload_JSONRoundTrip(t *testing.T) {
	p := Payload{
		"replica01": {Start: 12, Data: []byte("hello\n")},
		"replica02": {Start: 0, Data: []byte("world\n")},
	}

	data, err := p.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var got Payload
	if err := (&got).UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}

	if len(got) != len(p) {
		t.Fatalf("expected %d replicas, got %d", len(p), len(got))
	}
	for replicaID, seg := range p {
		gseg, ok := got[replicaID]
		if !ok {
			t.Fatalf("missing replica %s after round trip", replicaID)
		}
		if gseg.Start != seg.Start || string(gseg.Data) != string(seg.Data) {
			t.Fatalf("segment mismatch for %s: got %+v want %+v", replicaID, gseg, seg)
		}
	}
}

func TestGraft_OnExistingTestStoreLayout(t *testing.T) {
	// Sanity check that Graft works against a store opened the same way
	// production code opens one (data dir + sibling lock file), not just
	// the in-package test helper.
	dir, err := os.MkdirTemp("", "gtdlog-graft-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenLogStore(filepath.Join(dir, "data"), filepath.Join(dir, "lock"))
	if err != nil {
		t.Fatalf("OpenLogStore: %v", err)
	}

	payload := Payload{"r1": {Start: 0, Data: []byte("abc\n")}}
	if err := Graft(store, OffsetMap{}, payload); err != nil {
		t.Fatalf("Graft into empty store: %v", err)
	}
	data, err := store.RawRange("r1", 0)
	if err != nil {
		t.Fatalf("RawRange: %v", err)
	}
	if string(data) != "abc\n" {
		t.Fatalf("got %q want %q", data, "abc\n")
	}
}
