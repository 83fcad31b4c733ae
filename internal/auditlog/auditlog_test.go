package auditlog

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entries := []Entry{
		{Timestamp: time.Now(), Peer: "local", Action: "relay", Data: EntryData{TargetSessionID: "s1"}, Result: "success"},
		{Timestamp: time.Now(), Peer: "local", Action: "relay", Data: EntryData{TargetSessionID: "s2"}, Result: "fail", Error: "Rate limit exceeded"},
	}
	for _, e := range entries {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[1].Result != "fail" || got[1].Error != "Rate limit exceeded" {
		t.Errorf("got %+v", got[1])
	}
}

func TestOpen_IdempotentOnExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	if _, err := Open(path); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	log, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if err := log.Append(Entry{Result: "success"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}
