package replication

import (
	"errors"
	"testing"

	"replsend/storage"
)

func openTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	e, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestState_InstallReplacesUnconsumedSnapshot(t *testing.T) {
	e := openTestEngine(t)
	s := NewState()

	snap1, err := e.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	s.Install(snap1)

	snap2, err := e.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	s.Install(snap2) // must release snap1 without leaking it

	got, ok := s.Snapshot()
	if !ok || got != snap2 {
		t.Fatal("expected the second installed snapshot")
	}
}

func TestState_FinishClearsHandleAndRecordsOutcome(t *testing.T) {
	e := openTestEngine(t)
	s := NewState()

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	s.Install(snap)
	if !s.InProgress() {
		t.Fatal("expected InProgress after Install")
	}

	wantErr := errors.New("boom")
	s.Finish(false, wantErr)

	if s.InProgress() {
		t.Error("expected !InProgress after Finish")
	}
	if _, ok := s.Snapshot(); ok {
		t.Error("expected snapshot handle cleared after Finish")
	}
	res := s.LastResult()
	if res.Success || res.Err != wantErr {
		t.Errorf("LastResult = %+v", res)
	}
}

func TestState_NoSnapshotInstalled(t *testing.T) {
	s := NewState()
	if _, ok := s.Snapshot(); ok {
		t.Fatal("expected no snapshot on a fresh State")
	}
}
