package registry

import (
	"context"
	"testing"
	"time"
)

type fakeSession struct {
	id       uintptr
	name     string
	shutdown bool
	killed   bool
	hupped   bool
	hupErr   error
}

func (f *fakeSession) Identity() uintptr { return f.id }
func (f *fakeSession) Name() string      { return f.name }
func (f *fakeSession) SetName(n string)  { f.name = n }
func (f *fakeSession) Shutdown()         { f.shutdown = true }
func (f *fakeSession) ForceKill()        { f.killed = true }
func (f *fakeSession) SendSIGHUP() error {
	f.hupped = true
	return f.hupErr
}

func TestInsertAutoGeneratesNumericNames(t *testing.T) {
	r := New(0, nil)
	n1, err := r.Insert("", nil, &fakeSession{id: 1})
	if err != nil {
		t.Fatal(err)
	}
	n2, err := r.Insert("", nil, &fakeSession{id: 2})
	if err != nil {
		t.Fatal(err)
	}
	if n1 == n2 {
		t.Fatalf("expected distinct auto-generated names, got %q twice", n1)
	}
	if n1 != "0" || n2 != "1" {
		t.Fatalf("expected numeric slots 0 and 1, got %q, %q", n1, n2)
	}
}

func TestInsertSkipsOccupiedNumericSlot(t *testing.T) {
	r := New(0, nil)
	if _, err := r.Insert("0", nil, &fakeSession{id: 1}); err != nil {
		t.Fatal(err)
	}
	next, err := r.Insert("", nil, &fakeSession{id: 2})
	if err != nil {
		t.Fatal(err)
	}
	if next != "1" {
		t.Fatalf("expected next free slot to skip occupied \"0\", got %q", next)
	}
}

func TestInsertExplicitNameConflict(t *testing.T) {
	r := New(0, nil)
	if _, err := r.Insert("work", nil, &fakeSession{id: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Insert("work", nil, &fakeSession{id: 2}); err != ErrNameConflict {
		t.Fatalf("expected ErrNameConflict, got %v", err)
	}
}

func TestInsertEnforcesMaxSessions(t *testing.T) {
	r := New(1, nil)
	if _, err := r.Insert("", nil, &fakeSession{id: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Insert("", nil, &fakeSession{id: 2}); err != ErrMaxSessions {
		t.Fatalf("expected ErrMaxSessions, got %v", err)
	}
}

func TestGetAndRemove(t *testing.T) {
	r := New(0, nil)
	r.Insert("work", nil, &fakeSession{id: 1})

	if _, ok := r.Get("work"); !ok {
		t.Fatal("expected session to be found")
	}
	if _, ok := r.Remove("work"); !ok {
		t.Fatal("expected removal to succeed")
	}
	if _, ok := r.Get("work"); ok {
		t.Fatal("expected session to be gone after removal")
	}
}

func TestRenameUpdatesTagIndex(t *testing.T) {
	r := New(0, nil)
	r.Insert("work", []string{"foo"}, &fakeSession{id: 1})

	if _, err := r.Rename("work", "project"); err != nil {
		t.Fatal(err)
	}
	names := r.SessionsByTags([]string{"foo"})
	if len(names) != 1 || names[0] != "project" {
		t.Fatalf("expected tag index to follow rename, got %v", names)
	}
	if _, ok := r.Get("work"); ok {
		t.Fatal("old name should no longer resolve")
	}
}

func TestRenameRejectsConflict(t *testing.T) {
	r := New(0, nil)
	r.Insert("a", nil, &fakeSession{id: 1})
	r.Insert("b", nil, &fakeSession{id: 2})

	if _, err := r.Rename("a", "b"); err != ErrNameConflict {
		t.Fatalf("expected ErrNameConflict, got %v", err)
	}
}

func TestAddTagsIdempotent(t *testing.T) {
	r := New(0, nil)
	r.Insert("work", nil, &fakeSession{id: 1})

	if err := r.AddTags("work", []string{"foo", "bar"}); err != nil {
		t.Fatal(err)
	}
	if err := r.AddTags("work", []string{"foo"}); err != nil {
		t.Fatal(err)
	}
	names := r.SessionsByTags([]string{"foo"})
	if len(names) != 1 {
		t.Fatalf("expected exactly one session tagged foo, got %v", names)
	}
}

func TestSessionsByTagsIsUnion(t *testing.T) {
	r := New(0, nil)
	r.Insert("a", []string{"x"}, &fakeSession{id: 1})
	r.Insert("b", []string{"y"}, &fakeSession{id: 2})
	r.Insert("c", []string{"x", "y"}, &fakeSession{id: 3})

	names := r.SessionsByTags([]string{"x", "y"})
	if len(names) != 3 {
		t.Fatalf("expected union of 3 names, got %v", names)
	}
}

func TestMonitorChildExitRemovesByIdentity(t *testing.T) {
	r := New(0, nil)
	sess := &fakeSession{id: 42}
	r.Insert("work", nil, sess)

	exited := make(chan struct{})
	r.MonitorChildExit("work", 42, exited)
	close(exited)

	deadline := time.After(time.Second)
	for {
		if _, ok := r.Get("work"); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("session was not removed after child exit")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMonitorChildExitSurvivesRename(t *testing.T) {
	r := New(0, nil)
	sess := &fakeSession{id: 7}
	r.Insert("work", nil, sess)

	exited := make(chan struct{})
	r.MonitorChildExit("work", 7, exited)
	if _, err := r.Rename("work", "renamed"); err != nil {
		t.Fatal(err)
	}
	close(exited)

	deadline := time.After(time.Second)
	for {
		if _, ok := r.Get("renamed"); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("renamed session was not removed after child exit")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDrainRemovesAllAndSignalsHup(t *testing.T) {
	r := New(0, nil)
	a := &fakeSession{id: 1}
	b := &fakeSession{id: 2}
	r.Insert("a", nil, a)
	r.Insert("b", nil, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // don't wait out the real escalation delay in a test
	r.Drain(ctx)

	if r.Len() != 0 {
		t.Fatalf("expected registry to be empty after drain, got %d", r.Len())
	}
	if !a.shutdown || !b.shutdown {
		t.Fatal("expected all sessions to receive Shutdown")
	}
	if !a.hupped || !b.hupped {
		t.Fatal("expected all sessions to receive SIGHUP")
	}
	if !a.killed || !b.killed {
		t.Fatal("expected all sessions to be force-killed once the drain context is done")
	}
}

func TestNameAvailable(t *testing.T) {
	r := New(0, nil)
	r.Insert("work", nil, &fakeSession{id: 1})

	if err := r.NameAvailable("work"); err != ErrNameConflict {
		t.Fatalf("expected ErrNameConflict, got %v", err)
	}
	if err := r.NameAvailable("free"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	r := New(0, nil)
	sub := r.Subscribe()
	defer sub.Unsubscribe()

	r.Insert("work", nil, &fakeSession{id: 1})

	select {
	case ev := <-sub.C():
		if ev.Kind != EventCreated || ev.Name != "work" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for created event")
	}
}
