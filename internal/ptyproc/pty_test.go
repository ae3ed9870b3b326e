package ptyproc

import (
	"bufio"
	"strings"
	"testing"
	"time"
)

func TestSpawnExecCommandProducesOutput(t *testing.T) {
	p, err := Spawn(24, 80, NewExecCommand("echo hello-from-pty", false), "", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()

	reader := p.TakeReader()
	if reader == nil {
		t.Fatalf("TakeReader returned nil")
	}

	scanner := bufio.NewScanner(reader)
	found := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && scanner.Scan() {
		if strings.Contains(scanner.Text(), "hello-from-pty") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected child output to contain hello-from-pty")
	}
}

func TestTakeReaderIsConsumeOnce(t *testing.T) {
	p, err := Spawn(24, 80, NewExecCommand("sleep 1", false), "", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()
	defer p.SendSIGKILL()

	first := p.TakeReader()
	second := p.TakeReader()
	if first == nil {
		t.Fatalf("first TakeReader was nil")
	}
	if second != nil {
		t.Fatalf("second TakeReader should be nil, got non-nil")
	}
}

func TestResizePropagates(t *testing.T) {
	p, err := Spawn(24, 80, NewShellCommand("/bin/sh", false), "", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()
	defer p.SendSIGKILL()

	if err := p.Resize(40, 120); err != nil {
		t.Fatalf("Resize: %v", err)
	}
}

func TestSignalGroupRejectsInvalidPID(t *testing.T) {
	p := &Pty{}
	if err := p.signalGroup(0); err == nil {
		t.Fatalf("expected error signaling a zero PID")
	}
}

func TestEnvOverridesApply(t *testing.T) {
	p, err := Spawn(24, 80, NewExecCommand("printenv WSH_TEST_VAR", false), "", map[string]string{
		"WSH_TEST_VAR": "marker-value",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()

	reader := p.TakeReader()
	scanner := bufio.NewScanner(reader)
	found := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && scanner.Scan() {
		if strings.Contains(scanner.Text(), "marker-value") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected child env to contain WSH_TEST_VAR=marker-value")
	}
}
