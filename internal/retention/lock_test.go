package retention

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestLock_AcquireWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pid")
	l := NewLock(path)

	res, err := l.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !res.Acquired {
		t.Error("Acquire() = false, want true for absent lock file")
	}
	if res.StalePID != 0 {
		t.Errorf("StalePID = %d, want 0", res.StalePID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file = %q, want current pid", data)
	}
}

func TestLock_StealsStaleOrUnparseablePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pid")
	// A PID that does not correspond to a live process is stolen.
	if err := os.WriteFile(path, []byte("999999999"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLock(path)
	res, err := l.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !res.Acquired {
		t.Error("Acquire() should steal a stale PID")
	}
	if res.StalePID != 999999999 {
		t.Errorf("StalePID = %d, want 999999999", res.StalePID)
	}
}

func TestLock_FailsWhenHeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLock(path)
	res, err := l.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if res.Acquired {
		t.Error("Acquire() should fail when PID is this (live) process")
	}
}

func TestLock_ReleaseOnlyOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pid")
	l := NewLock(path)
	if _, err := l.Acquire(); err != nil {
		t.Fatal(err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file should be removed after Release()")
	}
}

func TestLock_ReleaseDoesNotClobberStolenLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pid")
	l := NewLock(path)
	if _, err := l.Acquire(); err != nil {
		t.Fatal(err)
	}

	// Simulate another process stealing the lock after us.
	if err := os.WriteFile(path, []byte("424242"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("lock file should still exist")
	}
	if string(data) != "424242" {
		t.Errorf("lock file = %q, want untouched %q", data, "424242")
	}
}
