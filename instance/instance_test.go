package instance

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// sockPath returns a short socket path; unix socket paths are limited to ~100 bytes
func sockPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "lv.sock")
}

func TestSecondInstanceRefused(t *testing.T) {
	path := sockPath(t)
	g, err := Acquire(path, false)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Acquire(path, false)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning got %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected socket file to be removed, stat gave %v", err)
	}

	g2, err := Acquire(path, false)
	if err != nil {
		t.Fatalf("expected to acquire after release, got %v", err)
	}
	g2.Release()
}

func TestForceTakesOver(t *testing.T) {
	path := sockPath(t)
	g, err := Acquire(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer g.ln.Close()
	g2, err := Acquire(path, true)
	if err != nil {
		t.Fatalf("expected forced acquire to succeed, got %v", err)
	}
	defer g2.Release()
	if g2.Path() != path {
		t.Errorf("expected path %s got %s", path, g2.Path())
	}
}

func TestStaleSocketRemoved(t *testing.T) {
	path := sockPath(t)
	// a file nothing listens on, as a crashed process leaves behind
	if err := os.WriteFile(path, nil, 0666); err != nil {
		t.Fatal(err)
	}
	g, err := Acquire(path, false)
	if err != nil {
		t.Fatalf("expected stale file to be replaced, got %v", err)
	}
	g.Release()
}

func TestAcquireBadDirectory(t *testing.T) {
	_, err := Acquire(filepath.Join(sockPath(t), "missing", "lv.sock"), false)
	if err == nil {
		t.Error("expected an error for a socket in a missing directory")
	}
	if errors.Is(err, ErrAlreadyRunning) {
		t.Error("a missing directory is not another instance")
	}
}
