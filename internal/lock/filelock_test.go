package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriteFileReplacesContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "qa_report.txt")
	if err := WriteFile(path, []byte("a much longer first version")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := WriteFile(path, []byte("short")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "short" {
		t.Fatalf("content = %q, want %q", b, "short")
	}
}

func TestAcquireBlocksSecondHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.lock")
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan *FileLock, 1)
	go func() {
		second, err := Acquire(path)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			acquired <- nil
			return
		}
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while the first still held it")
	case <-time.After(100 * time.Millisecond):
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	select {
	case second := <-acquired:
		_ = second.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "qa_report.txt")
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := strings.Repeat(fmt.Sprintf("%d", i), 4096)
			if err := WriteFile(path, []byte(body)); err != nil {
				t.Errorf("WriteFile: %v", err)
			}
		}()
	}
	wg.Wait()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(b) != 4096 || strings.Count(string(b), string(b[0])) != 4096 {
		t.Fatalf("report content is interleaved")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, err := Acquire(filepath.Join(t.TempDir(), "x.lock"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	var nilLock *FileLock
	if err := nilLock.Release(); err != nil {
		t.Fatalf("nil Release: %v", err)
	}
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := Acquire(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
