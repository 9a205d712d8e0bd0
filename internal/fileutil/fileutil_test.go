package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateOrReuseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub")
	if err := CreateOrReuseDir(dir); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := CreateOrReuseDir(dir); err != nil {
		t.Fatalf("reuse: %v", err)
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CreateOrReuseDir(file); err == nil {
		t.Error("expected error when target is a regular file")
	}
}

func TestPersistContentAddressedNoTarget(t *testing.T) {
	dir := t.TempDir()
	f, err := TempFile(dir, "tmp-")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("contents")
	f.Close()

	target := filepath.Join(dir, "object")
	if err := PersistContentAddressed(f.Name(), target); err != nil {
		t.Fatalf("persist: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "contents" {
		t.Fatalf("target content = %q, %v", data, err)
	}
}

func TestPersistContentAddressedTargetExists(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "object")
	if err := os.WriteFile(target, []byte("contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := TempFile(dir, "tmp-")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("contents")
	f.Close()

	if err := PersistContentAddressed(f.Name(), target); err != nil {
		t.Fatalf("persist over identical target: %v", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state")
	if err := WriteFileAtomic(target, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(target, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "v2" {
		t.Errorf("content = %q, want v2", data)
	}
}
