package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocateRuntimeLibraryConfigured(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so.1.20.0")
	if err := os.WriteFile(lib, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := locateRuntimeLibrary(lib)
	if err != nil {
		t.Fatalf("locateRuntimeLibrary: %v", err)
	}
	if got != lib {
		t.Errorf("got %q, want %q", got, lib)
	}
}

func TestLocateRuntimeLibraryConfiguredMissing(t *testing.T) {
	if _, err := locateRuntimeLibrary(filepath.Join(t.TempDir(), "nope.so")); err == nil {
		t.Error("missing configured path accepted")
	}
}

func TestLocateRuntimeLibraryEnv(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so.1.20.0")
	if err := os.WriteFile(lib, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ONNXRUNTIME_LIB_PATH", lib)
	got, err := locateRuntimeLibrary("")
	if err != nil {
		t.Fatalf("locateRuntimeLibrary: %v", err)
	}
	if got != lib {
		t.Errorf("got %q, want %q", got, lib)
	}
}

func TestLocateRuntimeLibraryEnvMissing(t *testing.T) {
	t.Setenv("ONNXRUNTIME_LIB_PATH", filepath.Join(t.TempDir(), "nope.so"))
	if _, err := locateRuntimeLibrary(""); err == nil {
		t.Error("missing env path accepted")
	}
}
