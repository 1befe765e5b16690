package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// locateRuntimeLibrary resolves the ONNX Runtime shared library. Resolution
// order: the configured path, the ONNXRUNTIME_LIB_PATH environment variable,
// then well-known install locations.
func locateRuntimeLibrary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured runtime library %q: %w", configured, err)
		}
		return configured, nil
	}
	if env := os.Getenv("ONNXRUNTIME_LIB_PATH"); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("ONNXRUNTIME_LIB_PATH %q: %w", env, err)
		}
		return env, nil
	}

	pattern := runtimeLibraryPattern()
	for _, dir := range runtimeLibraryDirs() {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		// Versioned names sort ascending; take the newest.
		sort.Strings(matches)
		return matches[len(matches)-1], nil
	}
	return "", fmt.Errorf(
		"onnxruntime shared library not found; set runtime_lib_path or ONNXRUNTIME_LIB_PATH")
}

func runtimeLibraryPattern() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime*.dylib"
	case "windows":
		return "onnxruntime*.dll"
	default:
		return "libonnxruntime.so*"
	}
}

func runtimeLibraryDirs() []string {
	dirs := []string{"lib", "."}
	switch runtime.GOOS {
	case "darwin":
		dirs = append(dirs, "/usr/local/lib", "/opt/homebrew/lib")
	case "windows":
		// The loader consults PATH; only local directories are probed.
	default:
		dirs = append(dirs, "/usr/lib", "/usr/local/lib", "/usr/lib/x86_64-linux-gnu")
	}
	return dirs
}
