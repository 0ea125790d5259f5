package client

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func setupNestedDir(t *testing.T, structure map[string]interface{}) string {
	t.Helper()
	rootDir := t.TempDir()
	createStructure(t, rootDir, structure)
	return rootDir
}

func createStructure(t *testing.T, basePath string, structure map[string]interface{}) {
	t.Helper()
	for name, content := range structure {
		path := filepath.Join(basePath, name)

		switch v := content.(type) {
		case string:
			// file
			if err := os.WriteFile(path, []byte(v), 0644); err != nil {
				t.Fatalf("failed to create file %s: %v", path, err)
			}

		case map[string]interface{}:
			// dir
			if err := os.Mkdir(path, 0755); err != nil {
				t.Fatalf("failed to create directory %s: %v", path, err)
			}
			createStructure(t, path, v)
		default:
			t.Fatalf("unsupported structure type for %s", name)
		}
	}
}

func collectedNames(files []LocalFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	sort.Strings(names)
	return names
}

func assertCollectFails(t *testing.T, args []string, expectedCause string) {
	t.Helper()
	files, err := Collect(args)
	if err == nil {
		t.Fatalf("expected error, got %d files", len(files))
	}
	validationErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if validationErr.Cause != expectedCause {
		t.Errorf("expected cause %q, got %q", expectedCause, validationErr.Cause)
	}
	if files != nil {
		t.Error("expected nil files on validation failure")
	}
}

// Tests

func TestCollect(t *testing.T) {
	t.Run("no args", func(t *testing.T) {
		assertCollectFails(t, nil, "no files provided")
	})

	t.Run("nonexistent path", func(t *testing.T) {
		assertCollectFails(t, []string{"/nonexistent/path/file.txt"}, "not found or not accessible")
	})

	t.Run("empty directory", func(t *testing.T) {
		assertCollectFails(t, []string{t.TempDir()}, "directory contains no files")
	})

	t.Run("single file uses base name", func(t *testing.T) {
		rootDir := setupNestedDir(t, map[string]interface{}{
			"test.txt": "content",
		})
		path := filepath.Join(rootDir, "test.txt")

		files, err := Collect([]string{path})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("expected 1 file, got %d", len(files))
		}
		if files[0].Name != "test.txt" {
			t.Errorf("expected name 'test.txt', got %s", files[0].Name)
		}
		if files[0].Path != path {
			t.Errorf("expected path %s, got %s", path, files[0].Path)
		}
	})

	t.Run("messy path is cleaned", func(t *testing.T) {
		rootDir := setupNestedDir(t, map[string]interface{}{
			"test.txt": "content",
		})
		messy := filepath.Join(rootDir, ".", "test.txt")

		files, err := Collect([]string{messy})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if files[0].Path != filepath.Join(rootDir, "test.txt") {
			t.Errorf("expected cleaned path, got %s", files[0].Path)
		}
	})

	t.Run("directory names are relative to its parent", func(t *testing.T) {
		rootDir := setupNestedDir(t, map[string]interface{}{
			"project": map[string]interface{}{
				"README.md": "# Project",
				"src": map[string]interface{}{
					"main.go":  "package main",
					"utils.go": "package main",
				},
			},
		})

		files, err := Collect([]string{filepath.Join(rootDir, "project")})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		got := collectedNames(files)
		want := []string{
			"project/README.md",
			"project/src/main.go",
			"project/src/utils.go",
		}
		if len(got) != len(want) {
			t.Fatalf("expected %d files, got %d: %v", len(want), len(got), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("expected name %q, got %q", want[i], got[i])
			}
		}
	})

	t.Run("mixed files and directories", func(t *testing.T) {
		rootDir := setupNestedDir(t, map[string]interface{}{
			"alone.txt": "solo",
			"docs": map[string]interface{}{
				"guide.md": "guide",
			},
		})

		files, err := Collect([]string{
			filepath.Join(rootDir, "alone.txt"),
			filepath.Join(rootDir, "docs"),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		got := collectedNames(files)
		want := []string{"alone.txt", "docs/guide.md"}
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("expected names %v, got %v", want, got)
		}
	})

	t.Run("one bad argument fails the whole set", func(t *testing.T) {
		rootDir := setupNestedDir(t, map[string]interface{}{
			"good.txt": "fine",
		})

		assertCollectFails(t,
			[]string{filepath.Join(rootDir, "good.txt"), filepath.Join(rootDir, "missing.txt")},
			"not found or not accessible")
	})
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Arg: "test.txt", Cause: "file not found"}

	expected := `invalid argument "test.txt": file not found`
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}
