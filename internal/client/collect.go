package client

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// LocalFile is one file selected for upload. Name is the filename sent
// on the wire; for directory members it is the slash-separated path
// relative to the directory's parent, so the server-side records keep
// the structure readable.
type LocalFile struct {
	Path string
	Name string
}

// Collect validates each command-line argument and expands it into the
// flat upload list: a plain file keeps its base name, a directory is
// walked recursively. Anything that cannot contribute a part to the
// request — a missing path, a socket or device, a directory with no
// files in it — fails fast instead of producing an empty upload.
func Collect(args []string) ([]LocalFile, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	var out []LocalFile
	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		if info.IsDir() {
			entries, err := collectDir(p)
			if err != nil {
				return nil, fmt.Errorf("failed to walk %s: %w", p, err)
			}
			if len(entries) == 0 {
				return nil, &ValidationError{Arg: raw, Cause: "directory contains no files"}
			}
			out = append(out, entries...)
			continue
		}

		if !info.Mode().IsRegular() {
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file"}
		}
		out = append(out, LocalFile{Path: p, Name: filepath.Base(p)})
	}

	return out, nil
}

// collectDir walks one directory, naming each regular file relative to
// the directory's parent. Irregular entries are skipped silently.
func collectDir(dir string) ([]LocalFile, error) {
	prefix := filepath.Base(dir)
	var out []LocalFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, LocalFile{
			Path: path,
			Name: filepath.ToSlash(filepath.Join(prefix, rel)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
