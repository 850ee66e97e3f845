// Package local reads input records and keeps the progress checkpoint on the local
// filesystem.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shpitdev/vocab-enricher/pkg/record"
)

var utf8BOM = []byte("\ufeff")

// Store is a file-backed input adapter and checkpoint store.
type Store struct {
	InputPath  string
	OutputPath string
}

// NewStore returns a store for input. An empty output uses OutputPath(input).
func NewStore(input, output string) *Store {
	if strings.TrimSpace(output) == "" {
		output = OutputPath(input)
	}
	return &Store{InputPath: input, OutputPath: output}
}

func (s *Store) LoadInput(ctx context.Context) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadInput(s.InputPath)
}

func (s *Store) LoadProgress(ctx context.Context) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadProgress(s.OutputPath)
}

func (s *Store) Persist(_ context.Context, recs []record.Record) error {
	return Persist(s.OutputPath, recs)
}

// OutputPath derives the checkpoint path for an input file: a trailing ".json" becomes
// "_processed.json", any other extension is replaced, and a bare name gets the suffix
// appended.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	return base + "_processed.json"
}

// LoadInput reads the input container at path. Files ending in .csv are read as CSV;
// everything else is treated as a JSON array of objects, possibly wrapped.
func LoadInput(path string) ([]record.Record, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		f, err := os.Open(path)
		if err != nil {
			return nil, &MalformedInputError{Path: path, Err: err}
		}
		defer f.Close()
		recs, err := ReadRecordsCSV(f)
		if err != nil {
			return nil, &MalformedInputError{Path: path, Err: err}
		}
		return recs, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &MalformedInputError{Path: path, Err: err}
	}
	recs, err := record.ParseArray(StripWrappers(b))
	if err != nil {
		return nil, &MalformedInputError{Path: path, Err: err}
	}
	return recs, nil
}

// StripWrappers removes the known decorations seen around exported vocabulary lists: a
// UTF-8 BOM, surrounding whitespace, a Markdown code fence and the json[[ ... ]] wrapper.
func StripWrappers(b []byte) []byte {
	b = bytes.TrimPrefix(b, utf8BOM)
	b = bytes.TrimSpace(b)

	if bytes.HasPrefix(b, []byte("```")) {
		if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
			b = b[nl+1:]
		} else {
			b = b[3:]
		}
		b = bytes.TrimSpace(b)
		b = bytes.TrimSuffix(b, []byte("```"))
		b = bytes.TrimSpace(b)
	}

	if rest, ok := bytes.CutPrefix(b, []byte("json[[")); ok {
		b = append([]byte("["), rest...)
	}
	if rest, ok := bytes.CutSuffix(b, []byte("]]")); ok {
		b = append(rest, ']')
	}
	return b
}

// LoadProgress reads the checkpoint at path. A missing file yields empty progress and a
// nil error. An unparseable file yields empty progress and a *CheckpointCorruptionError.
// Any other read failure is returned as is.
func LoadProgress(path string) ([]record.Record, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []record.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	recs, err := record.ParseArray(bytes.TrimPrefix(b, utf8BOM))
	if err != nil {
		return []record.Record{}, &CheckpointCorruptionError{Path: path, Err: err}
	}
	return recs, nil
}

// Persist replaces the checkpoint at path with recs. The file is written to a temporary
// sibling, synced and renamed into place, so readers see either the old or the new
// content.
func Persist(path string, recs []record.Record) error {
	data, err := record.MarshalIndent(recs, "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp checkpoint: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
