package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/optimode/deliverkit/types"
)

// File keeps results in a JSON array on disk. Every upsert rewrites the
// document through a temporary file and a rename.
type File struct {
	path string

	mu      sync.Mutex
	results map[string]types.VerificationResult
}

// OpenFile loads path if it exists.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, results: make(map[string]types.VerificationResult)}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read results file: %w", err)
	}
	if len(b) == 0 {
		return f, nil
	}
	var stored []types.VerificationResult
	if err := json.Unmarshal(b, &stored); err != nil {
		return nil, fmt.Errorf("parse results file %s: %w", path, err)
	}
	for _, r := range stored {
		f.results[Key(r.Address)] = r
	}
	return f, nil
}

func (f *File) Upsert(_ context.Context, res types.VerificationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := Key(res.Address)
	prev, existed := f.results[key]
	f.results[key] = res
	if err := f.flush(); err != nil {
		if existed {
			f.results[key] = prev
		} else {
			delete(f.results, key)
		}
		return err
	}
	return nil
}

func (f *File) Get(_ context.Context, address string) (types.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[Key(address)]
	if !ok {
		return types.VerificationResult{}, ErrNotFound
	}
	return res, nil
}

func (f *File) flush() error {
	keys := make([]string, 0, len(f.results))
	for k := range f.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.VerificationResult, len(keys))
	for i, k := range keys {
		out[i] = f.results[k]
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".results-*.json")
	if err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
