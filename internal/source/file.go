package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/optimode/deliverkit/types"
)

// File is a single pass source over a local file. Plain files hold one
// address per line; files ending in .csv need an "email" column.
type File struct {
	items []Item
	pos   int
}

// OpenFile reads the whole input file. "-" reads standard input as plain
// lines.
func OpenFile(path string) (*File, error) {
	if path == "-" {
		return ReadLines(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f)
	}
	return ReadLines(f)
}

// ReadLines builds a File from one address per line. Blank lines and lines
// starting with # are skipped.
func ReadLines(r io.Reader) (*File, error) {
	var addrs []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return newFile(addrs), nil
}

// ReadCSV builds a File from the "email" column of a CSV document.
func ReadCSV(r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	emailIdx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "email") {
			emailIdx = i
			break
		}
	}
	if emailIdx < 0 {
		return nil, fmt.Errorf("missing required column %q", "email")
	}

	var addrs []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if emailIdx >= len(rec) {
			return nil, fmt.Errorf("row has %d columns, want at least %d", len(rec), emailIdx+1)
		}
		if addr := strings.TrimSpace(rec[emailIdx]); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return newFile(addrs), nil
}

func newFile(addrs []string) *File {
	items := make([]Item, len(addrs))
	for i, a := range addrs {
		items[i] = Item{Candidate: types.Candidate{Address: a, CorrelationID: uuid.NewString()}}
	}
	return &File{items: items}
}

// Len returns the number of items not yet handed out.
func (f *File) Len() int { return len(f.items) - f.pos }

// Next returns up to max items, then io.EOF.
func (f *File) Next(ctx context.Context, max int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.pos >= len(f.items) {
		return nil, io.EOF
	}
	end := f.pos + max
	if max <= 0 || end > len(f.items) {
		end = len(f.items)
	}
	out := f.items[f.pos:end]
	f.pos = end
	return out, nil
}

// Ack is a no-op: a file is read once.
func (f *File) Ack(context.Context, Item) error { return nil }
