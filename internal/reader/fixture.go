package reader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FixtureReader replays recorded readings, one per Read call. The fixture
// format is JSON lines: each line is an array of raw ids for one
// orientation, in search order. Blank lines and lines starting with # are
// ignored.
type FixtureReader struct {
	mu       sync.Mutex
	readings [][]string
	next     int

	// Loop restarts from the first reading once all have been returned.
	Loop bool
}

// NewFixtureReader parses fixture lines from r.
func NewFixtureReader(r io.Reader) (*FixtureReader, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var readings [][]string
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ids []string
		if err := json.Unmarshal([]byte(line), &ids); err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", lineNo, err)
		}
		readings = append(readings, ids)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return &FixtureReader{readings: readings}, nil
}

// LoadFixture opens and parses a fixture file.
func LoadFixture(path string) (*FixtureReader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return NewFixtureReader(f)
}

// Read returns a copy of the next recorded reading.
func (f *FixtureReader) Read(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.next >= len(f.readings) {
		if !f.Loop || len(f.readings) == 0 {
			return nil, ErrExhausted
		}
		f.next = 0
	}
	ids := append([]string(nil), f.readings[f.next]...)
	f.next++
	return ids, nil
}

// Len returns the number of recorded readings.
func (f *FixtureReader) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings)
}
