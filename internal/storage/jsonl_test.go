package storage

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs.jsonl")
	store := NewJsonlStorage(path)

	if err := store.PutLogBatch([]model.LogRecord{{BlockNumber: 1}, {BlockNumber: 2}}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := store.PutLogBatch(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := store.PutLogBatch([]model.LogRecord{{BlockNumber: 3}}); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	var blocks []uint64
	err := ScanJSONLFile(path, func(line []byte) error {
		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return err
		}
		blocks = append(blocks, record.BlockNumber)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(blocks) != 3 || blocks[0] != 1 || blocks[2] != 3 {
		t.Fatalf("blocks mismatch: %v", blocks)
	}
}

func TestJSONLWriterTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	for i := 0; i < 2; i++ {
		w, err := NewJSONLWriter(path, false)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := w.Write(map[string]int{"run": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	lines := 0
	if err := ScanJSONLFile(path, func(line []byte) error {
		lines++
		if string(line) != `{"run":1}` {
			t.Fatalf("unexpected line: %s", line)
		}
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if lines != 1 {
		t.Fatalf("lines %d, want 1", lines)
	}
}

func TestScanJSONLSkipsBlankAndStops(t *testing.T) {
	input := "a\n\n  \nb\nc\n"
	stop := errors.New("stop")
	var seen []string
	err := ScanJSONL(strings.NewReader(input), func(line []byte) error {
		seen = append(seen, string(line))
		if string(line) == "b" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if strings.Join(seen, ",") != "a,b" {
		t.Fatalf("seen mismatch: %v", seen)
	}
}
