package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

const maxLineSize = 10 * 1024 * 1024

// JsonlStorage appends log records to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutLogBatch appends a batch of log records as JSON lines.
func (s *JsonlStorage) PutLogBatch(logs []model.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	writer, err := NewJSONLWriter(s.path, true)
	if err != nil {
		return err
	}
	for _, record := range logs {
		if err := writer.Write(record); err != nil {
			writer.Close()
			return fmt.Errorf("write log record: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// JSONLWriter writes one JSON value per line through a buffer.
type JSONLWriter struct {
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// NewJSONLWriter opens path for writing, truncating it unless appendMode is
// set. Parent directories are created.
func NewJSONLWriter(path string, appendMode bool) (*JSONLWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &JSONLWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *JSONLWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Later calls are no-ops.
func (w *JSONLWriter) Close() error {
	if w == nil || w.closed {
		return nil
	}
	w.closed = true
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// ScanJSONL calls fn with every non-empty, trimmed line of r. The slice is
// only valid during the call.
func ScanJSONL(r io.Reader, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}

// ScanJSONLFile opens path and scans it with ScanJSONL.
func ScanJSONLFile(path string, fn func(line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	return ScanJSONL(file, fn)
}
