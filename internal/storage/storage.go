// Package storage holds the sinks the indexer and the simulator write to.
package storage

import "github.com/seanpm2001/curve-stable-peg/internal/model"

// Storage defines a sink for log records.
type Storage interface {
	PutLogBatch(logs []model.LogRecord) error
}
