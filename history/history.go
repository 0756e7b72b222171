// Package history stores what happened the last time a workspace was used.
//
// Records live apart from workspace contents and are evicted on their own
// schedule, so a workspace can outlive its record and vice versa.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Outcome is how an execution ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Record describes one execution for a key.
type Record struct {
	Key        string            `json:"key"`
	Outcome    Outcome           `json:"outcome"`
	ExecutedAt time.Time         `json:"executed_at"`
	Duration   time.Duration     `json:"duration"`
	OriginID   string            `json:"origin_id,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Payload    []byte            `json:"payload,omitempty"`
}

// Succeeded reports whether the execution succeeded.
func (r Record) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Store is a keyed execution history store.
type Store interface {
	// Load returns the record for key and whether one exists.
	Load(key string) (Record, bool, error)

	// Store replaces the record for key.
	Store(key string, rec Record) error

	// Remove deletes the record for key. Removing a missing record is not
	// an error.
	Remove(key string) error
}

const formatVersion = 1

type document struct {
	Version int    `json:"version"`
	Record  Record `json:"record"`
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Encode serializes rec as zstd-compressed JSON.
func Encode(rec Record) ([]byte, error) {
	raw, err := json.Marshal(document{Version: formatVersion, Record: rec})
	if err != nil {
		return nil, fmt.Errorf("encode history record: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// Decode parses data produced by Encode.
func Decode(data []byte) (Record, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return Record{}, fmt.Errorf("decompress history record: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Record{}, fmt.Errorf("decode history record: %w", err)
	}
	if doc.Version != formatVersion {
		return Record{}, fmt.Errorf("decode history record: %w %d", ErrUnsupportedVersion, doc.Version)
	}
	return doc.Record, nil
}

// ErrUnsupportedVersion indicates a record written by an incompatible version.
var ErrUnsupportedVersion = errors.New("unsupported record version")
