// Package model defines the decoded form of one input line: a block header
// with the extrinsics, calls and events it contains.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// BlockData is one input line.
type BlockData struct {
	Header     Block       `json:"header"`
	Extrinsics []Extrinsic `json:"extrinsics"`
	Events     []Event     `json:"events"`
	Calls      []Call      `json:"calls"`
	Metadata   *Metadata   `json:"metadata,omitempty"`
}

// Validate checks the fields every downstream stage depends on.
func (d *BlockData) Validate() error {
	if d.Header.ID == "" {
		return fmt.Errorf("header: missing id")
	}
	if d.Header.Height < 0 {
		return fmt.Errorf("header %s: negative height %d", d.Header.ID, d.Header.Height)
	}
	return nil
}

// Block is a block header.
type Block struct {
	ID             string    `json:"id"`
	Height         int32     `json:"height"`
	Hash           string    `json:"hash"`
	ParentHash     string    `json:"parent_hash"`
	StateRoot      *string   `json:"state_root,omitempty"`
	ExtrinsicsRoot *string   `json:"extrinsics_root,omitempty"`
	Timestamp      Timestamp `json:"timestamp"`
	SpecID         *string   `json:"spec_id,omitempty"`
	Validator      *string   `json:"validator,omitempty"`
}

// Extrinsic is a signed or unsigned transaction included in a block.
type Extrinsic struct {
	ID           string          `json:"id"`
	BlockID      string          `json:"block_id"`
	IndexInBlock int32           `json:"index_in_block"`
	Signature    json.RawMessage `json:"signature,omitempty"`
	Success      bool            `json:"success"`
	Error        json.RawMessage `json:"error,omitempty"`
	CallID       string          `json:"call_id"`
	Fee          *Quantity       `json:"fee,omitempty"`
	Tip          *Quantity       `json:"tip,omitempty"`
	Hash         string          `json:"hash"`
	Pos          int32           `json:"pos"`
}

// Event is emitted during block execution, optionally attributed to an
// extrinsic and a call.
type Event struct {
	ID           string          `json:"id"`
	BlockID      string          `json:"block_id"`
	IndexInBlock int32           `json:"index_in_block"`
	Phase        string          `json:"phase"`
	ExtrinsicID  *string         `json:"extrinsic_id,omitempty"`
	CallID       *string         `json:"call_id,omitempty"`
	Name         string          `json:"name"`
	Args         json.RawMessage `json:"args,omitempty"`
	Pos          int32           `json:"pos"`
}

// Call is one node of an extrinsic's call tree.
type Call struct {
	ID          string          `json:"id"`
	ParentID    *string         `json:"parent_id,omitempty"`
	BlockID     string          `json:"block_id"`
	ExtrinsicID string          `json:"extrinsic_id"`
	Success     bool            `json:"success"`
	Error       json.RawMessage `json:"error,omitempty"`
	Origin      json.RawMessage `json:"origin,omitempty"`
	Name        string          `json:"name"`
	Args        json.RawMessage `json:"args,omitempty"`
	Pos         int32           `json:"pos"`
}

// Metadata is the runtime metadata blob emitted at a runtime upgrade.
type Metadata struct {
	ID          string `json:"id"`
	SpecName    string `json:"spec_name"`
	SpecVersion *int32 `json:"spec_version,omitempty"`
	BlockHeight int32  `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	Hex         string `json:"hex"`
}

// Timestamp is a point in time in Unix milliseconds. It decodes from an
// RFC 3339 string or a JSON number of milliseconds.
type Timestamp int64

// Time returns the timestamp as a UTC time.
func (t Timestamp) Time() time.Time { return time.UnixMilli(int64(t)).UTC() }

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		*t = Timestamp(ts.UnixMilli())
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	*t = Timestamp(n)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time().Format(time.RFC3339Nano))
}

// Quantity is a non-negative integer of arbitrary size kept as decimal text.
// It decodes from a JSON number or a JSON string.
type Quantity string

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	if s == "" {
		return fmt.Errorf("quantity: empty value")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("quantity %q: not a non-negative integer", s)
		}
	}
	*q = Quantity(s)
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(q))
}

// String returns the decimal text.
func (q Quantity) String() string { return string(q) }
