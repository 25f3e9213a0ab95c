// Package audit emits a tamper-evident record of every published run. Each
// event lists the committed files with their checksums and links to the
// previous event of the same archive through a hash chain.
package audit

import (
	"sort"
	"time"

	"github.com/withObsrvr/substrate-archiver/internal/storage"
)

const (
	EventVersion = "1.0"
	EventType    = "archive_run"
)

// Event describes one published run.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo                 `json:"run"`
	Tables   map[string][]FileRecord `json:"tables"`
	Producer storage.ProducerInfo    `json:"producer"`
	Chain    ChainInfo               `json:"chain"`
}

// RunInfo identifies the archive and the block range of a run.
type RunInfo struct {
	Archive     string `json:"archive"`
	RunID       string `json:"run_id"`
	FirstHeight int64  `json:"first_height"`
	LastHeight  int64  `json:"last_height"`
}

// FileRecord contains checksum and size for one committed file.
type FileRecord struct {
	Key       string `json:"key"`
	Checksum  string `json:"checksum"`
	RowCount  int64  `json:"row_count"`
	RowGroups int    `json:"row_groups"`
	ByteSize  int64  `json:"byte_size"`
}

// ChainInfo provides hash chaining for the audit log.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this event belongs to.
func (e *Event) ChainKey() string {
	return e.Run.Archive
}

// FromManifest builds the event for a run manifest. archive names the output
// location and keys the hash chain.
func FromManifest(m *storage.Manifest, archive string) *Event {
	tables := make(map[string][]FileRecord, len(m.Tables))
	for kind, files := range m.Tables {
		recs := make([]FileRecord, 0, len(files))
		for _, f := range files {
			recs = append(recs, FileRecord{
				Key:       f.File,
				Checksum:  f.Checksum,
				RowCount:  f.RowCount,
				RowGroups: f.RowGroups,
				ByteSize:  f.ByteSize,
			})
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
		tables[kind] = recs
	}

	return &Event{
		Version:   EventVersion,
		EventType: EventType,
		Timestamp: m.CreatedAt,
		Run: RunInfo{
			Archive:     archive,
			RunID:       m.RunID,
			FirstHeight: m.FirstHeight,
			LastHeight:  m.LastHeight,
		},
		Tables:   tables,
		Producer: m.Producer,
	}
}
