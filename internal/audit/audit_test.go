package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/withObsrvr/substrate-archiver/internal/storage"
)

func testEvent(first, last int64, checksum string) *Event {
	return &Event{
		Version:   EventVersion,
		EventType: EventType,
		EventID:   "evt_fixed",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Run: RunInfo{
			Archive:     "file:///archive",
			RunID:       "run-1",
			FirstHeight: first,
			LastHeight:  last,
		},
		Tables: map[string][]FileRecord{
			"block": {{Key: "block/10.parquet", Checksum: checksum, RowCount: 10}},
		},
		Producer: storage.ProducerInfo{Name: "substrate-archiver", Version: "v0.1.0"},
	}
}

func TestSealFirstInChain(t *testing.T) {
	evt := testEvent(1, 10, "sha256:abc")
	if err := Seal(evt, ""); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if !strings.HasPrefix(evt.Chain.EventHash, "sha256:") {
		t.Errorf("EventHash should start with 'sha256:', got: %s", evt.Chain.EventHash)
	}
	if evt.Chain.PrevEventHash != "" {
		t.Errorf("PrevEventHash should be empty for first in chain, got: %s", evt.Chain.PrevEventHash)
	}
}

func TestSealAssignsEventID(t *testing.T) {
	evt := testEvent(1, 10, "sha256:abc")
	evt.EventID = ""
	if err := Seal(evt, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(evt.EventID, "evt_") {
		t.Errorf("EventID = %q, want evt_ prefix", evt.EventID)
	}
}

func TestHashChainDeterminism(t *testing.T) {
	a, b := testEvent(1, 10, "sha256:abc"), testEvent(1, 10, "sha256:abc")
	Seal(a, "prev_hash_123")
	Seal(b, "prev_hash_123")

	if a.Chain.EventHash != b.Chain.EventHash {
		t.Errorf("Identical events should produce identical hashes.\n  a: %s\n  b: %s",
			a.Chain.EventHash, b.Chain.EventHash)
	}
}

func TestHashChainDifferentPrevHash(t *testing.T) {
	a, b := testEvent(1, 10, "sha256:abc"), testEvent(1, 10, "sha256:abc")
	Seal(a, "prev_hash_A")
	Seal(b, "prev_hash_B")

	if a.Chain.EventHash == b.Chain.EventHash {
		t.Error("Different prev_hash should produce different event_hash")
	}
}

func TestHashChainDifferentContent(t *testing.T) {
	a, b := testEvent(1, 10, "sha256:checksum_A"), testEvent(1, 10, "sha256:checksum_B")
	Seal(a, "")
	Seal(b, "")

	if a.Chain.EventHash == b.Chain.EventHash {
		t.Error("Different content should produce different event_hash")
	}
}

func TestComputeEventHashIgnoresOwnHash(t *testing.T) {
	evt := testEvent(1, 10, "sha256:abc")
	Seal(evt, "")
	again, err := ComputeEventHash(evt)
	if err != nil {
		t.Fatal(err)
	}
	if again != evt.Chain.EventHash {
		t.Errorf("recomputed hash %s, want %s", again, evt.Chain.EventHash)
	}
}

func TestFromManifest(t *testing.T) {
	m := &storage.Manifest{
		RunID:       "run-7",
		FirstHeight: 5,
		LastHeight:  9,
		Tables: map[string][]storage.TableInfo{
			"event": {
				{File: "event/9.parquet", Checksum: "sha256:b", RowCount: 4, RowGroups: 1, ByteSize: 40},
				{File: "event/7.parquet", Checksum: "sha256:a", RowCount: 3, RowGroups: 1, ByteSize: 30},
			},
		},
		Producer: storage.ProducerInfo{Name: "substrate-archiver"},
	}

	evt := FromManifest(m, "gs://bucket/archive/")
	if evt.ChainKey() != "gs://bucket/archive/" {
		t.Errorf("ChainKey() = %s", evt.ChainKey())
	}
	if evt.Run.RunID != "run-7" || evt.Run.FirstHeight != 5 || evt.Run.LastHeight != 9 {
		t.Errorf("Run = %+v", evt.Run)
	}
	files := evt.Tables["event"]
	if len(files) != 2 || files[0].Key != "event/7.parquet" || files[1].Key != "event/9.parquet" {
		t.Errorf("files not sorted by key: %+v", files)
	}
}

func TestFileEmitterChainsEvents(t *testing.T) {
	dir := t.TempDir()
	em, err := NewFileEmitter(dir)
	if err != nil {
		t.Fatal(err)
	}

	first := testEvent(1, 10, "sha256:a")
	first.Run.RunID = "run-1"
	if err := em.Emit(context.Background(), first); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	second := testEvent(11, 20, "sha256:b")
	second.Run.RunID = "run-2"
	if err := em.Emit(context.Background(), second); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	if second.Chain.PrevEventHash != first.Chain.EventHash {
		t.Errorf("second.PrevEventHash = %s, want %s", second.Chain.PrevEventHash, first.Chain.EventHash)
	}

	data, err := os.ReadFile(em.backup.Path(second))
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	var saved Event
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Chain.EventHash != second.Chain.EventHash {
		t.Errorf("saved hash %s, want %s", saved.Chain.EventHash, second.Chain.EventHash)
	}

	// A new emitter over the same directory continues the chain.
	em2, err := NewFileEmitter(dir)
	if err != nil {
		t.Fatal(err)
	}
	third := testEvent(21, 30, "sha256:c")
	third.Run.RunID = "run-3"
	if err := em2.Emit(context.Background(), third); err != nil {
		t.Fatal(err)
	}
	if third.Chain.PrevEventHash != second.Chain.EventHash {
		t.Errorf("chain not resumed: prev = %s, want %s", third.Chain.PrevEventHash, second.Chain.EventHash)
	}
}

func TestHTTPEmitterRetriesThenAdvancesHead(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var evt Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	em, err := NewHTTPEmitter(srv.URL, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	em.delay = time.Millisecond

	evt := testEvent(1, 10, "sha256:a")
	if err := em.Emit(context.Background(), evt); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	head, err := em.chain.Head(evt.ChainKey())
	if err != nil || head != evt.Chain.EventHash {
		t.Errorf("Head() = %s, %v; want %s", head, err, evt.Chain.EventHash)
	}
}

func TestHTTPEmitterFailureKeepsHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	em, err := NewHTTPEmitter(srv.URL, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	em.delay = time.Millisecond

	evt := testEvent(1, 10, "sha256:a")
	if err := em.Emit(context.Background(), evt); err == nil {
		t.Fatal("expected error")
	}
	if _, err := em.chain.Head(evt.ChainKey()); err != ErrNoChainHead {
		t.Errorf("Head() error = %v, want ErrNoChainHead", err)
	}
}

func TestNewEmitter(t *testing.T) {
	em, err := NewEmitter(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := em.(Noop); !ok {
		t.Errorf("disabled emitter = %T, want Noop", em)
	}

	if _, err := NewEmitter(Config{Enabled: true}); err == nil {
		t.Error("expected error without a directory")
	}

	em, err = NewEmitter(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := em.(*FileEmitter); !ok {
		t.Errorf("emitter = %T, want *FileEmitter", em)
	}

	em, err = NewEmitter(Config{Enabled: true, Dir: t.TempDir(), Endpoint: "http://localhost:1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := em.(*HTTPEmitter); !ok {
		t.Errorf("emitter = %T, want *HTTPEmitter", em)
	}
}
