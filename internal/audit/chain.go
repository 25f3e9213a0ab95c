package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrNoChainHead indicates no previous event exists for a chain.
var ErrNoChainHead = errors.New("no chain head found")

// ComputeEventHash hashes the JSON form of evt with its own event_hash
// cleared.
func ComputeEventHash(evt *Event) (string, error) {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Seal links evt to prev and fills in its id and hash.
func Seal(evt *Event, prev string) error {
	if evt.EventID == "" {
		evt.EventID = "evt_" + uuid.NewString()
	}
	evt.Chain.PrevEventHash = prev
	hash, err := ComputeEventHash(evt)
	if err != nil {
		return err
	}
	evt.Chain.EventHash = hash
	return nil
}

// ChainTracker keeps the head hash of each chain in a JSON file.
type ChainTracker struct {
	mu    sync.RWMutex
	heads map[string]string
	path  string
}

// NewChainTracker loads or creates the chain heads file in dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{
		heads: make(map[string]string),
		path:  filepath.Join(dir, "audit-chain-heads.json"),
	}
	if err := ct.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load chain heads: %w", err)
	}
	return ct, nil
}

// Head returns the last event hash of a chain.
func (ct *ChainTracker) Head(chainKey string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	hash, ok := ct.heads[chainKey]
	if !ok || hash == "" {
		return "", ErrNoChainHead
	}
	return hash, nil
}

// SetHead records eventHash as the head of a chain and persists all heads.
func (ct *ChainTracker) SetHead(chainKey, eventHash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[chainKey] = eventHash
	return ct.save()
}

func (ct *ChainTracker) load() error {
	data, err := os.ReadFile(ct.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &ct.heads)
}

func (ct *ChainTracker) save() error {
	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}

	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ct.path)
}
