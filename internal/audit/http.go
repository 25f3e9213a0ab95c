package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/withObsrvr/substrate-archiver/internal/logging"
)

// HTTPEmitter posts events to an endpoint after backing them up locally.
type HTTPEmitter struct {
	endpoint string
	client   *http.Client
	chain    *ChainTracker
	backup   *FileBackup
	log      *slog.Logger

	retries int
	delay   time.Duration
}

// NewHTTPEmitter posts to endpoint and keeps backups and chain heads in dir.
func NewHTTPEmitter(endpoint, dir string) (*HTTPEmitter, error) {
	chain, err := NewChainTracker(dir)
	if err != nil {
		return nil, err
	}
	backup, err := NewFileBackup(dir)
	if err != nil {
		return nil, err
	}
	return &HTTPEmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		chain:    chain,
		backup:   backup,
		log:      logging.Component("audit"),
		retries:  3,
		delay:    time.Second,
	}, nil
}

// Emit seals evt, backs it up and posts it. The chain head only advances
// once the endpoint accepted the event.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *Event) error {
	key := evt.ChainKey()
	prev, err := e.chain.Head(key)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}
	if err := Seal(evt, prev); err != nil {
		return err
	}

	if _, err := e.backup.Save(evt); err != nil {
		e.log.Warn("audit backup failed", "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("audit emit failed: %w", err)
	}

	if err := e.chain.SetHead(key, evt.Chain.EventHash); err != nil {
		return fmt.Errorf("update chain head: %w", err)
	}
	e.log.Info("audit event posted", "endpoint", e.endpoint, "event_hash", evt.Chain.EventHash, "prev_hash", prev)
	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.retries; attempt++ {
		lastErr = e.post(ctx, evt)
		if lastErr == nil {
			return nil
		}
		if attempt < e.retries {
			e.log.Warn("audit post failed, retrying", "attempt", attempt, "retries", e.retries, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

func (e *HTTPEmitter) Close() error { return nil }
