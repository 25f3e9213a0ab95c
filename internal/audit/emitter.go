package audit

import (
	"context"
	"fmt"
)

// Emitter records published runs.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// Config selects the emitter.
type Config struct {
	Enabled  bool
	Dir      string // event backups and chain heads
	Endpoint string // optional HTTP collector
}

// NewEmitter returns a no-op emitter when disabled, an HTTP emitter when an
// endpoint is set and a file emitter otherwise.
func NewEmitter(cfg Config) (Emitter, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit: directory required")
	}
	if cfg.Endpoint != "" {
		e, err := NewHTTPEmitter(cfg.Endpoint, cfg.Dir)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	e, err := NewFileEmitter(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Noop discards all events.
type Noop struct{}

func (Noop) Emit(context.Context, *Event) error { return nil }
func (Noop) Close() error { return nil }
