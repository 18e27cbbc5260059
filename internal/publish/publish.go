package publish

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"dresswatch/internal/model"
)

// Publisher forwards a written event to an external consumer. Delivery is best-effort.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev model.DetectionEvent) error
	Close() error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi struct {
	pubs    []Publisher
	logger  *slog.Logger
	onError func(publisher string)
}

func NewMulti(logger *slog.Logger, onError func(publisher string), pubs ...Publisher) *Multi {
	out := make([]Publisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Multi{pubs: out, logger: logger, onError: onError}
}

func (m *Multi) Name() string {
	return "multi"
}

func (m *Multi) Len() int {
	return len(m.pubs)
}

func (m *Multi) Publish(ctx context.Context, ev model.DetectionEvent) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Publish(ctx, ev); err != nil {
			if m.logger != nil {
				m.logger.Warn("event publish failed", "publisher", p.Name(), "event_id", ev.ID, "err", err)
			}
			if m.onError != nil {
				m.onError(p.Name())
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(ev model.DetectionEvent) ([]byte, error) {
	return json.Marshal(ev)
}
