package journal

import (
	"context"

	"github.com/nerrad567/webthing-core/internal/notify"
	"github.com/nerrad567/webthing-core/internal/thing"
)

var _ notify.Sink = (*Sink)(nil)

// Sink writes actionStatus notifications to a Repository. Other kinds are
// ignored.
type Sink struct {
	repo Repository
}

// NewSink creates a journal sink.
func NewSink(repo Repository) *Sink {
	return &Sink{repo: repo}
}

// Name implements notify.Sink.
func (s *Sink) Name() string { return "journal" }

// Handle implements notify.Sink.
func (s *Sink) Handle(ctx context.Context, n thing.Notification) error {
	if n.Kind != thing.KindActionStatus {
		return nil
	}
	rec, ok := n.Payload.(thing.ActionRecord)
	if !ok {
		return nil
	}
	return s.repo.Record(ctx, rec)
}
