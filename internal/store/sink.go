package store

import (
	"context"

	"github.com/ayusman/handtrack/internal/emitter"
)

// ResultSink persists forwarded results under one session.
type ResultSink struct {
	results   *ResultRepository
	sessionID string
}

var _ emitter.Sink = (*ResultSink)(nil)

// NewResultSink returns a sink writing into sessionID.
func (s *Store) NewResultSink(sessionID string) *ResultSink {
	return &ResultSink{results: s.Results(), sessionID: sessionID}
}

// Name identifies the sink in logs.
func (k *ResultSink) Name() string { return "store" }

// Emit inserts msg.
func (k *ResultSink) Emit(ctx context.Context, msg emitter.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := k.results.Insert(k.sessionID, msg)
	return err
}
