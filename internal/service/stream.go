package service

import (
	"context"
	"errors"
	"time"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

// Sink is one live channel to a client. A failed write means the client is
// gone; the stream then stops without telling anyone.
type Sink interface {
	Send(evt domain.Event) error
	Keepalive() error
	Transport() string
}

// StreamRun forwards the events after cursor to sink in sequence order and
// returns once the terminal event has been sent. ErrNotFound is returned
// before anything is written; every later failure ends the stream quietly.
// The run's executor never learns whether a stream is attached.
func (s *Service) StreamRun(ctx context.Context, runID string, cursor int64, sink Sink) error {
	// Subscribe before the first read so no append slips between them.
	sub := s.hub.Subscribe(runID)
	defer sub.Close()

	snap, err := s.store.Snapshot(ctx, runID, cursor)
	if err != nil {
		return err
	}

	transport := sink.Transport()
	s.metrics.StreamsActive.WithLabelValues(transport).Inc()
	defer s.metrics.StreamsActive.WithLabelValues(transport).Dec()

	keepalive := time.NewTicker(s.config.KeepaliveInterval)
	defer keepalive.Stop()
	poll := time.NewTicker(s.config.StreamPollInterval)
	defer poll.Stop()

	for {
		for _, evt := range snap.Events {
			if err := sink.Send(evt); err != nil {
				s.logger.Debugf("run %s: %s stream closed at seq %d: %v", runID, transport, evt.Sequence, err)
				return nil
			}
			cursor = evt.Sequence
			if evt.Kind.IsTerminal() {
				return nil
			}
		}
		// Terminal status with nothing left to send: the client resumed
		// past the terminal event.
		if snap.Run.Status.IsTerminal() {
			return nil
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sub.C:
				break wait
			case <-poll.C:
				break wait
			case <-keepalive.C:
				if err := sink.Keepalive(); err != nil {
					s.logger.Debugf("run %s: %s stream closed on keepalive: %v", runID, transport, err)
					return nil
				}
			}
		}

		snap, err = s.store.Snapshot(ctx, runID, cursor)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
				s.logger.Warnf("run %s: stream read failed: %v", runID, err)
			}
			return nil
		}
	}
}
