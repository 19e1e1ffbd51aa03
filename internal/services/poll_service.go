// Package services – PollService
//
// This file implements the long-poll wait loop. A client parks a request
// here and the loop watches two sources until something gives: the
// receiver's notification signal (checked every tick, cheap) and the
// message table itself (checked every Nth tick, catching signals that were
// lost or expired). The deadline is a wall-clock cutoff re-checked every
// iteration, and context cancellation aborts immediately so a disconnected
// client never holds the loop.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mvasilak/go-messenger-backend/internal/notify"
	"github.com/mvasilak/go-messenger-backend/internal/repo"
)

// Poll loop defaults; all three are configuration, not contract.
const (
	DefaultPollCheckInterval = 200 * time.Millisecond
	DefaultPollFallbackEvery = 5
	DefaultPollDeadline      = 20 * time.Second
)

// PollOutcome is the terminal state of a wait.
type PollOutcome int

const (
	// PollTimedOut means the deadline passed with nothing new. This is a
	// normal result, not an error.
	PollTimedOut PollOutcome = iota

	// PollResolvedSignal means the receiver's notification signal fired.
	PollResolvedSignal

	// PollResolvedFallback means the periodic database check found a new
	// message even though no signal was observed.
	PollResolvedFallback
)

// PollResult reports how a wait ended. MessageID is the newest message id
// the poller should fetch past, set only when Outcome is a resolution.
type PollResult struct {
	Outcome   PollOutcome
	MessageID uint64
}

// PollService runs the blocking wait loop for long-poll requests.
type PollService struct {
	DB      *gorm.DB
	Signals *notify.SignalStore

	// CheckInterval is the sleep between ticks (default 200ms).
	CheckInterval time.Duration
	// FallbackEvery makes every Nth tick also query the database (default 5).
	FallbackEvery int
	// Deadline caps the total wait (default 20s).
	Deadline time.Duration
}

func (s *PollService) checkInterval() time.Duration {
	if s.CheckInterval > 0 {
		return s.CheckInterval
	}
	return DefaultPollCheckInterval
}

func (s *PollService) fallbackEvery() int {
	if s.FallbackEvery > 0 {
		return s.FallbackEvery
	}
	return DefaultPollFallbackEvery
}

func (s *PollService) deadline() time.Duration {
	if s.Deadline > 0 {
		return s.Deadline
	}
	return DefaultPollDeadline
}

// Wait blocks until a new message for userID is detected, the deadline
// passes, or ctx is cancelled. Signal consumption is at-least-once: two
// pollers may both observe the same signal, and clearing an already
// cleared signal is a no-op. Wait never marks anything read; the client's
// follow-up fetch does that.
func (s *PollService) Wait(ctx context.Context, userID, afterID uint64) (PollResult, error) {
	every := s.fallbackEvery()
	cutoff := time.Now().Add(s.deadline())

	for tick := 1; ; tick++ {
		if err := ctx.Err(); err != nil {
			return PollResult{}, err
		}

		id, ok, err := s.Signals.Peek(ctx, userID)
		if err != nil {
			// Signal store trouble degrades to the database fallback.
			log.Warn().Err(err).Uint64("user_id", userID).Msg("signal peek failed")
		}
		if ok {
			if cerr := s.Signals.Clear(ctx, userID); cerr != nil {
				log.Warn().Err(cerr).Uint64("user_id", userID).Msg("signal clear failed")
			}
			pollsFinished.WithLabelValues("signal").Inc()
			return PollResult{Outcome: PollResolvedSignal, MessageID: id}, nil
		}

		if tick%every == 0 {
			msgs, qerr := repo.ListMessagesSince(ctx, s.DB, userID, afterID, 1)
			if qerr != nil {
				log.Warn().Err(qerr).Uint64("user_id", userID).Msg("poll fallback query failed")
			} else if len(msgs) > 0 {
				pollsFinished.WithLabelValues("fallback").Inc()
				return PollResult{Outcome: PollResolvedFallback, MessageID: msgs[0].ID}, nil
			}
		}

		if !time.Now().Before(cutoff) {
			pollsFinished.WithLabelValues("timeout").Inc()
			return PollResult{Outcome: PollTimedOut}, nil
		}

		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-time.After(s.checkInterval()):
		}
	}
}
