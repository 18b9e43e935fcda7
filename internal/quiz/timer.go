package quiz

import (
	"context"
	"log/slog"
	"time"
)

// startTimerLocked launches the countdown goroutine. The goroutine exits when
// the returned cancel runs or when the countdown completes the session.
func (m *Machine) startTimerLocked(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ticks, stop := m.newTicker(time.Second)
	m.stopTimer = cancel
	go m.runTimer(ctx, ticks, stop)
}

func (m *Machine) runTimer(ctx context.Context, ticks <-chan time.Time, stop func()) {
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if !m.tick(ctx) {
				return
			}
		}
	}
}

// tick decrements the countdown and reports whether the timer should keep running.
func (m *Machine) tick(ctx context.Context) bool {
	m.mu.Lock()
	if m.phase != PhaseInProgress || m.remaining == nil || ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	left := max(0, *m.remaining-1)
	m.remaining = &left

	running := true
	if left == 0 {
		m.logger.Info("quiz: timer expired", slog.String("session", m.session.ID), slog.Int("answered", len(m.answers)))
		// finishLocked cancels ctx before it writes.
		if err := m.finishLocked(context.WithoutCancel(ctx)); err != nil {
			m.logger.Error("quiz: complete on timeout", slog.String("session", m.session.ID), slog.String("error", err.Error()))
		}
		running = false
	}
	st := m.stateLocked()
	m.mu.Unlock()

	m.emit(st)
	return running
}

// cancelTimer stops the countdown. Safe to call any number of times.
func (m *Machine) cancelTimer() {
	m.stopOnce.Do(func() { m.stopTimer() })
}
