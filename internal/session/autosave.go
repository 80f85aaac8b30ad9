package session

import (
	"context"
	"log/slog"
	"time"
)

// Autosaver periodically snapshots every live session.
type Autosaver struct {
	manager  *Manager
	interval time.Duration
}

// NewAutosaver creates an autosaver. A non-positive interval defaults to 15s.
func NewAutosaver(m *Manager, interval time.Duration) *Autosaver {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Autosaver{manager: m, interval: interval}
}

// Run saves on every tick until ctx is cancelled, then flushes once.
func (a *Autosaver) Run(ctx context.Context) {
	slog.Info("autosaver started", "interval", a.interval)
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n := a.manager.SaveAll(flushCtx)
			cancel()
			slog.Info("autosaver stopped", "flushed", n)
			return
		case <-t.C:
			if n := a.manager.SaveAll(ctx); n > 0 {
				slog.Debug("autosave", "sessions", n)
			}
		}
	}
}
