// Package app models the foreground application: whether it is visible,
// the launch intent it was last brought up with, and its in-app call
// screens.
package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowpbx/pushcall/internal/call"
)

// Launch is a recorded foreground launch.
type Launch struct {
	Intent     call.LaunchIntent `json:"intent"`
	LaunchedAt time.Time         `json:"launched_at"`
}

// App tracks foreground state and pending launch intents.
type App struct {
	foreground atomic.Bool
	logger     *slog.Logger

	mu      sync.Mutex
	pending *Launch
}

// New creates the app in the given foreground state.
func New(foreground bool, logger *slog.Logger) *App {
	a := &App{logger: logger.With("subsystem", "app")}
	a.foreground.Store(foreground)
	return a
}

// Foreground reports whether the app is visible.
func (a *App) Foreground() bool {
	return a.foreground.Load()
}

// SetForeground records a visibility change.
func (a *App) SetForeground(v bool) {
	if a.foreground.Swap(v) != v {
		a.logger.Info("app visibility changed", "foreground", v)
	}
}

// Launch brings the app to the foreground carrying intent. It implements
// call.Launcher. The latest intent replaces any unconsumed one.
func (a *App) Launch(_ context.Context, intent call.LaunchIntent) {
	a.mu.Lock()
	a.pending = &Launch{Intent: intent, LaunchedAt: time.Now()}
	a.mu.Unlock()

	a.SetForeground(true)
	a.logger.Info("app launched from call action",
		"call_id", intent.CallID,
		"action", intent.Action,
		"caller_name", intent.CallerName,
		"call_type", intent.CallType,
	)
}

// TakeLaunch returns the pending launch intent and clears it, so the app
// handles each launch once.
func (a *App) TakeLaunch() (Launch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return Launch{}, false
	}
	l := *a.pending
	a.pending = nil
	return l, true
}
