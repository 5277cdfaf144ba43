// Package ringer plays the looping incoming-call ringtone. There is one audio
// device and at most one call holds it at a time.
package ringer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Opener acquires the audio device. The returned writer receives raw G.711
// frames at real-time pace and is closed when ringing stops.
type Opener func() (io.WriteCloser, error)

// FileDevice opens the audio sink at path for writing.
func FileDevice(path string) Opener {
	return func() (io.WriteCloser, error) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening audio device %s: %w", path, err)
		}
		return f, nil
	}
}

// DiscardDevice is an Opener for hosts without audio output.
func DiscardDevice() (io.WriteCloser, error) {
	return nopCloser{io.Discard}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Ringer is the process-wide ringtone controller. Start and Stop are
// idempotent and may be called from any goroutine.
type Ringer struct {
	open   Opener
	tone   Tone
	logger *slog.Logger

	mu     sync.Mutex
	owner  string // call id holding the device; empty when idle
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle ringer. A nil opener discards audio.
func New(open Opener, tone Tone, logger *slog.Logger) *Ringer {
	if open == nil {
		open = DiscardDevice
	}
	if len(tone.Samples) == 0 {
		tone = DefaultTone()
	}
	return &Ringer{
		open:   open,
		tone:   tone,
		logger: logger.With("subsystem", "ringer"),
	}
}

// Start begins looping the ringtone for callID. If anything is already
// ringing this is a no-op: only one call may hold the device, so the second
// ring is dropped. A device failure is logged and swallowed.
func (r *Ringer) Start(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		if r.owner != callID {
			r.logger.Warn("ringer busy, dropping ring for concurrent call",
				"call_id", callID,
				"ringing_call_id", r.owner,
			)
		} else {
			r.logger.Debug("ringer already playing", "call_id", callID)
		}
		return
	}

	dev, err := r.open()
	if err != nil {
		r.logger.Warn("failed to acquire audio device, call will be silent",
			"call_id", callID,
			"error", err,
		)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.owner = callID
	r.cancel = cancel
	r.done = done

	go r.loop(ctx, dev, callID, done)

	r.logger.Info("ringer started", "call_id", callID, "tone_duration", r.tone.Duration())
}

// Stop releases the device unconditionally. It is safe to call when idle.
// When Stop returns the device has been closed.
func (r *Ringer) Stop() {
	r.mu.Lock()
	cancel, done, owner := r.cancel, r.done, r.owner
	r.clear()
	r.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("ringer stopped", "call_id", owner)
}

// StopFor stops the ringer only if callID holds the device, so resolving
// one call never silences another.
func (r *Ringer) StopFor(callID string) {
	r.mu.Lock()
	if r.done == nil || r.owner != callID {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.clear()
	r.mu.Unlock()

	cancel()
	<-done
	r.logger.Info("ringer stopped", "call_id", callID)
}

// Playing reports whether a ringtone is currently looping.
func (r *Ringer) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// Owner returns the call id holding the device, or "" when idle.
func (r *Ringer) Owner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// clear resets the holder state. Caller must hold r.mu.
func (r *Ringer) clear() {
	r.owner = ""
	r.cancel = nil
	r.done = nil
}

// loop writes the tone to dev frame by frame at 20ms pacing, wrapping around
// at the end of the tone, until ctx is cancelled or a write fails.
func (r *Ringer) loop(ctx context.Context, dev io.WriteCloser, callID string, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := dev.Close(); err != nil {
			r.logger.Warn("closing audio device", "call_id", callID, "error", err)
		}
	}()

	frame := make([]byte, frameSamples)
	silence := r.tone.Encoding.silence()
	samples := r.tone.Samples
	pos := 0
	sent := 0
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("ringer loop cancelled", "call_id", callID, "frames_sent", sent)
			return
		case <-timer.C:
		}

		n := copy(frame, samples[pos:])
		pos += n
		if pos >= len(samples) {
			pos = 0
			// Pad the final short frame so every write is one full frame.
			for i := n; i < frameSamples; i++ {
				frame[i] = silence
			}
		}

		if _, err := dev.Write(frame); err != nil {
			r.logger.Warn("audio device write failed, ringer going silent",
				"call_id", callID,
				"error", err,
			)
			r.release(done)
			return
		}
		sent++

		// Wall-clock pacing avoids drift from processing overhead.
		wait := time.Duration(sent)*frameDuration - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// release clears holder state after the loop exits on its own, unless a
// Stop has already done so.
func (r *Ringer) release(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == done {
		r.cancel()
		r.clear()
	}
}
