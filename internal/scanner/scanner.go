// Package scanner runs the QR decoder loop: it polls a frame source at a
// fixed cadence, decodes frames, and forwards payloads through the
// cooldown gate to a sink.
package scanner

import (
	"context"
	"errors"
	"image"
	"log"
	"sync"
	"time"

	"taptendance/internal/metrics"
	"taptendance/internal/payload"
)

const (
	// PollInterval is the frame sampling cadence.
	PollInterval = 100 * time.Millisecond
	// Cooldown is the minimum interval between accepted scans. It is
	// keyed globally, not per student id: the station scans one card at
	// a time, and a second card inside the window is dropped too.
	Cooldown = 7 * time.Second
)

// FrameSource supplies frames from a live capture device.
type FrameSource interface {
	Grab(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener acquires the frame source. This is the one loud failure point:
// a camera/permission error here is fatal to starting the loop.
type Opener func(ctx context.Context) (FrameSource, error)

// Decoder extracts QR text from a frame. A miss is not an error.
type Decoder interface {
	Decode(img image.Image) (string, bool)
}

// Sink receives payloads that passed the cooldown gate. The context is
// the loop's own: when the scanner stops, a sink blocked downstream must
// unblock so the frame source can be released.
type Sink func(ctx context.Context, p payload.Payload)

// Session owns the decoder loop's mutable state: the last-accepted
// timestamp behind the cooldown gate and the running flag.
type Session struct {
	mu           sync.Mutex
	lastAccepted time.Time
	running      bool
	cooldown     time.Duration
	now          func() time.Time
}

// NewSession creates an idle session with the default cooldown.
func NewSession() *Session {
	return &Session{cooldown: Cooldown, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Session) SetClock(now func() time.Time) { s.now = now }

// SetCooldown overrides the cooldown window, for tests.
func (s *Session) SetCooldown(d time.Duration) { s.cooldown = d }

// Admit applies the cooldown gate. The first scan always passes; later
// scans pass only when the window has elapsed since the last accepted one.
func (s *Session) Admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.lastAccepted.IsZero() && now.Sub(s.lastAccepted) < s.cooldown {
		return false
	}
	s.lastAccepted = now
	return true
}

// Running reports whether the loop is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) setRunning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = v
	if !v {
		s.lastAccepted = time.Time{}
	}
}

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("scanner: already running")

// Scanner drives the decoder loop against an acquired frame source.
type Scanner struct {
	open    Opener
	decoder Decoder
	sink    Sink
	session *Session

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	interval time.Duration
}

// New wires a scanner. The session may be shared with the HTTP layer so
// it can report running state.
func New(open Opener, decoder Decoder, sink Sink, session *Session) *Scanner {
	if session == nil {
		session = NewSession()
	}
	return &Scanner{
		open:     open,
		decoder:  decoder,
		sink:     sink,
		session:  session,
		interval: PollInterval,
	}
}

// Session exposes the scanner's session state.
func (sc *Scanner) Session() *Session { return sc.session }

// Start acquires the frame source and launches the loop. Acquisition
// failure is returned to the caller and the loop never enters the running
// state; the source is released on every startup error path.
func (sc *Scanner) Start(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.session.Running() {
		return ErrAlreadyRunning
	}

	src, err := sc.open(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sc.cancel = cancel
	sc.done = done
	sc.session.setRunning(true)

	go sc.run(loopCtx, src, done)
	return nil
}

// Stop terminates the loop and blocks until the frame source is released.
// Stopping an idle scanner is a no-op.
func (sc *Scanner) Stop() {
	sc.mu.Lock()
	cancel, done := sc.cancel, sc.done
	sc.cancel, sc.done = nil, nil
	sc.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (sc *Scanner) run(ctx context.Context, src FrameSource, done chan struct{}) {
	defer close(done)
	defer sc.session.setRunning(false)
	defer func() {
		if err := src.Close(); err != nil {
			log.Printf("scanner: frame source close failed: %v", err)
		}
	}()

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.tick(ctx, src)
		}
	}
}

// tick processes one frame. Capture glitches are transient: log, skip,
// keep the loop alive.
func (sc *Scanner) tick(ctx context.Context, src FrameSource) {
	img, err := src.Grab(ctx)
	if err != nil {
		metrics.FramesSkipped.Inc()
		log.Printf("scanner: frame grab failed, skipping: %v", err)
		return
	}
	if img == nil || img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		metrics.FramesSkipped.Inc()
		return
	}
	metrics.FramesProcessed.Inc()

	text, ok := sc.decoder.Decode(img)
	if !ok {
		return
	}
	metrics.DecodeHits.Inc()

	if !sc.session.Admit() {
		metrics.CooldownDrops.Inc()
		log.Printf("scanner: decode inside cooldown window, dropped")
		return
	}
	sc.sink(ctx, payload.Decode(text))
}
