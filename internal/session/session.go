// Package session owns the display pipeline: the slot store, the renderer,
// the refresh scheduler and the driver. Producers (poll loop, notification
// listeners, web handlers) merge records and post render requests; a single
// worker renders the latest snapshot and presents it.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"boxdisplay/internal/epd"
	appLog "boxdisplay/internal/log"
	"boxdisplay/internal/model"
	"boxdisplay/internal/refresh"
	"boxdisplay/internal/render"
	"boxdisplay/internal/store"
)

// Fetcher reads the current status of one slot from upstream.
type Fetcher interface {
	FetchStatus(ctx context.Context, id model.SlotID) (model.Record, error)
}

// Boot screen texts.
const (
	MsgBooting    = "Booting system..."
	MsgConnecting = "Connecting to notifications..."
	MsgFetching   = "Fetching data..."
	MsgReady      = "Boot complete!"
)

// fetchConcurrency bounds in-flight status requests during a full fetch.
const fetchConcurrency = 4

// ErrClosed is returned by operations attempted after Shutdown.
var ErrClosed = errors.New("session: closed")

type Session struct {
	store    *store.Store
	renderer *render.Renderer
	sched    *refresh.Scheduler
	driver   epd.Driver
	fetcher  Fetcher

	// mailbox holds at most one pending render request. Further requests
	// coalesce into it; pendingForce is sticky until the worker takes it.
	mailbox      chan struct{}
	forceMu      sync.Mutex
	pendingForce bool

	// presentMu serializes render+present and guards closed.
	presentMu sync.Mutex
	closed    bool

	frameMu    sync.RWMutex
	lastFrame  *image.Gray
	lastResult refresh.Result
	lastAt     time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires a session. threshold is the full-refresh interval (<= 0 for the
// default).
func New(d epd.Driver, r *render.Renderer, f Fetcher, threshold int) *Session {
	return &Session{
		store:    store.New(),
		renderer: r,
		sched:    refresh.New(d, threshold),
		driver:   d,
		fetcher:  f,
		mailbox:  make(chan struct{}, 1),
	}
}

// ShowMessage draws a single centered line with a full refresh.
func (s *Session) ShowMessage(text string) refresh.Result {
	s.presentMu.Lock()
	defer s.presentMu.Unlock()
	if s.closed {
		return refresh.Result{Err: ErrClosed}
	}
	appLog.Info("display message", "text", text)
	return s.presentLocked(s.renderer.RenderMessage(text), true)
}

// Boot fetches every slot, seeds the store and shows the first frame with a
// full refresh.
func (s *Session) Boot(ctx context.Context) refresh.Result {
	s.ShowMessage(MsgFetching)
	snap, err := s.fetchAll(ctx)
	if err != nil {
		appLog.Warn("boot fetch abandoned", "err", err.Error())
		return refresh.Result{Err: err}
	}
	s.store.Seed(snap)
	s.ShowMessage(MsgReady)
	return s.RenderNow(true)
}

// Notify re-fetches one slot, merges the result and asks for a render.
// Upstream failures become an errored record rather than an error.
func (s *Session) Notify(ctx context.Context, id model.SlotID) error {
	if !id.Valid() {
		return fmt.Errorf("session: unknown slot %d", int(id))
	}
	rec := s.fetch(ctx, id)
	s.store.Merge(id, rec)
	appLog.Info("slot updated", "slot", id, "kind", rec.Kind(), "version", s.store.Version())
	s.RequestRender(false)
	return nil
}

// Refresh re-fetches every slot concurrently and posts one render request.
// A refresh cut short by ctx merges nothing.
func (s *Session) Refresh(ctx context.Context, forceFull bool) {
	snap, err := s.fetchAll(ctx)
	if err != nil {
		appLog.Debug("refresh abandoned", "err", err.Error())
		return
	}
	s.store.Seed(snap)
	s.RequestRender(forceFull)
}

func (s *Session) fetch(ctx context.Context, id model.SlotID) model.Record {
	rec, err := s.fetcher.FetchStatus(ctx, id)
	if err != nil {
		appLog.Warn("fetch failed", "slot", id, "err", err.Error())
		return model.Errored(err.Error())
	}
	return rec
}

// fetchAll fetches every slot concurrently. Upstream failures become errored
// records; only cancellation of ctx aborts the whole fetch.
func (s *Session) fetchAll(ctx context.Context) (model.Snapshot, error) {
	recs := make([]model.Record, len(model.Slots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range model.Slots {
		g.Go(func() error {
			rec, err := s.fetcher.FetchStatus(gctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				appLog.Warn("fetch failed", "slot", id, "err", err.Error())
				rec = model.Errored(err.Error())
			}
			recs[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := make(model.Snapshot, len(recs))
	for i, id := range model.Slots {
		snap[id] = recs[i]
	}
	return snap, nil
}

// RequestRender posts a render request without blocking. forceFull is
// remembered until the worker picks the request up.
func (s *Session) RequestRender(forceFull bool) {
	if forceFull {
		s.forceMu.Lock()
		s.pendingForce = true
		s.forceMu.Unlock()
	}
	select {
	case s.mailbox <- struct{}{}:
	default:
		// A request is already pending; it will read the newer snapshot.
	}
}

func (s *Session) takeForce() bool {
	s.forceMu.Lock()
	defer s.forceMu.Unlock()
	f := s.pendingForce
	s.pendingForce = false
	return f
}

// Run is the render worker. It returns nil when ctx is done, after any
// in-flight render completes.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.mailbox:
			s.RenderNow(s.takeForce())
		}
	}
}

// RenderNow renders the current snapshot and presents it synchronously.
func (s *Session) RenderNow(forceFull bool) refresh.Result {
	s.presentMu.Lock()
	defer s.presentMu.Unlock()
	if s.closed {
		return refresh.Result{Err: ErrClosed}
	}
	snap := s.store.ReadAll()
	return s.presentLocked(s.renderer.Render(snap), forceFull)
}

func (s *Session) presentLocked(img *image.Gray, forceFull bool) refresh.Result {
	res := s.sched.Present(img, forceFull)

	s.frameMu.Lock()
	s.lastFrame = img
	s.lastResult = res
	s.lastAt = time.Now()
	s.frameMu.Unlock()
	return res
}

// ForceFullRefresh makes the next present a full refresh.
func (s *Session) ForceFullRefresh() { s.sched.ForceFullRefresh() }

// Snapshot returns a copy of the current slot records.
func (s *Session) Snapshot() model.Snapshot { return s.store.ReadAll() }

// Version is the store merge counter.
func (s *Session) Version() uint64 { return s.store.Version() }

// Count is the number of updates since the last full refresh.
func (s *Session) Count() int { return s.sched.Count() }

// Threshold is the full-refresh interval.
func (s *Session) Threshold() int { return s.sched.Threshold() }

// DriverName identifies the active panel driver.
func (s *Session) DriverName() string { return s.driver.Name() }

// LastFrame returns the most recently presented image (nil before the
// first present) with its result and time. The image is never mutated.
func (s *Session) LastFrame() (*image.Gray, refresh.Result, time.Time) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.lastFrame, s.lastResult, s.lastAt
}

// EncodePreview writes the last frame as PNG.
func (s *Session) EncodePreview(w io.Writer) error {
	img, _, _ := s.LastFrame()
	if img == nil {
		return errors.New("session: no frame rendered yet")
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("session: encode preview: %w", err)
	}
	return nil
}

// Shutdown clears the panel, puts it to sleep and closes the driver. Only
// the first call of Shutdown or Park does anything; later calls return the
// same error.
func (s *Session) Shutdown() error { return s.shutdown(true) }

// Park is Shutdown without the clear: the last frame stays visible while the
// panel sleeps. Used by one-shot runs.
func (s *Session) Park() error { return s.shutdown(false) }

func (s *Session) shutdown(blank bool) error {
	s.shutdownOnce.Do(func() {
		s.presentMu.Lock()
		defer s.presentMu.Unlock()
		s.closed = true

		var errs []error
		if blank {
			if err := s.driver.Clear(); err != nil {
				appLog.Error("shutdown: clear failed", err)
				errs = append(errs, err)
			}
		}
		if err := s.driver.Sleep(); err != nil {
			appLog.Error("shutdown: sleep failed", err)
			errs = append(errs, err)
		}
		if err := s.driver.Close(); err != nil {
			appLog.Error("shutdown: close failed", err)
			errs = append(errs, err)
		}
		s.shutdownErr = errors.Join(errs...)
		appLog.Info("display shut down", "driver", s.driver.Name(), "cleared", blank)
	})
	return s.shutdownErr
}
