// Package capture implements the on-demand still-capture pipeline
// (component I, spec.md §4.9): a single-consumer queue that pulls a JPEG
// frame from the camera driver, spools it to a temp file, and hands it to
// the media bus. Grounded on the spool-then-deliver shape of
// internal/recorder and internal/motion's still-capture path, which both
// implement the same "write to a temp file under SpoolDir, then
// media.Manager.Deliver, clean up on failure" idiom.
package capture

import (
	"context"
	"os"

	"github.com/warpcomdev/ratcam/internal/media"
	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/worker"
)

// Source is the image-composition external collaborator spec.md §4.9
// names: encode one still at the requested JPEG quality.
type Source interface {
	CaptureJPEG(quality int) ([]byte, error)
}

// request is one enqueued still-capture ask.
type request struct {
	quality int
	info    interface{}
}

// Config is Queue's tunable policy.
type Config struct {
	SpoolDir    string
	JPEGQuality int
	Capacity    int
}

// Queue is the single-consumer capture worker: Submit enqueues a request,
// the background worker drains it in submission order via
// internal/worker.Queue.
type Queue struct {
	logger ratcamlog.Logger
	cfg    Config
	source Source
	bus    *media.Manager

	worker *worker.Queue[request]
}

// New constructs and starts a capture Queue.
func New(logger ratcamlog.Logger, cfg Config, source Source, bus *media.Manager) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4
	}
	q := &Queue{
		logger: logger.With(ratcamlog.String("component", "capture")),
		cfg:    cfg,
		source: source,
		bus:    bus,
	}
	q.worker = worker.NewQueue(q.logger, "still-capture", cfg.Capacity, q.runOne)
	return q
}

// Stop joins the background worker.
func (q *Queue) Stop() {
	q.worker.Stop()
}

// Activate implements plugin.Plugin. Queue does all of its real setup in
// New (the worker is already running by construction time), so there is
// nothing left to resolve against the lookup table: it is registered as a
// CAMERA-only plugin purely so chat command handlers can reach it through
// an ordinary *rpc.Proxy, the same plumbing every cross-process call uses.
func (q *Queue) Activate(ctx context.Context, pctx *plugin.Context) error { return nil }

// Deactivate implements plugin.Plugin.
func (q *Queue) Deactivate(ctx context.Context) error {
	q.Stop()
	return nil
}

// Submit enqueues a still-capture request at the configured JPEG quality,
// tagged with info (carried through to the delivered media.Record
// unchanged). Returns false if the queue has already been stopped.
func (q *Queue) Submit(info interface{}) bool {
	return q.worker.Submit(request{quality: q.cfg.JPEGQuality, info: info})
}

func (q *Queue) runOne(ctx context.Context, req request) {
	jpegData, err := q.source.CaptureJPEG(req.quality)
	if err != nil {
		q.logger.Error("still capture failed", ratcamlog.Error(err))
		return
	}

	path, err := spoolJPEG(q.cfg.SpoolDir, jpegData)
	if err != nil {
		q.logger.Error("still spool failed", ratcamlog.Error(err))
		return
	}
	if _, err := q.bus.Deliver(ctx, path, media.KindJPEG, req.info); err != nil {
		q.logger.Error("still delivery failed", ratcamlog.Error(err))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			q.logger.Error("still cleanup failed", ratcamlog.Error(rmErr))
		}
	}
}

func spoolJPEG(dir string, payload []byte) (string, error) {
	f, err := os.CreateTemp(dir, "still-*.jpg")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(payload); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
