package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/readaloud/internal/timing"
)

// API is the part of the server the poller drives.
type API interface {
	Submit(ctx context.Context, req Request) (string, error)
	Status(ctx context.Context, jobID string) (Job, error)
}

// Store receives finished audio.
type Store interface {
	Store(ctx context.Context, id, source string) (string, error)
	StoreTimepoints(id string, tps []timing.Timepoint) error
}

// DefaultConcurrency bounds how many jobs Resume polls at once.
const DefaultConcurrency = 4

// Poller owns the job state machine. A job is advanced only by what a status
// response reports; nothing times out locally and nothing is retried
// automatically.
type Poller struct {
	api         API
	reg         Registry
	store       Store
	logger      *log.Logger
	concurrency int

	submitMu sync.Mutex
	group    singleflight.Group
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger.
func WithPollerLogger(l *log.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithConcurrency bounds concurrent polls during Resume.
func WithConcurrency(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPoller returns a poller.
func NewPoller(api API, reg Registry, store Store, opts ...PollerOption) *Poller {
	p := &Poller{
		api:         api,
		reg:         reg,
		store:       store,
		logger:      log.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit starts a render for contentID and records it as pending. It refuses
// while an earlier job for the same content is still pending.
func (p *Poller) Submit(ctx context.Context, contentID string, req Request) (string, error) {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	existing, err := p.reg.Get(ctx, contentID)
	if err != nil {
		return "", fmt.Errorf("read registry: %w", err)
	}
	if existing != "" {
		return "", fmt.Errorf("%w: %s (job %s)", ErrAlreadyPending, contentID, existing)
	}

	if req.FileID == "" {
		req.FileID = contentID
	}
	jobID, err := p.api.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	if err := p.reg.Put(ctx, contentID, jobID); err != nil {
		return "", fmt.Errorf("record pending job %s: %w", jobID, err)
	}
	p.logger.Info("Job submitted", "id", contentID, "job", jobID)
	return jobID, nil
}

// Poll checks the pending job for contentID once and applies the result.
// Concurrent polls for the same content share one status request.
func (p *Poller) Poll(ctx context.Context, contentID string) (Result, error) {
	v, err, _ := p.group.Do(contentID, func() (any, error) {
		return p.poll(ctx, contentID)
	})
	res, _ := v.(Result)
	return res, err
}

func (p *Poller) poll(ctx context.Context, contentID string) (Result, error) {
	jobID, err := p.reg.Get(ctx, contentID)
	if err != nil {
		return Result{}, fmt.Errorf("read registry: %w", err)
	}
	if jobID == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrNotPending, contentID)
	}

	job, err := p.api.Status(ctx, jobID)
	if err != nil {
		// Leave the entry for the next attempt.
		p.logger.Debug("Status check failed", "id", contentID, "job", jobID, "err", err)
		return Result{JobID: jobID}, err
	}

	res := Result{JobID: jobID, Status: job.Status}
	switch job.Status {
	case StatusCompleted:
		return p.complete(ctx, contentID, job, res)

	case StatusFailed:
		if err := p.reg.Delete(ctx, contentID); err != nil {
			return res, fmt.Errorf("clear pending job: %w", err)
		}
		p.logger.Warn("Job failed", "id", contentID, "job", jobID, "msg", job.ErrorMsg)
		return res, &JobFailedError{JobID: jobID, Message: job.ErrorMsg}

	default:
		p.logger.Debug("Job still running", "id", contentID, "job", jobID, "status", job.Status)
		return res, nil
	}
}

func (p *Poller) complete(ctx context.Context, contentID string, job Job, res Result) (Result, error) {
	if job.AudioURL == "" {
		if err := p.reg.Delete(ctx, contentID); err != nil {
			return res, fmt.Errorf("clear pending job: %w", err)
		}
		return res, fmt.Errorf("%w: job %s", ErrNoAudio, job.ID)
	}

	// A failed download or side-car write keeps the entry so the next poll
	// tries again.
	path, err := p.store.Store(ctx, contentID, job.AudioURL)
	if err != nil {
		return res, err
	}
	if len(job.Timepoints) > 0 {
		if err := p.store.StoreTimepoints(contentID, job.Timepoints); err != nil {
			return res, err
		}
	}
	if err := p.reg.Delete(ctx, contentID); err != nil {
		return res, fmt.Errorf("clear pending job: %w", err)
	}

	res.Path = path
	p.logger.Info("Job completed", "id", contentID, "job", job.ID, "path", path)
	return res, nil
}

// Resume polls every pending entry once. Per-entry failures are reported in
// the results; the returned error is only for failing to read the registry.
// Calling Resume again is safe: completed and failed entries are gone.
func (p *Poller) Resume(ctx context.Context) (map[string]Result, error) {
	pending, err := p.reg.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]Result, len(pending))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for contentID := range pending {
		g.Go(func() error {
			res, err := p.Poll(gctx, contentID)
			res.Err = err

			mu.Lock()
			results[contentID] = res
			mu.Unlock()

			// one job's failure must not cancel the others
			if errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Pending lists the registry contents.
func (p *Poller) Pending(ctx context.Context) (map[string]string, error) {
	return p.reg.All(ctx)
}
