// Package dashboard keeps the admin's list of submissions current. Pushed
// submission updates are applied in place; while the realtime channel is not
// connected the full list is re-fetched on a fixed interval instead.
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/melotech/melotech/internal/client/notify"
	"github.com/melotech/melotech/internal/model"
)

// DefaultPollInterval is the re-fetch period while realtime is unavailable.
const DefaultPollInterval = 30 * time.Second

// Lister is satisfied by submissions.Repository.
type Lister interface {
	ListAll(ctx context.Context) ([]model.Submission, error)
}

// Reconciler owns the in-memory admin list.
type Reconciler struct {
	lister   Lister
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	items    []model.Submission
	status   notify.Status
	onChange func([]model.Submission)

	// Updates pushed while a fetch is in flight, replayed onto its result.
	fetching int
	pushed   map[string]model.ReviewState

	statusCh chan struct{}
}

type Option func(*Reconciler)

// OnChange is called with a copy of the list after every change.
func OnChange(fn func([]model.Submission)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

func New(lister Lister, interval time.Duration, logger *slog.Logger, opts ...Option) *Reconciler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	r := &Reconciler{
		lister:   lister,
		interval: interval,
		logger:   logger,
		status:   notify.Disconnected,
		statusCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submissions returns a copy of the current list.
func (r *Reconciler) Submissions() []model.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Submission(nil), r.items...)
}

// Refresh replaces the list with a fresh ListAll. On error the old list stays.
// Updates pushed while the fetch runs are kept over the fetched rows.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.fetching++
	r.mu.Unlock()

	items, err := r.lister.ListAll(ctx)

	r.mu.Lock()
	pushed := r.pushed
	r.fetching--
	if r.fetching == 0 {
		r.pushed = nil
	}
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("refreshing submissions failed", slog.String("error", err.Error()))
		return err
	}
	for i := range items {
		if review, ok := pushed[items[i].ID]; ok {
			applyReview(&items[i], review)
		}
	}
	r.items = items
	snapshot := append([]model.Submission(nil), items...)
	r.mu.Unlock()

	r.logger.Debug("submissions refreshed", slog.Int("count", len(items)))
	r.changed(snapshot)
	return nil
}

// ApplyUpdate copies the review fields of u onto the matching submission.
// Updates for submissions not in the list are ignored.
func (r *Reconciler) ApplyUpdate(u model.SubmissionUpdate) {
	r.mu.Lock()
	if r.fetching > 0 {
		if r.pushed == nil {
			r.pushed = make(map[string]model.ReviewState)
		}
		r.pushed[u.SubmissionID] = u.NewData
	}
	found := false
	for i := range r.items {
		if r.items[i].ID != u.SubmissionID {
			continue
		}
		applyReview(&r.items[i], u.NewData)
		found = true
		break
	}
	snapshot := append([]model.Submission(nil), r.items...)
	r.mu.Unlock()

	if !found {
		r.logger.Debug("update for unknown submission ignored", slog.String("submissionID", u.SubmissionID))
		return
	}
	r.logger.Info("submission updated",
		slog.String("submissionID", u.SubmissionID),
		slog.String("title", u.Title),
		slog.Any("fields", u.UpdatedFields),
	)
	r.changed(snapshot)
}

// ChannelStatus records the realtime channel's state. Pass it to
// notify.OnStatusChange.
func (r *Reconciler) ChannelStatus(s notify.Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()

	select {
	case r.statusCh <- struct{}{}:
	default:
	}
}

func (r *Reconciler) connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == notify.Connected
}

// Run loads the list once, then polls every interval for as long as the
// channel is not connected. It returns when ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	_ = r.Refresh(ctx)

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	adjust := func() {
		switch connected := r.connected(); {
		case connected && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
			r.logger.Info("realtime connected, polling stopped")
		case !connected && ticker == nil:
			ticker = time.NewTicker(r.interval)
			tick = ticker.C
			r.logger.Info("realtime unavailable, polling", slog.Duration("interval", r.interval))
		}
	}
	adjust()

	for {
		select {
		case <-ctx.Done():
			if ticker != nil {
				ticker.Stop()
			}
			return ctx.Err()
		case <-r.statusCh:
			adjust()
		case <-tick:
			_ = r.Refresh(ctx)
		}
	}
}

func applyReview(s *model.Submission, review model.ReviewState) {
	s.Status = review.Status
	s.Rating = review.Rating
	s.Feedback = review.Feedback
}

func (r *Reconciler) changed(items []model.Submission) {
	if r.onChange != nil {
		r.onChange(items)
	}
}
