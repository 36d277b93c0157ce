package webhook

import (
	"context"
	"log/slog"
	"sync"

	"github.com/melotech/melotech/internal/model"
)

// Dispatcher feeds committed table API updates to the processors without
// holding up the HTTP response. It implements service.ChangeNotifier.
type Dispatcher struct {
	processors []Processor
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, processors ...Processor) *Dispatcher {
	return &Dispatcher{processors: processors, logger: logger}
}

// SubmissionChanged runs every processor in the background. The request
// context's values are kept but its cancellation is not.
func (d *Dispatcher) SubmissionChanged(ctx context.Context, before, after *model.Submission) {
	ev := Event{
		Type:      EventUpdate,
		Table:     TableSubmissions,
		Schema:    "public",
		Record:    after,
		OldRecord: before,
	}
	ctx = context.WithoutCancel(ctx)

	for _, p := range d.processors {
		d.wg.Add(1)
		go func(p Processor) {
			defer d.wg.Done()
			if _, err := p.Process(ctx, ev); err != nil {
				d.logger.Error("change event processing failed",
					slog.String("processor", p.Name()),
					slog.String("submissionID", after.ID),
					slog.String("error", err.Error()),
				)
			}
		}(p)
	}
}

// Wait blocks until every dispatched event has been processed. Called on
// shutdown and by tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
