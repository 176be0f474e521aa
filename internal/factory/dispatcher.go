package factory

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
	"github.com/G-Research/minionfleet/internal/common/logging"
	"github.com/G-Research/minionfleet/internal/common/metrics"
	"github.com/G-Research/minionfleet/internal/directive"
)

const defaultDeduplicationCacheSize = 4096

// Dispatcher routes the directives received by the factory to the processors accepting them, and answers every
// accepted directive with an IN_PROGRESS feedback, then a COMPLETED or FAILED one. Routing never waits: at most limit
// directives are processed at once, except the ones stopping a campaign, which run as soon as they are routed.
type Dispatcher struct {
	nodeID     string
	processors []Processor
	feedbacks  FeedbackPublisher
	sink       metrics.Sink
	// Nil when the processing is not bounded.
	slots *semaphore.Weighted
	// Keys of the directives already dispatched, since the transport may deliver twice.
	seen *lru.Cache
}

func NewDispatcher(nodeID string, processors []Processor, feedbacks FeedbackPublisher, sink metrics.Sink, limit, deduplicationCacheSize int) (*Dispatcher, error) {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if deduplicationCacheSize <= 0 {
		deduplicationCacheSize = defaultDeduplicationCacheSize
	}
	seen, err := lru.New(deduplicationCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	d := &Dispatcher{
		nodeID:     nodeID,
		processors: processors,
		feedbacks:  feedbacks,
		sink:       sink,
		seen:       seen,
	}
	if limit > 0 {
		d.slots = semaphore.NewWeighted(int64(limit))
	}
	return d, nil
}

// Run dispatches the directives until the channel is closed or ctx is done, then waits for the directives being
// processed.
func (d *Dispatcher) Run(ctx *fleetcontext.Context, directives <-chan directive.Directive) error {
	group, groupCtx := fleetcontext.ErrGroup(ctx)
	for {
		select {
		case <-groupCtx.Done():
			return group.Wait()
		case received, ok := <-directives:
			if !ok {
				return group.Wait()
			}
			d.dispatch(groupCtx, group.Go, received)
		}
	}
}

// dispatch spawns the processing of received by every processor accepting it. A directive nobody accepts is not
// remembered, so that it is processed if it is delivered again once the factory is concerned.
func (d *Dispatcher) dispatch(ctx *fleetcontext.Context, spawn func(func() error), received directive.Directive) {
	var accepting []Processor
	for _, processor := range d.processors {
		if processor.Accept(received) {
			accepting = append(accepting, processor)
		}
	}
	if len(accepting) == 0 {
		return
	}
	if contains, _ := d.seen.ContainsOrAdd(received.DirectiveKey(), struct{}{}); contains {
		ctx.Log.Debugf("dropping the redelivered directive %s", received.DirectiveKey())
		return
	}
	bounded := d.slots != nil && !received.Kind().Stops()
	for _, processor := range accepting {
		processor := processor
		spawn(func() error {
			if bounded {
				if err := d.slots.Acquire(ctx, 1); err != nil {
					ctx.Log.Debugf("%s %s not processed: %s", received.Kind(), received.DirectiveKey(), err)
					return nil
				}
				defer d.slots.Release(1)
			}
			d.process(ctx, processor, received)
			return nil
		})
	}
}

// process runs a processor and publishes its feedbacks. Failures are reported to the head, never returned, so that
// one failing directive does not stop the others.
func (d *Dispatcher) process(ctx *fleetcontext.Context, processor Processor, received directive.Directive) {
	ctx = fleetcontext.WithLogFields(ctx, logrus.Fields{
		fleetcontext.CampaignField:  received.Campaign(),
		fleetcontext.DirectiveField: received.DirectiveKey(),
		"kind":                      received.Kind(),
	})
	d.publish(ctx, directive.NewDirectiveFeedback(received, d.nodeID, directive.InProgress, nil))

	start := time.Now()
	err := processor.Process(ctx, received)
	d.sink.RecordTimer("directive_"+string(received.Kind()), time.Since(start))
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Error("directive failed")
		d.sink.LogEvent(logrus.WarnLevel, "directive-failure", map[string]string{"kind": string(received.Kind())}, err.Error())
		d.publish(ctx, directive.NewDirectiveFeedback(received, d.nodeID, directive.Failed, err))
		return
	}
	d.publish(ctx, directive.NewDirectiveFeedback(received, d.nodeID, directive.Completed, nil))
}

func (d *Dispatcher) publish(ctx *fleetcontext.Context, feedback *directive.Feedback) {
	if err := d.feedbacks.PublishFeedback(ctx, feedback); err != nil {
		logging.WithStacktrace(ctx.Log, err).Errorf("publishing the %s feedback", feedback.Status)
	}
}
