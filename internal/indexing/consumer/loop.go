// Package consumer runs the durable polling loop over the book events
// topic. The loop is an explicit state machine so its retry and backoff
// policy is testable without Kafka.
package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bookworks/booksearch/pkg/config"
	"github.com/bookworks/booksearch/pkg/metrics"
)

// State is the consumer loop's current phase.
type State int32

const (
	StatePolling State = iota
	StateBackoff
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// errorClass buckets stream-level errors into the loop's three reactions.
type errorClass int

const (
	classEndOfStream errorClass = iota
	classTopicMissing
	classTransient
)

func (c errorClass) String() string {
	switch c {
	case classEndOfStream:
		return "end_of_stream"
	case classTopicMissing:
		return "topic_missing"
	default:
		return "transient"
	}
}

// classify maps a fetch error onto an errorClass. Unknown-topic errors get
// the fixed topic retry delay; reader EOF means the end of the stream was
// reached (or the reader closed); everything else is transient.
func classify(err error) errorClass {
	var kerr kafka.Error
	if errors.As(err, &kerr) && kerr == kafka.UnknownTopicOrPartition {
		return classTopicMissing
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return classEndOfStream
	}
	return classTransient
}

// MessageSource is the stream client surface the loop needs. Satisfied by
// *kafka.Reader.
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler processes one raw message. A non-nil error means the
// message was not handled and its offset must not be committed.
type MessageHandler func(ctx context.Context, key, value []byte) error

// Loop polls the source and hands each message to the handler. It never
// terminates on a single message's failure; only cancellation stops it.
type Loop struct {
	source  MessageSource
	handler MessageHandler
	cfg     config.ConsumerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	stopped sync.Once
}

// New creates a Loop. m may be nil.
func New(source MessageSource, handler MessageHandler, cfg config.ConsumerConfig, m *metrics.Metrics) *Loop {
	return &Loop{
		source:  source,
		handler: handler,
		cfg:     cfg,
		metrics: m,
		state:   StateStopped,
		logger:  slog.Default().With("component", "consumer-loop"),
	}
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stop requests a graceful shutdown: the loop finishes the in-flight
// message, drains, and releases the stream connection. A second call is a
// no-op.
func (l *Loop) Stop() {
	l.stopped.Do(func() {
		l.mu.Lock()
		cancel := l.cancel
		l.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Run drives the state machine until the loop reaches Stopped. It returns
// nil on clean shutdown; the only error path is a failure to release the
// stream connection.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer cancel()

	l.transition(StatePolling, "started")
	var backoffDelay time.Duration

	for {
		switch l.State() {
		case StatePolling:
			if ctx.Err() != nil {
				l.transition(StateDraining, "shutdown signal")
				continue
			}
			msg, err := l.poll(ctx)
			if err == errEmptyPoll {
				l.sleep(ctx, l.cfg.EmptyPollSleep)
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					l.transition(StateDraining, "shutdown signal")
					continue
				}
				switch class := classify(err); class {
				case classEndOfStream:
					// Informational; the group rebalances or new data
					// arrives. Avoid a hot loop on a closed reader.
					l.logger.Info("end of stream", "error", err)
					l.sleep(ctx, l.cfg.EmptyPollSleep)
				case classTopicMissing:
					l.logger.Warn("topic not yet available, backing off", "error", err)
					backoffDelay = l.cfg.TopicRetryDelay
					l.transition(StateBackoff, class.String())
				default:
					l.logger.Error("stream error, backing off", "error", err)
					backoffDelay = l.cfg.TransientBackoff
					l.transition(StateBackoff, class.String())
				}
				continue
			}
			l.handle(ctx, msg)

		case StateBackoff:
			if !l.sleep(ctx, backoffDelay) {
				l.transition(StateDraining, "shutdown signal")
				continue
			}
			l.transition(StatePolling, "backoff elapsed")

		case StateDraining:
			if err := l.source.Close(); err != nil {
				l.transition(StateStopped, "close failed")
				return err
			}
			l.transition(StateStopped, "drained")

		case StateStopped:
			l.logger.Info("consumer loop stopped")
			return nil
		}
	}
}

var errEmptyPoll = errors.New("empty poll")

// poll fetches with a bounded wait. A deadline with no message is an
// empty poll, not an error.
func (l *Loop) poll(ctx context.Context) (kafka.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, l.cfg.PollTimeout)
	defer cancel()
	msg, err := l.source.FetchMessage(pollCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return kafka.Message{}, errEmptyPoll
	}
	return msg, err
}

// handle runs the handler and commits the offset on success. Handler
// failures are logged and the message is left uncommitted for redelivery.
func (l *Loop) handle(ctx context.Context, msg kafka.Message) {
	if err := l.handler(ctx, msg.Key, msg.Value); err != nil {
		l.logger.Error("message handler failed",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return
	}
	if err := l.source.CommitMessages(ctx, msg); err != nil {
		l.logger.Error("commit failed",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

// sleep waits for d or cancellation, reporting whether the full duration
// elapsed.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) transition(to State, reason string) {
	l.mu.Lock()
	from := l.state
	l.state = to
	l.mu.Unlock()
	if from != to {
		l.logger.Debug("state transition", "from", from.String(), "to", to.String(), "reason", reason)
	}
	if l.metrics != nil {
		l.metrics.ConsumerState.Set(float64(to))
	}
}
