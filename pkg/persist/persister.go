// Package persist records chat messages off the broadcast path.
//
// Submit never blocks: a job either lands on a bounded queue or is dropped.
// Workers write jobs through a circuit breaker; every failure is logged and
// counted, never reported back to the sender.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"roomchat/models"
	"roomchat/pkg/identity"
	"roomchat/pkg/logging"
	"roomchat/pkg/metrics"
)

var (
	ErrAnonymousSender     = errors.New("persist: sender is anonymous")
	ErrUnknownConversation = errors.New("persist: conversation not found")
	ErrQueueFull           = errors.New("persist: queue full")
	ErrNotParticipant      = errors.New("persist: sender is not a participant")
	ErrUnknownRecipient    = errors.New("persist: recipient is not a participant")
)

// Job is one message to record.
type Job struct {
	ConversationID string
	Body           string
	SentToID       string
	Sender         identity.Identity
}

// Result is what happened to a job. Message is nil on failure.
type Result struct {
	Job     Job
	Message *models.Message
	Err     error
}

// Options tune a Persister. Zero values fall back to defaults.
type Options struct {
	QueueSize        int
	Workers          int
	Timeout          time.Duration // per job
	FailureThreshold uint32        // consecutive failures that open the breaker
	OpenTimeout      time.Duration // how long the breaker stays open
	// Observer, if set, is called from a worker with every result.
	Observer func(Result)
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 5
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 30 * time.Second
	}
	return o
}

// Persister is a fire-and-forget message writer. It implements suture.Service.
type Persister struct {
	store   Store
	opts    Options
	queue   chan Job
	breaker *gobreaker.CircuitBreaker[*models.Message]
}

func New(store Store, opts Options) *Persister {
	opts = opts.withDefaults()
	p := &Persister{
		store: store,
		opts:  opts,
		queue: make(chan Job, opts.QueueSize),
	}
	p.breaker = gobreaker.NewCircuitBreaker[*models.Message](gobreaker.Settings{
		Name:    "message-store",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.PersistBreakerState.Set(float64(to))
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[persist] breaker state changed")
		},
	})
	return p
}

// Submit queues job without waiting. It returns false when the job was dropped.
func (p *Persister) Submit(job Job) bool {
	select {
	case p.queue <- job:
		metrics.PersistQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		metrics.RecordPersist(metrics.ResultDropped, 0)
		logging.Error().
			Str("conversation_id", job.ConversationID).
			Str("sender", job.Sender.String()).
			Err(ErrQueueFull).
			Msg("[persist] dropping message")
		p.observe(Result{Job: job, Err: ErrQueueFull})
		return false
	}
}

// Pending is the number of queued jobs.
func (p *Persister) Pending() int { return len(p.queue) }

// Serve runs the workers until ctx is done, then drains what is still queued.
func (p *Persister) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Persister) String() string { return "message-persister" }

func (p *Persister) work(ctx context.Context) {
	for {
		select {
		case job := <-p.queue:
			p.handle(context.Background(), job)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

// drain writes whatever is still queued, each job under its own timeout.
func (p *Persister) drain() {
	for {
		select {
		case job := <-p.queue:
			p.handle(context.Background(), job)
		default:
			return
		}
	}
}

func (p *Persister) handle(parent context.Context, job Job) {
	metrics.PersistQueueDepth.Set(float64(len(p.queue)))
	start := time.Now()
	msg, err := p.write(parent, job)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordPersist(metrics.ResultOK, elapsed)
		logging.Debug().Str("message_id", msg.ID).Str("conversation_id", job.ConversationID).Msg("[persist] message saved")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordPersist(metrics.ResultBreakerOpen, elapsed)
		logging.Error().Err(err).Str("conversation_id", job.ConversationID).Msg("[persist] store unavailable, message not saved")
	case isPermanent(err):
		metrics.RecordPersist(metrics.ResultRejected, elapsed)
		logging.Warn().Err(err).Str("conversation_id", job.ConversationID).Str("sender", job.Sender.String()).Msg("[persist] message rejected")
	default:
		metrics.RecordPersist(metrics.ResultFailed, elapsed)
		logging.Error().Err(err).Str("conversation_id", job.ConversationID).Msg("[persist] message not saved")
	}
	p.observe(Result{Job: job, Message: msg, Err: err})
}

func (p *Persister) write(parent context.Context, job Job) (*models.Message, error) {
	senderID, ok := job.Sender.UserID()
	if !ok {
		return nil, ErrAnonymousSender
	}
	ctx, cancel := context.WithTimeout(parent, p.opts.Timeout)
	defer cancel()

	return p.breaker.Execute(func() (*models.Message, error) {
		msg := &models.Message{
			ConversationID: job.ConversationID,
			Body:           job.Body,
			SentToID:       job.SentToID,
			CreatedByID:    senderID,
		}
		if err := p.store.CreateMessage(ctx, msg); err != nil {
			return nil, err
		}
		return msg, nil
	})
}

func (p *Persister) observe(r Result) {
	if p.opts.Observer != nil {
		p.opts.Observer(r)
	}
}
