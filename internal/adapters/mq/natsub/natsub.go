// Package natsub turns NATS messages into ingestion triggers. The message
// body is the region identifier.
package natsub

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Reply bodies sent to request-style publishers.
const (
	ReplyAccepted  = "accepted"
	ReplyDuplicate = "duplicate"
	ReplyRejected  = "rejected"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("natsub: already subscribed")

// Sink accepts triggers. It reports false for a trigger id it has already seen.
type Sink interface {
	Submit(ctx context.Context, t model.Trigger) (bool, error)
}

// Subscriber consumes one subject as a member of a queue group.
type Subscriber struct {
	nc      *nats.Conn
	subject string
	queue   string
	sink    Sink
	log     logger.Logger
	now     func() time.Time

	sub *nats.Subscription
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithSubject overrides the trigger subject.
func WithSubject(subject string) Option {
	return func(s *Subscriber) {
		if subject != "" {
			s.subject = subject
		}
	}
}

// WithQueueGroup overrides the queue group shared by service replicas.
func WithQueueGroup(group string) Option {
	return func(s *Subscriber) {
		if group != "" {
			s.queue = group
		}
	}
}

// WithLogger sets the subscriber logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.log = l
		}
	}
}

// Connect dials a NATS server with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("ladder"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// New creates a subscriber; call Start to begin consuming.
func New(nc *nats.Conn, sink Sink, opts ...Option) *Subscriber {
	s := &Subscriber{
		nc:      nc,
		subject: "ladder.ingest",
		queue:   "ladder",
		sink:    sink,
		log:     logger.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the trigger subject.
func (s *Subscriber) Start() error {
	if s.sub != nil {
		return ErrAlreadyStarted
	}
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, s.handle)
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Info(context.Background(), "subscribed to ingestion triggers",
		logger.String("subject", s.subject),
		logger.String("queue", s.queue),
	)
	return nil
}

// Trigger builds the trigger carried by m. The id comes from the Nats-Msg-Id
// header when the publisher set one.
func (s *Subscriber) Trigger(m *nats.Msg) model.Trigger {
	id := ""
	if m.Header != nil {
		id = m.Header.Get(nats.MsgIdHdr)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return model.Trigger{
		EventID:    id,
		Region:     strings.TrimSpace(string(m.Data)),
		ReceivedAt: s.now(),
	}
}

func (s *Subscriber) handle(m *nats.Msg) {
	ctx := context.Background()
	t := s.Trigger(m)

	reply := ReplyAccepted
	if t.Region == "" {
		reply = ReplyRejected + ": empty region"
		metrics.RecordErrorByComponent("natsub", "empty_region")
		s.log.Warn(ctx, "ignoring trigger without region", logger.String("event_id", t.EventID))
	} else if accepted, err := s.sink.Submit(ctx, t); err != nil {
		reply = ReplyRejected + ": " + err.Error()
		metrics.RecordErrorByComponent("natsub", "submit")
		s.log.Error(ctx, "trigger rejected", logger.String("region", t.Region), logger.Error(err))
	} else if !accepted {
		reply = ReplyDuplicate
		metrics.RecordTriggerDuplicate()
	}

	if m.Reply != "" {
		if err := m.Respond([]byte(reply)); err != nil {
			s.log.Warn(ctx, "reply failed", logger.Error(err))
		}
	}
}

// Close drains the subscription so in-flight messages are handed to the sink.
func (s *Subscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Drain()
	s.sub = nil
	return err
}
