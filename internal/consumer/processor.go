// Package consumer turns published-activity events on Kafka into chat posts.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader is the subset of *kafka.Reader the processor drives.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// ErrPermanent marks handler failures that retrying cannot fix. The message
// is committed and skipped.
var ErrPermanent = errors.New("permanent handler failure")

// DeadLetterWriter receives messages that failed every retry. A
// *kafka.Writer with a fixed Topic satisfies it.
type DeadLetterWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
}

// Handler receives decoded events.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is an outbox event with its Schema Registry framing removed.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger overrides the processor logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithRetry sets how often a transiently failing message is handed to the
// handler and the delay before the first retry. The delay doubles per attempt.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if baseDelay >= 0 {
			p.baseDelay = baseDelay
		}
	}
}

// WithDeadLetter copies exhausted messages to w before committing them.
func WithDeadLetter(w DeadLetterWriter) Option {
	return func(p *Processor) { p.deadLetter = w }
}

// Processor fetches events, hands them to a Handler and commits offsets.
type Processor struct {
	reader     Reader
	handler    Handler
	deadLetter DeadLetterWriter
	logger     *log.Logger
	attempts   int
	baseDelay  time.Duration
}

// NewProcessor constructs a Processor. By default a transient failure is
// retried twice, starting at 500ms.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:    reader,
		handler:   handler,
		logger:    log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until ctx is cancelled or the reader fails with a
// cancellation.
//
// Malformed frames and permanent failures are committed so they cannot block
// the partition. A message that still fails after all retries is copied to the
// dead-letter writer and committed, or committed and dropped when none is
// configured. If the dead-letter write fails the offset is not committed, but
// the next successful commit on the partition moves past it.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			p.logger.Printf("dropping malformed message (topic=%s, partition=%d, offset=%d): %v", raw.Topic, raw.Partition, raw.Offset, err)
			recordDecodeError(raw.Topic)
			p.commit(ctx, raw, "malformed")
			continue
		}

		switch err := p.handle(ctx, msg); {
		case err == nil:
			if p.commit(ctx, raw, "handled") {
				recordProcessed(msg)
			}
		case errors.Is(err, ErrPermanent):
			p.logger.Printf("skipping %s at offset %d: %v", msg.EventType, msg.Offset, err)
			p.commit(ctx, raw, "permanent failure")
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			p.exhausted(ctx, raw, msg, err)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	delay := p.baseDelay
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.handler.Handle(ctx, msg); err == nil {
			return nil
		}
		recordHandlerError(msg)
		if errors.Is(err, ErrPermanent) || attempt == p.attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (p *Processor) exhausted(ctx context.Context, raw kafka.Message, msg Message, cause error) {
	if p.deadLetter == nil {
		p.logger.Printf("dropping %s at offset %d after %d attempts: %v", msg.EventType, msg.Offset, p.attempts, cause)
		if p.commit(ctx, raw, "drop") {
			recordExhausted(msg, "dropped")
		}
		return
	}

	headers := append(append([]kafka.Header(nil), raw.Headers...),
		kafka.Header{Key: "dead_letter_source", Value: []byte(fmt.Sprintf("%s/%d/%d", raw.Topic, raw.Partition, raw.Offset))},
		kafka.Header{Key: "dead_letter_reason", Value: []byte(cause.Error())},
	)
	copyMsg := kafka.Message{Key: raw.Key, Value: raw.Value, Headers: headers, Time: time.Now().UTC()}
	if err := p.deadLetter.WriteMessages(ctx, copyMsg); err != nil {
		p.logger.Printf("dead-letter write failed for %s at offset %d: %v (handler error: %v)", msg.EventType, msg.Offset, err, cause)
		return
	}
	p.logger.Printf("dead-lettered %s at offset %d after %d attempts: %v", msg.EventType, msg.Offset, p.attempts, cause)
	if p.commit(ctx, raw, "dead-letter") {
		recordExhausted(msg, "dead_lettered")
	}
}

func (p *Processor) commit(ctx context.Context, raw kafka.Message, why string) bool {
	if err := p.reader.CommitMessages(ctx, raw); err != nil {
		p.logger.Printf("commit failed after %s (offset=%d): %v", why, raw.Offset, err)
		return false
	}
	return true
}

// decodeMessage strips the magic byte and schema id written by the outbox
// dispatcher and reads the routing headers.
func decodeMessage(raw kafka.Message) (Message, error) {
	if len(raw.Value) < 5 || raw.Value[0] != 0 {
		return Message{}, fmt.Errorf("invalid wire frame (length=%d)", len(raw.Value))
	}

	headers := make(map[string]string, len(raw.Headers))
	for _, h := range raw.Headers {
		headers[h.Key] = string(h.Value)
	}
	eventType := headers["event_type"]
	if eventType == "" {
		return Message{}, errors.New("missing event_type header")
	}

	return Message{
		Topic:         raw.Topic,
		Partition:     raw.Partition,
		Offset:        raw.Offset,
		Timestamp:     raw.Time,
		EventType:     eventType,
		SchemaSubject: headers["schema_subject"],
		SchemaID:      int(binary.BigEndian.Uint32(raw.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), raw.Value[5:]...)),
	}, nil
}
