package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"orchestra/internal/logger"
)

// TransportConfig selects where forwarded events go
type TransportConfig struct {
	// RedisURL, when set, sends events to a Redis stream; otherwise they stay in-process
	RedisURL string
	// Buffer is the output buffer of the in-process channel
	Buffer int
}

// Transport is a watermill publisher plus whatever must be closed with it
type Transport struct {
	message.Publisher
	// Subscriber is set for the in-process transport so local consumers can read forwarded events
	Subscriber message.Subscriber
	client     *redis.Client
}

// Close closes the publisher and the redis client, if any
func (t *Transport) Close() error {
	err := t.Publisher.Close()
	if t.client != nil {
		if cerr := t.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// NewTransport builds a redis stream publisher when cfg.RedisURL is set and an in-process go channel otherwise
func NewTransport(cfg TransportConfig) (*Transport, error) {
	wmLogger := NewWatermillLogger(logger.WithField("component", "watermill"))

	if cfg.RedisURL == "" {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: int64(cfg.Buffer)}, wmLogger)
		return &Transport{Publisher: ch, Subscriber: ch}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: client,
	}, wmLogger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}
	return &Transport{Publisher: publisher, client: client}, nil
}

// Forwarder copies bus events onto a watermill topic as JSON messages
type Forwarder struct {
	bus       *Bus
	publisher message.Publisher
	topic     string

	mu          sync.Mutex
	unsubscribe func()
	done        chan struct{}
}

func NewForwarder(bus *Bus, publisher message.Publisher, topic string) *Forwarder {
	return &Forwarder{
		bus:       bus,
		publisher: publisher,
		topic:     topic,
	}
}

// Start subscribes to the bus and forwards events until ctx ends or Stop is called.
// Events published after Start returns are guaranteed to be seen.
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done != nil {
		return
	}

	events, unsubscribe := f.bus.Subscribe()
	f.unsubscribe = unsubscribe
	f.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := f.forward(event); err != nil {
					logger.WithError(err).WithFields(logger.Fields{
						"event":    event.Name,
						"sequence": event.Sequence,
						"topic":    f.topic,
					}).Warn("Failed to forward event")
				}
			}
		}
	}(f.done)
}

// Stop unsubscribes and waits for the forwarding goroutine to exit
func (f *Forwarder) Stop() {
	f.mu.Lock()
	unsubscribe, done := f.unsubscribe, f.done
	f.unsubscribe, f.done = nil, nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if done != nil {
		<-done
	}
}

func (f *Forwarder) forward(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("name", event.Name)
	msg.Metadata.Set("sequence", strconv.FormatUint(event.Sequence, 10))
	if event.ZoneID != "" {
		msg.Metadata.Set("zone_id", event.ZoneID)
	}
	return f.publisher.Publish(f.topic, msg)
}

// watermillAdapter routes watermill's logs through logrus
type watermillAdapter struct {
	entry *logrus.Entry
}

// NewWatermillLogger adapts a logrus entry to watermill's LoggerAdapter
func NewWatermillLogger(entry *logrus.Entry) watermill.LoggerAdapter {
	return &watermillAdapter{entry: entry}
}

func (w *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.entry.WithFields(logrus.Fields(fields)).WithError(err).Error(msg)
}

func (w *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	// watermill is chatty at info level
	w.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (w *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	w.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (w *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	w.entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (w *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{entry: w.entry.WithFields(logrus.Fields(fields))}
}
