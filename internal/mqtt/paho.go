package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/soil-pump/internal/protocol"
)

// Session defaults used when Options leave them zero.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	closeTimeout             = time.Second
)

// PahoDialer opens MQTT 3.1.1 sessions with eclipse/paho.mqtt.golang.
type PahoDialer struct {
	Logger *slog.Logger
}

// pahoSession is a single paho client connection. Auto-reconnect is off:
// when the connection drops the session reports it and is replaced.
type pahoSession struct {
	client  paho.Client
	opts    Options
	handler Handler
	inbox   *inbox
	logger  *slog.Logger

	closeOnce sync.Once
}

// buildClientOptions translates Options into paho client options.
func buildClientOptions(opts Options) *paho.ClientOptions {
	po := paho.NewClientOptions().
		AddBroker("tcp://" + opts.Address()).
		SetClientID(opts.ClientID).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(orDefault(opts.ConnectTimeout, defaultConnectTimeout))

	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}
	if opts.AvailabilityTopic != "" {
		po.SetWill(opts.AvailabilityTopic, protocol.AvailabilityOffline, 1, true)
	}
	return po
}

// Dial connects, subscribes to the command topic and announces availability.
func (d *PahoDialer) Dial(ctx context.Context, opts Options, handler Handler) (Session, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &pahoSession{
		opts:    opts,
		handler: handler,
		inbox:   newInbox(opts.InboxSize),
		logger:  logger,
	}

	po := buildClientOptions(opts)
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", "broker", opts.Address(), "error", err)
	})
	s.client = paho.NewClient(po)

	connectTimeout := orDefault(opts.ConnectTimeout, defaultConnectTimeout)
	if err := waitToken(ctx, s.client.Connect(), connectTimeout); err != nil {
		s.client.Disconnect(0)
		return nil, &SessionError{Op: "connect", Err: fmt.Errorf("%w: %w", ErrConnectionFailed, err)}
	}

	token := s.client.Subscribe(opts.CommandTopic, opts.QoS, func(_ paho.Client, m paho.Message) {
		if dropped := s.inbox.push(message{topic: m.Topic(), payload: m.Payload()}); dropped {
			s.logger.Warn("mqtt inbox full, dropped oldest message", "capacity", s.inbox.capacity)
		}
	})
	if err := waitToken(ctx, token, connectTimeout); err != nil {
		s.client.Disconnect(0)
		return nil, &SessionError{Op: "subscribe", Err: fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, opts.CommandTopic, err)}
	}

	if opts.AvailabilityTopic != "" {
		birth := s.client.Publish(opts.AvailabilityTopic, 1, true, protocol.AvailabilityOnline)
		if err := waitToken(ctx, birth, s.publishTimeout()); err != nil {
			s.client.Disconnect(0)
			return nil, &SessionError{Op: "publish", Err: fmt.Errorf("%w: availability: %w", ErrPublishFailed, err)}
		}
	}

	return s, nil
}

// Publish sends one message at the session QoS, not retained.
func (s *pahoSession) Publish(topic string, payload []byte) error {
	if !s.client.IsConnectionOpen() {
		return &SessionError{Op: "publish", Err: ErrConnectionLost}
	}
	token := s.client.Publish(topic, s.opts.QoS, false, payload)
	if err := waitToken(context.Background(), token, s.publishTimeout()); err != nil {
		return &SessionError{Op: "publish", Err: fmt.Errorf("%w: %w", ErrPublishFailed, err)}
	}
	return nil
}

// Poll hands buffered messages to the handler. Messages that arrived before
// a connection loss are still delivered; the loss is reported afterwards.
func (s *pahoSession) Poll() error {
	msgs, dropped := s.inbox.drainAll()
	if dropped > 0 {
		s.logger.Warn("mqtt inbound messages dropped", "count", dropped)
	}
	for _, m := range msgs {
		s.handler(m.topic, m.payload)
	}
	if !s.client.IsConnectionOpen() {
		return &SessionError{Op: "poll", Err: ErrConnectionLost}
	}
	return nil
}

// IsConnected reports whether the paho connection is open.
func (s *pahoSession) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

// Close publishes offline availability if still connected, then disconnects.
// A clean disconnect suppresses the broker-side will, hence the explicit publish.
func (s *pahoSession) Close() error {
	s.closeOnce.Do(func() {
		if s.opts.AvailabilityTopic != "" && s.client.IsConnectionOpen() {
			token := s.client.Publish(s.opts.AvailabilityTopic, 1, true, protocol.AvailabilityOffline)
			token.WaitTimeout(closeTimeout)
		}
		s.client.Disconnect(defaultDisconnectQuiesce)
	})
	return nil
}

func (s *pahoSession) publishTimeout() time.Duration {
	return orDefault(s.opts.PublishTimeout, defaultPublishTimeout)
}

// waitToken waits for a paho token to complete, the timeout to expire or ctx
// to be cancelled, whichever comes first.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
