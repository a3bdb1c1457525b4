package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"

	"github.com/sweeney/soil-pump/internal/protocol"
)

// V5Dialer opens MQTT 5 sessions with eclipse/paho.golang over plain TCP.
type V5Dialer struct {
	Logger *slog.Logger
}

type v5Session struct {
	client  *paho.Client
	opts    Options
	handler Handler
	inbox   *inbox
	logger  *slog.Logger

	lost      atomic.Bool
	closeOnce sync.Once
}

// Dial connects, subscribes to the command topic and announces availability.
func (d *V5Dialer) Dial(ctx context.Context, opts Options, handler Handler) (Session, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &v5Session{
		opts:    opts,
		handler: handler,
		inbox:   newInbox(opts.InboxSize),
		logger:  logger,
	}

	connectTimeout := orDefault(opts.ConnectTimeout, defaultConnectTimeout)
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var nd net.Dialer
	conn, err := nd.DialContext(dialCtx, "tcp", opts.Address())
	if err != nil {
		return nil, &SessionError{Op: "connect", Err: fmt.Errorf("%w: %w", ErrConnectionFailed, err)}
	}

	s.client = paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: opts.ClientID,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if dropped := s.inbox.push(message{topic: pr.Packet.Topic, payload: pr.Packet.Payload}); dropped {
					s.logger.Warn("mqtt inbox full, dropped oldest message", "capacity", s.inbox.capacity)
				}
				return true, nil
			},
		},
		OnClientError: func(err error) {
			s.lost.Store(true)
			s.logger.Warn("mqtt connection lost", "broker", opts.Address(), "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.lost.Store(true)
			s.logger.Warn("mqtt server disconnected", "broker", opts.Address(), "reason_code", d.ReasonCode)
		},
	})

	cp := &paho.Connect{
		ClientID:   opts.ClientID,
		KeepAlive:  uint16(opts.KeepAlive.Seconds()),
		CleanStart: true,
	}
	if opts.Username != "" {
		cp.UsernameFlag = true
		cp.Username = opts.Username
		cp.PasswordFlag = true
		cp.Password = []byte(opts.Password)
	}
	if opts.AvailabilityTopic != "" {
		cp.WillMessage = &paho.WillMessage{
			Topic:   opts.AvailabilityTopic,
			Payload: []byte(protocol.AvailabilityOffline),
			QoS:     1,
			Retain:  true,
		}
	}

	ca, err := s.client.Connect(dialCtx, cp)
	if err != nil {
		conn.Close()
		return nil, &SessionError{Op: "connect", Err: fmt.Errorf("%w: %w", ErrConnectionFailed, err)}
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return nil, &SessionError{Op: "connect", Err: fmt.Errorf("%w: reason code %d", ErrConnectionFailed, ca.ReasonCode)}
	}

	_, err = s.client.Subscribe(dialCtx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: opts.CommandTopic, QoS: opts.QoS}},
	})
	if err != nil {
		_ = s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, &SessionError{Op: "subscribe", Err: fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, opts.CommandTopic, err)}
	}

	if opts.AvailabilityTopic != "" {
		if err := s.publish(ctx, opts.AvailabilityTopic, []byte(protocol.AvailabilityOnline), 1, true); err != nil {
			_ = s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
			return nil, &SessionError{Op: "publish", Err: fmt.Errorf("%w: availability: %w", ErrPublishFailed, err)}
		}
	}

	return s, nil
}

func (s *v5Session) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	ctx, cancel := context.WithTimeout(ctx, orDefault(s.opts.PublishTimeout, defaultPublishTimeout))
	defer cancel()
	_, err := s.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retain,
		Payload: payload,
	})
	return err
}

// Publish sends one message at the session QoS, not retained.
func (s *v5Session) Publish(topic string, payload []byte) error {
	if s.lost.Load() {
		return &SessionError{Op: "publish", Err: ErrConnectionLost}
	}
	if err := s.publish(context.Background(), topic, payload, s.opts.QoS, false); err != nil {
		return &SessionError{Op: "publish", Err: fmt.Errorf("%w: %w", ErrPublishFailed, err)}
	}
	return nil
}

// Poll hands buffered messages to the handler, then reports a lost connection.
func (s *v5Session) Poll() error {
	msgs, dropped := s.inbox.drainAll()
	if dropped > 0 {
		s.logger.Warn("mqtt inbound messages dropped", "count", dropped)
	}
	for _, m := range msgs {
		s.handler(m.topic, m.payload)
	}
	if s.lost.Load() {
		return &SessionError{Op: "poll", Err: ErrConnectionLost}
	}
	return nil
}

// IsConnected reports whether no connection error has been observed.
func (s *v5Session) IsConnected() bool {
	return !s.lost.Load()
}

// Close publishes offline availability if still connected, then disconnects.
func (s *v5Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.opts.AvailabilityTopic != "" && !s.lost.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			_ = s.publish(ctx, s.opts.AvailabilityTopic, []byte(protocol.AvailabilityOffline), 1, true)
			cancel()
		}
		err = s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		s.lost.Store(true)
	})
	return err
}
