// Package mqtt manages the broker session used by the pump controller.
//
// A Session is created by a Dialer, which connects and subscribes to the
// command topic before returning. Sessions never reconnect on their own:
// any Publish or Poll error means the session is finished and the caller
// discards it and dials a new one.
//
// Inbound messages are buffered by the client library's network goroutine
// and delivered to the Handler synchronously from Poll, so the control loop
// stays single-threaded.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/soil-pump/internal/config"
)

// Handler receives one inbound message. It is invoked synchronously from
// Poll; it must not block and must not close the session.
type Handler func(topic string, payload []byte)

// Session is an established broker connection.
type Session interface {
	// Publish sends one message. Failure means the session must be discarded.
	Publish(topic string, payload []byte) error

	// Poll delivers buffered inbound messages to the handler. It does not
	// wait for new ones. Failure means the session must be discarded.
	Poll() error

	// IsConnected reports whether the underlying connection is still open.
	IsConnected() bool

	// Close announces offline availability (best effort) and disconnects.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	// Dial connects, subscribes to the command topic and returns the session.
	// On any failure it returns a *SessionError and no session.
	Dial(ctx context.Context, opts Options, handler Handler) (Session, error)
}

// Options configures a session.
type Options struct {
	ClientID          string
	Host              string
	Port              int
	Username          string
	Password          string
	KeepAlive         time.Duration
	QoS               byte
	CommandTopic      string
	AvailabilityTopic string // empty disables birth/will messages
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	InboxSize         int
}

// NewOptions builds session options from the daemon configuration. When
// UniqueClientID is set the first eight characters of bootID are appended
// to the client identifier.
func NewOptions(cfg config.MQTTConfig, bootID string) Options {
	clientID := cfg.ClientID
	if cfg.UniqueClientID && bootID != "" {
		suffix := bootID
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		clientID += "-" + suffix
	}
	return Options{
		ClientID:          clientID,
		Host:              cfg.Host,
		Port:              cfg.Port,
		Username:          cfg.Username,
		Password:          cfg.Password,
		KeepAlive:         cfg.KeepAlive.D(),
		QoS:               byte(cfg.QoS),
		CommandTopic:      cfg.Topics.Command,
		AvailabilityTopic: cfg.Topics.Availability,
		ConnectTimeout:    cfg.ConnectTimeout.D(),
		PublishTimeout:    cfg.PublishTimeout.D(),
		InboxSize:         cfg.InboxSize,
	}
}

// Address returns host:port.
func (o Options) Address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Sentinel errors. Use errors.Is to match them through *SessionError.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrConnectionLost   = errors.New("mqtt: connection lost")
	ErrTimeout          = errors.New("mqtt: operation timed out")
)

// SessionError reports a failed session operation. The session it came from
// (if any) must be discarded.
type SessionError struct {
	Op  string // "connect", "subscribe", "publish" or "poll"
	Err error
}

func (e *SessionError) Error() string {
	return "mqtt " + e.Op + ": " + e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewDialer returns the dialer for the configured protocol version
// (4 = MQTT 3.1.1, 5 = MQTT 5).
func NewDialer(protocolVersion int, logger *slog.Logger) Dialer {
	if protocolVersion == 5 {
		return &V5Dialer{Logger: logger}
	}
	return &PahoDialer{Logger: logger}
}
