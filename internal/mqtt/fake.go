package mqtt

import (
	"context"
	"fmt"
)

// Message is a recorded publish.
type Message struct {
	Topic   string
	Payload []byte
}

// FakeSession records publishes and delivers scripted inbound messages.
type FakeSession struct {
	// Options is what the session was dialed with.
	Options Options

	// Published contains every successful publish.
	Published []Message

	// Pending holds inbound messages delivered by the next Poll.
	Pending []Message

	// PublishError, if set, will be returned by Publish (wrapped in *SessionError).
	PublishError error

	// PollError, if set, will be returned by Poll after delivering Pending.
	PollError error

	// Closed tracks if Close was called.
	Closed bool

	Polls int

	handler Handler
}

// Deliver queues an inbound message for the next Poll.
func (f *FakeSession) Deliver(topic, payload string) {
	f.Pending = append(f.Pending, Message{Topic: topic, Payload: []byte(payload)})
}

// Publish records the message.
func (f *FakeSession) Publish(topic string, payload []byte) error {
	if f.PublishError != nil {
		return &SessionError{Op: "publish", Err: fmt.Errorf("%w: %w", ErrPublishFailed, f.PublishError)}
	}
	f.Published = append(f.Published, Message{Topic: topic, Payload: payload})
	return nil
}

// Poll delivers and clears Pending.
func (f *FakeSession) Poll() error {
	f.Polls++
	pending := f.Pending
	f.Pending = nil
	for _, m := range pending {
		f.handler(m.Topic, m.Payload)
	}
	if f.PollError != nil {
		return &SessionError{Op: "poll", Err: fmt.Errorf("%w: %w", ErrConnectionLost, f.PollError)}
	}
	return nil
}

// IsConnected reports !Closed.
func (f *FakeSession) IsConnected() bool {
	return !f.Closed
}

// Close marks the session closed.
func (f *FakeSession) Close() error {
	f.Closed = true
	return nil
}

// FakeDialer hands out FakeSessions.
type FakeDialer struct {
	// DialError, if set, makes Dial fail (wrapped in *SessionError).
	DialError error

	// PublishError is copied into every new session.
	PublishError error

	// Sessions contains every session dialed, oldest first.
	Sessions []*FakeSession

	Dials int
}

// Dial returns a new FakeSession unless DialError is set.
func (f *FakeDialer) Dial(ctx context.Context, opts Options, handler Handler) (Session, error) {
	f.Dials++
	if f.DialError != nil {
		return nil, &SessionError{Op: "connect", Err: fmt.Errorf("%w: %w", ErrConnectionFailed, f.DialError)}
	}
	s := &FakeSession{
		Options:      opts,
		PublishError: f.PublishError,
		handler:      handler,
	}
	f.Sessions = append(f.Sessions, s)
	return s, nil
}

// Last returns the most recently dialed session, or nil.
func (f *FakeDialer) Last() *FakeSession {
	if len(f.Sessions) == 0 {
		return nil
	}
	return f.Sessions[len(f.Sessions)-1]
}
