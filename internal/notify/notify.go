// Package notify delivers remediation notices by email, SNS and Slack.
package notify

import (
	"context"
	"errors"
)

// Message is a notification. Senders use the fields their channel supports.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message to one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Multi fans a message out to several senders. Every sender is tried;
// the returned error joins all failures.
type Multi struct {
	senders []Sender
}

// NewMulti creates a fan-out sender. Nil senders are skipped.
func NewMulti(senders ...Sender) *Multi {
	m := &Multi{}
	for _, s := range senders {
		if s != nil {
			m.senders = append(m.senders, s)
		}
	}
	return m
}

// Send implements Sender.
func (m *Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m.senders {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of senders.
func (m *Multi) Len() int {
	return len(m.senders)
}
