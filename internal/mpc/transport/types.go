// Package transport provides named rooms that parties join to exchange ordered broadcast messages.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrRoomClosed    = errors.New("room closed")
)

// Message is the envelope published on a channel. Receiver is nil for broadcasts,
// which is the only mode the signing rounds use.
type Message struct {
	Sender   uint16          `json:"sender"`
	Receiver *uint16         `json:"receiver"`
	Body     json.RawMessage `json:"body"`
	// SentAt is the sender's clock at publication, in unix milliseconds.
	SentAt int64 `json:"sent_at,omitempty"`
}

// Sent is the publication time, zero when the sender did not stamp it.
func (m *Message) Sent() time.Time {
	if m.SentAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.SentAt)
}

// Decode unmarshals the message body into v.
func (m *Message) Decode(v interface{}) error {
	if len(m.Body) == 0 {
		return errors.New("message body is empty")
	}
	return json.Unmarshal(m.Body, v)
}

func newMessage(sender uint16, body interface{}) (*Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message body")
	}
	return &Message{Sender: sender, Body: raw, SentAt: time.Now().UnixMilli()}, nil
}

// Channel is one party's membership of a named channel. Recv yields every message
// published on the channel by other parties, in publication order, including
// messages published before Join. Transports without history (libp2p) meet this
// by holding Join until every expected peer has subscribed.
type Channel interface {
	Name() string
	// Index is the party index the transport assigned on join, starting at 1.
	Index() uint16
	Send(ctx context.Context, body interface{}) error
	Recv(ctx context.Context) (*Message, error)
	Close() error
}

// Room hands out channels by name.
type Room interface {
	Join(ctx context.Context, name string) (Channel, error)
	Close() error
}
