// Package broker fans out event payloads to live subscribers. The fake
// backend in api/apitest publishes domain events here and each /sse
// connection subscribes, so a reconnecting client can resume from the
// Last-Event-ID it last saw.
package broker

import (
	"context"
	"errors"
)

// ErrUnknownEventID is returned by Subscribe when lastEventID does not name a
// retained event.
var ErrUnknownEventID = errors.New("broker: unknown event id")

// Broker publishes events to topics and delivers them, in order, to every
// subscriber of that topic.
type Broker interface {
	// Publish appends data to topic and returns the generated event ID.
	Publish(ctx context.Context, topic string, data []byte) (eventID string, err error)

	// Subscribe calls handler for every event published to topic until ctx is
	// done or handler returns an error, which Subscribe then returns. With an
	// empty lastEventID delivery starts at the next published event; otherwise
	// it resumes with the event after lastEventID.
	Subscribe(ctx context.Context, topic string, lastEventID string, handler Handler) error

	// Cleanup drops all retained events of a topic.
	Cleanup(ctx context.Context, topic string) error
}

// Handler receives one delivered event.
type Handler func(ctx context.Context, env Envelope) error

// Envelope is an event as delivered to subscribers.
type Envelope struct {
	// ID is unique and increasing within a topic.
	ID   string `json:"id"`
	Data []byte `json:"data"`
}
