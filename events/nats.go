package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// MessagePublisher is the part of *nats.Conn the forwarder uses.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes bus events as JSON on <prefix>.<topic>.
type NATSForwarder struct {
	conn   MessagePublisher
	prefix string
}

func NewNATSForwarder(conn MessagePublisher, prefix string) *NATSForwarder {
	return &NATSForwarder{conn: conn, prefix: prefix}
}

// ConnectNATS dials url with a client name.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("reaction-commerce"))
	if err != nil {
		return nil, errors.Wrap(err, "connect to NATS")
	}
	return conn, nil
}

// Subject returns the subject events on topic are published to.
func (f *NATSForwarder) Subject(topic string) string {
	if f.prefix == "" {
		return topic
	}
	return f.prefix + "." + topic
}

// Handle is a Handler; attach it with Bus.SubscribeAll.
func (f *NATSForwarder) Handle(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := f.conn.Publish(f.Subject(e.Topic), data); err != nil {
		return errors.Wrapf(err, "publish %s", e.Topic)
	}
	return nil
}
