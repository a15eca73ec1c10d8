package notify

import (
	"context"
	"fmt"
)

// Publisher is satisfied by *messaging.Client.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// NATSNotifier publishes on dispatch.unit.<unit>.<kind>.
type NATSNotifier struct {
	pub Publisher
}

func NewNATSNotifier(pub Publisher) *NATSNotifier {
	return &NATSNotifier{pub: pub}
}

// Subject returns the NATS subject for a notification.
func Subject(n Notification) string {
	return fmt.Sprintf("dispatch.unit.%s.%s", n.UnitID, n.Kind)
}

func (s *NATSNotifier) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.pub.PublishJSON(Subject(n), n)
}
