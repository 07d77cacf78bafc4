package notify

import (
	"context"

	"designer-dispatch/internal/events"
)

// BrokerSink republishes notifications on the in-process events broker.
type BrokerSink struct {
	Publisher events.Publisher
}

func (BrokerSink) Name() string { return "events" }

func (b BrokerSink) Deliver(_ context.Context, n Notification) error {
	if b.Publisher == nil {
		return nil
	}
	b.Publisher.Publish(events.Event{
		Timestamp:    n.At,
		Type:         n.Type,
		TaskID:       n.TaskID,
		AssignmentID: n.AssignmentID,
		DesignerID:   n.DesignerID,
		Status:       n.Status,
	})
	return nil
}
