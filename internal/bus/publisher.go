package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metriclabs/speechbench/internal/protocol"
	"github.com/metriclabs/speechbench/internal/recognition"
)

// EventPublisher broadcasts recognition outcomes on the bus so external
// consumers (dashboards, exporters) can follow benchmark progress.
type EventPublisher struct {
	client *Client
}

func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (p *EventPublisher) ResultCreated(_ context.Context, result recognition.Result) error {
	event := protocol.ResultCreated{
		ResultID:          result.ID.String(),
		ClipID:            result.ClipID.String(),
		OwnerID:           result.OwnerID.String(),
		EngineName:        result.EngineName,
		Accuracy:          result.Accuracy,
		ModelProcessingMS: result.ModelProcessingMS,
		Timestamp:         time.Now().UTC(),
	}
	if result.SuiteID != nil {
		event.SuiteID = result.SuiteID.String()
	}
	return p.publish(protocol.SubjectResultCreated, event)
}

func (p *EventPublisher) SuiteCompleted(_ context.Context, suite recognition.Suite) error {
	event := protocol.SuiteCompleted{
		SuiteID:     suite.ID.String(),
		OwnerID:     suite.OwnerID.String(),
		ResultCount: len(suite.Results),
		Timestamp:   time.Now().UTC(),
	}
	return p.publish(protocol.SubjectSuiteCompleted, event)
}

func (p *EventPublisher) publish(subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.client.Conn().Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
