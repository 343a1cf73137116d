package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/metriclabs/speechbench/internal/protocol"
	"github.com/metriclabs/speechbench/internal/recognition"
)

// Dispatcher serves recognition requests arriving on the bus. Requests are
// queue-subscribed so multiple daemons can share a broker without double
// processing.
type Dispatcher struct {
	orch *recognition.Orchestrator
	log  *slog.Logger
	sub  *nats.Subscription
}

func StartDispatcher(ctx context.Context, client *Client, orch *recognition.Orchestrator, log *slog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		orch: orch,
		log:  log.With(slog.String("component", "dispatcher")),
	}
	sub, err := client.Conn().QueueSubscribe(protocol.SubjectRecognizeRequest, "speechbenchd", func(msg *nats.Msg) {
		d.handle(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	d.sub = sub
	d.log.Info("listening for recognition requests", slog.String("subject", protocol.SubjectRecognizeRequest))
	return d, nil
}

func (d *Dispatcher) Close() {
	if d == nil || d.sub == nil {
		return
	}
	_ = d.sub.Drain()
}

func (d *Dispatcher) handle(ctx context.Context, msg *nats.Msg) {
	var req protocol.RecognizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		d.reply(msg, protocol.ErrorReply{Error: "invalid request payload"})
		return
	}
	clipID, err := uuid.Parse(req.ClipID)
	if err != nil {
		d.reply(msg, protocol.ErrorReply{Error: "invalid clip id"})
		return
	}

	if req.EngineName != "" {
		result, err := d.orch.RecognizeOne(ctx, clipID, req.Expected, req.EngineName)
		if err != nil {
			d.log.Warn("recognize request failed",
				slog.String("clip_id", req.ClipID),
				slog.String("engine", req.EngineName),
				slog.String("error", err.Error()))
			d.reply(msg, protocol.ErrorReply{Error: err.Error()})
			return
		}
		d.reply(msg, []recognition.Result{result})
		return
	}

	results, err := d.orch.RecognizeAll(ctx, clipID, req.Expected)
	if err != nil {
		d.log.Warn("recognize request failed",
			slog.String("clip_id", req.ClipID),
			slog.String("error", err.Error()))
		d.reply(msg, protocol.ErrorReply{Error: err.Error()})
		return
	}
	d.reply(msg, results)
}

func (d *Dispatcher) reply(msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.log.Warn("failed to marshal reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		d.log.Warn("failed to respond", slog.String("error", err.Error()))
	}
}
