// Package relay holds the built-in handlers that turn fired-job events into
// outbound messages.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/aatumaykin/jobrelay/internal/bus"
	"github.com/aatumaykin/jobrelay/internal/consumer"
	"github.com/aatumaykin/jobrelay/internal/constants"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/validator"
)

// Message is one outbound delivery requested by a job payload.
type Message struct {
	To       string
	ActorID  string
	Text     string
	JobID    string
	JobName  string
	FireTime int64 // epoch ms
}

// Sender delivers messages to their recipients.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Logger *logger.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	log := s.Logger
	if log == nil {
		log = logger.Discard()
	}
	log.InfoCtx(ctx, "message sent",
		logger.Field{Key: "to", Value: msg.To},
		logger.Field{Key: "actor_id", Value: msg.ActorID},
		logger.Field{Key: "job_id", Value: msg.JobID},
		logger.Field{Key: "text", Value: msg.Text},
		logger.Field{Key: "fire_time", Value: time.UnixMilli(msg.FireTime).UTC().Format(time.RFC3339)})
	return nil
}

// JobFiredHandler handles scheduler.job.fired events. A payload naming a
// recipient under "to" is checked against the send_message gate and handed to
// sender. A rejected message is logged and dropped; a failed send returns an
// error so the entry is redelivered.
func JobFiredHandler(gate *validator.Gate, sender Sender, log *logger.Logger) consumer.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	log = log.Component("relay")

	return func(ctx context.Context, event bus.Event) error {
		var data bus.JobFiredData
		if err := event.DecodeData(&data); err != nil {
			return errors.Wrapf(err, "event %s", event.ID)
		}
		payload, err := data.PayloadMap()
		if err != nil {
			return errors.Wrapf(err, "event %s", event.ID)
		}

		fields := []logger.Field{
			{Key: "event_id", Value: event.ID},
			{Key: "job_id", Value: data.JobID},
			{Key: "job_name", Value: data.JobName},
		}

		msg, ok, err := messageFromPayload(payload)
		if err != nil {
			log.WarnCtx(ctx, "dropping job with malformed payload",
				append(fields, logger.Field{Key: "reason", Value: err.Error()})...)
			return nil
		}
		if !ok {
			log.InfoCtx(ctx, "job fired", fields...)
			return nil
		}
		msg.JobID = data.JobID
		msg.JobName = data.JobName
		msg.FireTime = data.FireTime

		res := gate.Validate(ctx, constants.ActionSendMessage, msg.To,
			validator.Context{ActorID: msg.ActorID})
		if !res.Valid {
			log.WarnCtx(ctx, "message rejected by validator",
				append(fields, logger.Field{Key: "reason", Value: errString(res.Err)})...)
			return nil
		}

		if err := sender.Send(ctx, msg); err != nil {
			return errors.Wrapf(err, "send message for job %s", data.JobID)
		}
		return nil
	}
}

// Prevalidate dry-runs the send_message gate for a job payload before the job
// is scheduled. Payloads without a recipient pass.
func Prevalidate(ctx context.Context, gate *validator.Gate, payload map[string]any) error {
	msg, ok, err := messageFromPayload(payload)
	if err != nil || !ok {
		return err
	}
	res := gate.Validate(ctx, constants.ActionSendMessage, msg.To,
		validator.Context{ActorID: msg.ActorID, DryRun: true})
	if !res.Valid {
		return res.Err
	}
	return nil
}

func messageFromPayload(payload map[string]any) (Message, bool, error) {
	raw, ok := payload[constants.PayloadKeyTo]
	if !ok {
		return Message{}, false, nil
	}
	var msg Message
	var err error
	if msg.To, err = payloadString(constants.PayloadKeyTo, raw); err != nil {
		return Message{}, false, err
	}
	if v, ok := payload[constants.PayloadKeyActorID]; ok {
		if msg.ActorID, err = payloadString(constants.PayloadKeyActorID, v); err != nil {
			return Message{}, false, err
		}
	}
	if v, ok := payload[constants.PayloadKeyText]; ok {
		if msg.Text, err = payloadString(constants.PayloadKeyText, v); err != nil {
			return Message{}, false, err
		}
	}
	return msg, true, nil
}

func payloadString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("payload field %q must be a string, got %T", key, v)
	}
	return s, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
