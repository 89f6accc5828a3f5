// Package bus defines the domain events relayed by jobrelay and their flat
// wire representation.
//
// An Event is immutable once built. On the wire it is a flat field set where
// every scalar is a string and the event data is an embedded JSON document:
//
//	eventId   uuid
//	type      discriminator used for consumer dispatch
//	source    producing subsystem
//	timestamp epoch milliseconds, decimal string
//	data      JSON document
package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Wire field names.
const (
	FieldEventID   = "eventId"
	FieldType      = "type"
	FieldSource    = "source"
	FieldTimestamp = "timestamp"
	FieldData      = "data"
)

// Event is a domain event flowing from a producer to consumers.
type Event struct {
	ID        string          `json:"eventId"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp int64           `json:"timestamp"` // epoch ms at publish time
	Data      json.RawMessage `json:"data"`
}

// JobFiredData is the data document of a job-fired event.
type JobFiredData struct {
	JobID    string          `json:"jobId"`
	JobName  string          `json:"jobName"`
	FireTime int64           `json:"fireTime"` // epoch ms
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// DecodeError reports a stream entry that cannot be turned back into an Event.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event: field %q: %s", e.Field, e.Reason)
}

// NewEvent builds an event with a fresh id. data is marshalled to JSON.
func NewEvent(eventType, source string, timestamp int64, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event data: %w", err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: timestamp,
		Data:      raw,
	}, nil
}

// NewJobFiredData builds the data document for a fired job. payload is
// marshalled once here so consumers see exactly what the job carried.
func NewJobFiredData(jobID, jobName string, fireTime int64, payload map[string]any) (JobFiredData, error) {
	d := JobFiredData{JobID: jobID, JobName: jobName, FireTime: fireTime}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return JobFiredData{}, fmt.Errorf("marshal job payload: %w", err)
		}
		d.Payload = raw
	}
	return d, nil
}

// PayloadMap decodes the payload keeping numbers as json.Number.
func (d JobFiredData) PayloadMap() (map[string]any, error) {
	if len(d.Payload) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(d.Payload))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return m, nil
}

// DecodeData unmarshals the event data into v.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return &DecodeError{Field: FieldData, Reason: "empty"}
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &DecodeError{Field: FieldData, Reason: err.Error()}
	}
	return nil
}

// ToFields flattens the event into its wire field set.
func (e Event) ToFields() map[string]any {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return map[string]any{
		FieldEventID:   e.ID,
		FieldType:      e.Type,
		FieldSource:    e.Source,
		FieldTimestamp: strconv.FormatInt(e.Timestamp, 10),
		FieldData:      string(data),
	}
}

// FromFields rebuilds an event from a wire field set. Values may be strings
// or byte slices, which covers both Redis replies and in-memory entries.
func FromFields(fields map[string]any) (Event, error) {
	var e Event
	var err error

	if e.ID, err = stringField(fields, FieldEventID); err != nil {
		return Event{}, err
	}
	if e.Type, err = stringField(fields, FieldType); err != nil {
		return Event{}, err
	}
	if e.Type == "" {
		return Event{}, &DecodeError{Field: FieldType, Reason: "empty"}
	}
	if e.Source, err = stringField(fields, FieldSource); err != nil {
		return Event{}, err
	}

	ts, err := stringField(fields, FieldTimestamp)
	if err != nil {
		return Event{}, err
	}
	if e.Timestamp, err = strconv.ParseInt(ts, 10, 64); err != nil {
		return Event{}, &DecodeError{Field: FieldTimestamp, Reason: "not an integer"}
	}

	data, err := stringField(fields, FieldData)
	if err != nil {
		return Event{}, err
	}
	if !json.Valid([]byte(data)) {
		return Event{}, &DecodeError{Field: FieldData, Reason: "not valid JSON"}
	}
	e.Data = json.RawMessage(data)

	return e, nil
}

// ToJSON serializes the event as a single JSON document.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from a JSON document.
func (e *Event) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}

func stringField(fields map[string]any, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", &DecodeError{Field: name, Reason: "missing"}
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", &DecodeError{Field: name, Reason: fmt.Sprintf("unexpected type %T", v)}
	}
}
