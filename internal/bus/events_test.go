package bus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_FieldsRoundTrip(t *testing.T) {
	data, err := NewJobFiredData("job-1", "nightly", 1735689600000, map[string]any{
		"to":    "+15550001111",
		"count": 3,
	})
	require.NoError(t, err)

	e, err := NewEvent("scheduler.job.fired", "scheduler", 1735689600123, data)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)

	fields := e.ToFields()
	for _, key := range []string{FieldEventID, FieldType, FieldSource, FieldTimestamp, FieldData} {
		assert.IsType(t, "", fields[key], key)
	}
	assert.Equal(t, "1735689600123", fields[FieldTimestamp])

	got, err := FromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.Source, got.Source)
	assert.Equal(t, e.Timestamp, got.Timestamp)
	assert.JSONEq(t, string(e.Data), string(got.Data))

	var decoded JobFiredData
	require.NoError(t, got.DecodeData(&decoded))
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, "nightly", decoded.JobName)
	assert.EqualValues(t, 1735689600000, decoded.FireTime)

	payload, err := decoded.PayloadMap()
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", payload["to"])
	assert.Equal(t, json.Number("3"), payload["count"])
}

func TestFromFields_AcceptsBytes(t *testing.T) {
	got, err := FromFields(map[string]any{
		FieldEventID:   []byte("id-1"),
		FieldType:      []byte("t"),
		FieldSource:    []byte("s"),
		FieldTimestamp: []byte("42"),
		FieldData:      []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	assert.EqualValues(t, 42, got.Timestamp)
}

func TestFromFields_Errors(t *testing.T) {
	valid := func() map[string]any {
		return map[string]any{
			FieldEventID:   "id",
			FieldType:      "t",
			FieldSource:    "s",
			FieldTimestamp: "1",
			FieldData:      "{}",
		}
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"missing type", func(f map[string]any) { delete(f, FieldType) }, FieldType},
		{"empty type", func(f map[string]any) { f[FieldType] = "" }, FieldType},
		{"bad timestamp", func(f map[string]any) { f[FieldTimestamp] = "soon" }, FieldTimestamp},
		{"bad data", func(f map[string]any) { f[FieldData] = "{" }, FieldData},
		{"wrong type", func(f map[string]any) { f[FieldSource] = 7 }, FieldSource},
		{"missing id", func(f map[string]any) { delete(f, FieldEventID) }, FieldEventID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(f)

			_, err := FromFields(f)
			var de *DecodeError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}

func TestEvent_EmptyDataEncodesNull(t *testing.T) {
	e := Event{ID: "x", Type: "t", Source: "s", Timestamp: 1}
	fields := e.ToFields()
	assert.Equal(t, "null", fields[FieldData])

	got, err := FromFields(fields)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, got.DecodeData(&v))
	assert.Nil(t, v)
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	e, err := NewEvent("t", "s", 5, map[string]string{"k": "v"})
	require.NoError(t, err)

	raw, err := e.ToJSON()
	require.NoError(t, err)

	var back Event
	require.NoError(t, back.FromJSON(raw))
	assert.Equal(t, e.ID, back.ID)
	assert.JSONEq(t, string(e.Data), string(back.Data))
}

func TestJobFiredData_NilPayload(t *testing.T) {
	d, err := NewJobFiredData("j", "n", 1, nil)
	require.NoError(t, err)
	m, err := d.PayloadMap()
	require.NoError(t, err)
	assert.Nil(t, m)
}
