package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaRepo_PublishesKeyedByUser(t *testing.T) {
	w := &recordingWriter{}
	svc := NewService(nil, NewKafkaRepo(w))

	require.NoError(t, svc.Append(context.Background(), Event{TenantID: "t1", Type: EventLogoutAll, UserID: "u1"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "u1", string(w.msgs[0].Key))

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, EventLogoutAll, got.Type)
	assert.Equal(t, SeverityInfo, got.Severity)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
}

func TestKafkaRepo_SurfacesWriterError(t *testing.T) {
	repo := NewKafkaRepo(&recordingWriter{err: errors.New("broker unavailable")})
	err := repo.Append(context.Background(), Event{Type: EventLoginFail})
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "auth.audit")
	assert.Equal(t, "auth.audit", w.Topic)
	var _ MessageWriter = w
}
