package c2c

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UProject/module/chat/model"
	"UProject/service/natsx"
	"UProject/service/syncq"
)

type fakeRequester struct {
	subject    string
	data       []byte
	hdr        map[string]string
	rejectCode int
	err        error
}

func (f *fakeRequester) Request(_ context.Context, subject string, data []byte, hdr map[string]string) (*natsx.Reply, error) {
	f.subject = subject
	f.data = data
	f.hdr = hdr
	if f.err != nil {
		return nil, f.err
	}
	return &natsx.Reply{RejectCode: f.rejectCode}, nil
}

func envelope(id uint64) model.IdempotentEnvelope {
	env, _ := model.NewEnvelope(1_700_000_000_000, id, model.EnvelopeKindNotification, map[string]string{"n": "1"})
	return env
}

func TestSendAddressesDestinationOp(t *testing.T) {
	req := &fakeRequester{}
	s := NewEnvelopeSender(req, natsx.OpNotifyEvents, "group-1", 0)

	err := s.Send(context.Background(), "user-9", []model.IdempotentEnvelope{envelope(1), envelope(2)})
	require.NoError(t, err)

	assert.Equal(t, "unit.user-9.c2c.notify_events", req.subject)
	assert.Equal(t, "group-1", req.hdr[natsx.HeaderSourceUnit])

	var batch []model.IdempotentEnvelope
	require.NoError(t, json.Unmarshal(req.data, &batch))
	assert.Len(t, batch, 2)
}

func TestSendTransportErrorStaysRetriable(t *testing.T) {
	req := &fakeRequester{err: errors.New("no responders")}
	s := NewEnvelopeSender(req, natsx.OpNotifyEvents, "group-1", 0)

	err := s.Send(context.Background(), "user-9", []model.IdempotentEnvelope{envelope(1)})
	require.Error(t, err)
	var se *syncq.SendError
	assert.False(t, errors.As(err, &se), "transport errors are plain, not classified")
}

func TestRejectCodeClassification(t *testing.T) {
	cases := []struct {
		code int
		kind syncq.FailureKind
	}{
		{natsx.RejectBadRequest, syncq.Terminal},
		{natsx.RejectUnitNotFound, syncq.Terminal},
		{natsx.RejectAlreadyApplied, syncq.AlreadyApplied},
		{natsx.RejectOverloaded, syncq.Retriable},
	}
	for _, tc := range cases {
		err := ClassifyReject(tc.code)
		require.Error(t, err)
		var se *syncq.SendError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, tc.kind, se.Kind, "code %d", tc.code)
		assert.Equal(t, tc.code, se.Code)
	}
	assert.NoError(t, ClassifyReject(natsx.RejectNone))
}
