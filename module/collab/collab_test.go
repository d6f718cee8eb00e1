package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UProject/module/chat/model"
	"UProject/service/natsx"
)

type scriptedRequester struct {
	replies  []int // reject code per call, -1 = transport error
	calls    int
	subjects []string
	payloads [][]byte
}

func (s *scriptedRequester) Request(_ context.Context, subject string, data []byte, _ map[string]string) (*natsx.Reply, error) {
	idx := s.calls
	s.calls++
	s.subjects = append(s.subjects, subject)
	s.payloads = append(s.payloads, data)
	code := s.replies[idx]
	if code < 0 {
		return nil, errors.New("timeout")
	}
	return &natsx.Reply{RejectCode: code}, nil
}

func pending() model.PendingPayment {
	return model.PendingPayment{Amount: 500, Fee: 10, Ledger: "ledger-1", Recipient: "alice", Reason: "prize refund"}
}

func TestPaymentJobSucceedsAgainstLedgerSubject(t *testing.T) {
	req := &scriptedRequester{replies: []int{natsx.RejectNone}}
	job := NewPaymentJob(req, "group-1", pending(), RetryPolicy{})

	retry, err := job.Execute(0)
	require.NoError(t, err)
	assert.Zero(t, retry)
	assert.Equal(t, "unit.ledger-1.c2c.transfer", req.subjects[0])

	var got model.PendingPayment
	require.NoError(t, json.Unmarshal(req.payloads[0], &got))
	assert.Equal(t, pending(), got)
}

func TestPaymentJobRetriesWithGrowingDelay(t *testing.T) {
	req := &scriptedRequester{replies: []int{-1, -1, natsx.RejectNone}}
	job := NewPaymentJob(req, "group-1", pending(), RetryPolicy{BaseBackoff: time.Second})

	retry, err := job.Execute(0)
	require.Error(t, err)
	assert.Equal(t, time.Second, retry)

	retry, err = job.Execute(0)
	require.Error(t, err)
	assert.Equal(t, 2*time.Second, retry)

	retry, err = job.Execute(0)
	require.NoError(t, err)
	assert.Zero(t, retry)
	assert.Equal(t, 2, job.Attempts())
}

func TestPaymentJobAlreadyAppliedIsSuccess(t *testing.T) {
	req := &scriptedRequester{replies: []int{natsx.RejectAlreadyApplied}}
	job := NewPaymentJob(req, "group-1", pending(), RetryPolicy{})

	retry, err := job.Execute(0)
	require.NoError(t, err)
	assert.Zero(t, retry)
}

func TestPaymentJobTerminalRejectStops(t *testing.T) {
	req := &scriptedRequester{replies: []int{natsx.RejectBadRequest, natsx.RejectNone}}
	job := NewPaymentJob(req, "group-1", pending(), RetryPolicy{})

	retry, err := job.Execute(0)
	require.Error(t, err)
	assert.Zero(t, retry, "terminal reject must not reschedule")
	assert.Equal(t, 1, req.calls)
}

func TestPaymentJobAbandonsAfterMaxAttempts(t *testing.T) {
	req := &scriptedRequester{replies: []int{-1, -1, -1}}
	job := NewPaymentJob(req, "group-1", pending(), RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	retry, err := job.Execute(0)
	require.Error(t, err)
	assert.NotZero(t, retry)

	retry, err = job.Execute(0)
	require.Error(t, err)
	assert.NotZero(t, retry)

	retry, err = job.Execute(0)
	require.Error(t, err)
	assert.Zero(t, retry, "abandoned job must not reschedule")
}

type fakePublisher struct {
	routes    []natsx.Route
	published []struct {
		biz  string
		data []byte
	}
}

func (f *fakePublisher) RegisterRoute(r natsx.Route) error {
	f.routes = append(f.routes, r)
	return nil
}

func (f *fakePublisher) Publish(_ context.Context, biz string, data []byte, _ map[string]string) error {
	f.published = append(f.published, struct {
		biz  string
		data []byte
	}{biz, data})
	return nil
}

func TestFileDeleterPublishesToStorageSubject(t *testing.T) {
	pub := &fakePublisher{}
	d, err := NewFileDeleter(pub, "storage-3", "group-1")
	require.NoError(t, err)

	require.Len(t, pub.routes, 1)
	assert.Equal(t, "unit.storage-3.c2c.delete_files", pub.routes[0].Subject)

	d.Delete([]string{"blob-a", "blob-b"})
	require.Len(t, pub.published, 1)

	var reqBody DeleteFilesRequest
	require.NoError(t, json.Unmarshal(pub.published[0].data, &reqBody))
	assert.Equal(t, []string{"blob-a", "blob-b"}, reqBody.FileRefs)

	d.Delete(nil)
	assert.Len(t, pub.published, 1, "empty delete publishes nothing")
}
