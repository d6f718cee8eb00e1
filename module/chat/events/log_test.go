package events

import (
	"fmt"
	"testing"

	"UProject/module/chat/model"
	"UProject/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChat = model.ChatID("chat-1")

func newTestLog(ttl model.TimestampMillis) *Log {
	return NewLog(testChat, ttl, 1000)
}

func pushMessage(t *testing.T, l *Log, id int64, now model.TimestampMillis) PushResult {
	t.Helper()
	res, err := l.PushMessage(&model.MessageEvent{
		MessageID: model.MessageID(id),
		Sender:    "u1",
		Content:   model.MessageContent{Text: fmt.Sprintf("msg-%d", id)},
	}, now)
	require.NoError(t, err)
	return res
}

func TestPushAssignsMonotonicIndexes(t *testing.T) {
	l := newTestLog(0)

	var last model.EventIndex
	for i := int64(1); i <= 10; i++ {
		res := pushMessage(t, l, i, 1000+i)
		assert.Greater(t, res.Index, last)
		last = res.Index
	}
	assert.Equal(t, last, l.LatestEventIndex())
	assert.Equal(t, int64(10), l.Metrics().Messages)
}

func TestPushDuplicateMessageID(t *testing.T) {
	l := newTestLog(0)
	pushMessage(t, l, 7, 1000)

	_, err := l.PushMessage(&model.MessageEvent{MessageID: 7, Sender: "u2"}, 1001)
	assert.ErrorIs(t, err, errs.ErrMessageIdAlreadyExists)
}

func TestEventReadableUntilExactExpiry(t *testing.T) {
	const ttl = 1000
	l := newTestLog(ttl)

	res := pushMessage(t, l, 1, 5000)
	assert.Equal(t, model.TimestampMillis(6000), res.ExpiresAt)

	// readable one tick before expiry
	reader := l.VisibleReader(0, 5000+ttl-1)
	_, ok := reader.Get(res.Index)
	assert.True(t, ok)

	// unreadable at exactly now + ttl
	reader = l.VisibleReader(0, 5000+ttl)
	_, ok = reader.Get(res.Index)
	assert.False(t, ok)
}

func TestRemoveExpiredReportsRange(t *testing.T) {
	const ttl = 1000
	l := newTestLog(ttl)

	first := pushMessage(t, l, 1, 5000)
	for i := int64(2); i <= 6; i++ {
		pushMessage(t, l, i, 5000)
	}

	result := l.RemoveExpired(5000 + ttl)
	assert.Equal(t, 6, result.Removed)
	require.Len(t, result.Ranges, 1)
	assert.Equal(t, first.Index, result.Ranges[0].From)
	assert.Equal(t, first.Index+5, result.Ranges[0].To)

	// a reader now sees no events but gets the expired range back
	reader := l.VisibleReader(0, 5000+ttl)
	evs, expired := reader.EventsByIndex([]model.EventIndex{first.Index})
	assert.Empty(t, evs)
	require.Len(t, expired, 1)
	assert.Equal(t, first.Index, expired[0].From)
	assert.Equal(t, first.Index+5, expired[0].To)

	// second sweep is a no-op
	again := l.RemoveExpired(5000 + ttl)
	assert.Zero(t, again.Removed)
}

func TestRemoveExpiredSplitsRangesAroundLiveEvents(t *testing.T) {
	l := newTestLog(1000)

	short := pushMessage(t, l, 1, 1000) // expires at 2000
	l.SetEventsTTL(10000, 1000)
	long := pushMessage(t, l, 2, 1000) // expires at 11000
	l.SetEventsTTL(1000, 1000)
	short2 := pushMessage(t, l, 3, 1000) // expires at 2000

	result := l.RemoveExpired(2000)
	assert.Equal(t, 2, result.Removed)
	require.Len(t, result.Ranges, 2)
	assert.Equal(t, model.ExpiredRange{From: short.Index, To: short.Index}, result.Ranges[0])
	assert.Equal(t, model.ExpiredRange{From: short2.Index, To: short2.Index}, result.Ranges[1])

	// the long-lived event stays visible and outside every recorded gap
	reader := l.VisibleReader(0, 2000)
	window, expired := reader.Window(short.Index, 10)
	require.Len(t, window, 1)
	assert.Equal(t, long.Index, window[0].Index)
	for _, rng := range expired {
		assert.False(t, long.Index >= rng.From && long.Index <= rng.To)
	}
}

func TestRemoveExpiredCollectsObligations(t *testing.T) {
	l := newTestLog(500)

	_, err := l.PushMessage(&model.MessageEvent{
		MessageID: 1,
		Sender:    "u1",
		Content: model.MessageContent{
			Text:        "prize",
			FileRefs:    []string{"file-a", "file-b"},
			PrizeAmount: 42,
			PrizeLedger: "ledger-1",
		},
	}, 1000)
	require.NoError(t, err)

	result := l.RemoveExpired(2000)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, []string{"file-a", "file-b"}, result.FileRefs)
	require.Len(t, result.FinalPrizePayments, 1)
	assert.Equal(t, uint64(42), result.FinalPrizePayments[0].Amount)
	assert.Equal(t, model.UserID("u1"), result.FinalPrizePayments[0].Recipient)
}

func TestThreadRootExpiryOrphansReplies(t *testing.T) {
	l := newTestLog(0)

	root := pushMessage(t, l, 1, 1000)

	// replies in a thread under the root
	_, err := l.PushMessage(&model.MessageEvent{
		MessageID: 2, Sender: "u2", ThreadRoot: root.Index,
	}, 1001)
	require.NoError(t, err)
	assert.Len(t, l.ThreadReplies(root.Index), 1)

	// expire only the root by giving it a direct TTL via SetEventsTTL
	// ordering: push root again under TTL then sweep
	l.SetEventsTTL(100, 1002)
	root2 := pushMessage(t, l, 3, 1002)
	_, err = l.PushMessage(&model.MessageEvent{
		MessageID: 4, Sender: "u2", ThreadRoot: root2.Index,
	}, 1003)
	require.NoError(t, err)

	result := l.RemoveExpired(1200)
	assert.Contains(t, result.Threads, root2.Index)
	assert.Nil(t, l.ThreadReplies(root2.Index))
	// the un-TTL'd thread is untouched
	assert.Len(t, l.ThreadReplies(root.Index), 1)
}

func TestThreadRootMustExist(t *testing.T) {
	l := newTestLog(0)
	_, err := l.PushMessage(&model.MessageEvent{
		MessageID: 1, Sender: "u1", ThreadRoot: 99,
	}, 1000)
	assert.Error(t, err)
}

func TestNextEventExpiry(t *testing.T) {
	l := newTestLog(0)
	pushMessage(t, l, 1, 1000)
	assert.Zero(t, l.NextEventExpiry())

	l.SetEventsTTL(1000, 1500)
	pushMessage(t, l, 2, 2000)
	pushMessage(t, l, 3, 2500)
	assert.Equal(t, model.TimestampMillis(3000), l.NextEventExpiry())

	l.RemoveExpired(3000)
	assert.Equal(t, model.TimestampMillis(3500), l.NextEventExpiry())

	l.RemoveExpired(3500)
	assert.Zero(t, l.NextEventExpiry())
}

func TestBotFanoutOnlyForSubscribed(t *testing.T) {
	l := newTestLog(0)

	l.SubscribeBot("bot-a", []model.EventCategory{model.CategoryMessage})
	l.SubscribeBot("bot-b", []model.EventCategory{model.CategoryMembership})

	res := pushMessage(t, l, 1, 1000)
	require.NotNil(t, res.BotNotification)
	assert.Equal(t, []model.UserID{"bot-a"}, res.BotNotification.Recipients)
	assert.Equal(t, model.CategoryMessage, res.BotNotification.Category)

	res2 := l.Push(&model.MemberLeftEvent{UserID: "u9"}, 1001)
	require.NotNil(t, res2.BotNotification)
	assert.Equal(t, []model.UserID{"bot-b"}, res2.BotNotification.Recipients)

	res3 := l.Push(&model.DetailsUpdatedEvent{UpdatedBy: "u1"}, 1002)
	assert.Nil(t, res3.BotNotification)
}

func TestUnsubscribeBotStopsFanout(t *testing.T) {
	l := newTestLog(0)
	l.SubscribeBot("bot-a", []model.EventCategory{model.CategoryMessage})
	l.UnsubscribeBot("bot-a")

	res := pushMessage(t, l, 1, 1000)
	assert.Nil(t, res.BotNotification)
}

func TestVisibilityFloor(t *testing.T) {
	l := newTestLog(0)
	pushMessage(t, l, 1, 1000)
	second := pushMessage(t, l, 2, 1001)

	reader := l.VisibleReader(second.Index, 2000)
	var seen []model.EventIndex
	reader.Iter(0, func(e *model.EventWrapper) bool {
		seen = append(seen, e.Index)
		return true
	})
	assert.Equal(t, []model.EventIndex{second.Index}, seen)
}

func TestWindowSkipsExpired(t *testing.T) {
	l := newTestLog(0)
	a := pushMessage(t, l, 1, 1000)
	l.SetEventsTTL(100, 1000)
	b := pushMessage(t, l, 2, 1001)
	l.SetEventsTTL(0, 1002)
	c := pushMessage(t, l, 3, 1003)

	l.RemoveExpired(2000)

	reader := l.VisibleReader(0, 2000)
	evs, expired := reader.Window(a.Index, 10)
	require.Len(t, evs, 2)
	assert.Equal(t, a.Index, evs[0].Index)
	assert.Equal(t, c.Index, evs[1].Index)
	require.Len(t, expired, 1)
	assert.Equal(t, b.Index, expired[0].From)
}
