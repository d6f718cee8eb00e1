package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UProject/middleware/security"
	"UProject/module/chat/model"
	"UProject/module/chat/stable"
	"UProject/module/unit"
	secutil "UProject/tools/security"
)

var testSecret = []byte("api-test-secret")

type capturePusher struct {
	mu   sync.Mutex
	user []*model.Notification
	bot  []*model.BotNotification
}

func (p *capturePusher) PushUserNotification(n *model.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = append(p.user, n)
	return nil
}

func (p *capturePusher) PushBotNotification(n *model.BotNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bot = append(p.bot, n)
	return nil
}

func (p *capturePusher) botCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bot)
}

type testAPI struct {
	router *gin.Engine
	rt     *unit.RuntimeState
	pusher *capturePusher
	srv    *Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rt := unit.NewRuntimeState(unit.NewTestEnv(), unit.NewData("unit-test", "group"))
	pusher := &capturePusher{}
	srv := NewServer(rt, pusher)

	r := gin.New()
	r.Use(security.Auth(testSecret))
	srv.Register(r)
	return &testAPI{router: r, rt: rt, pusher: pusher, srv: srv}
}

func (a *testAPI) call(t *testing.T, as, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	token, _, err := secutil.Generate(secutil.DefaultOptions(testSecret), as)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) get(t *testing.T, as, path string) *httptest.ResponseRecorder {
	t.Helper()
	token, _, err := secutil.Generate(secutil.DefaultOptions(testSecret), as)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) mustCreateChat(t *testing.T, as string, chatID model.ChatID) {
	t.Helper()
	w := a.call(t, as, "/v1/update/create_chat", gin.H{
		"chatId": chatID, "name": "general", "isPublic": true, "historyVisible": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Zero(t, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func TestSendMessageRoundTrip(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	w := a.call(t, "alice", "/v1/update/send_message", gin.H{
		"chatId":    "chat-1",
		"messageId": 101,
		"content":   gin.H{"text": "hello"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sent struct {
		EventIndex model.EventIndex `json:"eventIndex"`
	}
	decodeData(t, w, &sent)

	w = a.call(t, "alice", "/v1/query/events_window", gin.H{
		"chatId": "chat-1", "start": 0, "max": 10,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp eventsResponse
	decodeData(t, w, &resp)
	require.NotEmpty(t, resp.Events)

	last := resp.Events[len(resp.Events)-1]
	assert.Equal(t, sent.EventIndex, last.Index)
	payload, err := model.DecodePayload(last.Payload)
	require.NoError(t, err)
	msg, isMsg := payload.(*model.MessageEvent)
	require.True(t, isMsg)
	assert.Equal(t, "hello", msg.Content.Text)
	assert.Equal(t, model.UserID("alice"), msg.Sender)
}

func TestNonMemberCannotSendOrRead(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	w := a.call(t, "mallory", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 1, "content": gin.H{"text": "hi"},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.call(t, "mallory", "/v1/query/events_window", gin.H{
		"chatId": "chat-1", "start": 0, "max": 10,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAddMembersSkipsAndReports(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	w := a.call(t, "alice", "/v1/update/add_members", gin.H{
		"chatId": "chat-1", "userIds": []string{"bob", "carol"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Re-adding converges: bob reports as already in, dave as added.
	w = a.call(t, "alice", "/v1/update/add_members", gin.H{
		"chatId": "chat-1", "userIds": []string{"bob", "dave"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res struct {
		Added     []model.UserID `json:"added"`
		AlreadyIn []model.UserID `json:"alreadyIn"`
	}
	decodeData(t, w, &res)
	assert.Equal(t, []model.UserID{"dave"}, res.Added)
	assert.Equal(t, []model.UserID{"bob"}, res.AlreadyIn)
}

func TestFreezeIsPlatformOnly(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	w := a.call(t, "alice", "/v1/update/freeze", gin.H{"chatId": "chat-1", "reason": "spam"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.call(t, "system", "/v1/update/freeze", gin.H{"chatId": "chat-1", "reason": "spam"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.call(t, "alice", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 1, "content": gin.H{"text": "hi"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.call(t, "system", "/v1/update/unfreeze", gin.H{"chatId": "chat-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.call(t, "alice", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 2, "content": gin.H{"text": "hi"},
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAgentTagMustMatchPrincipal(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	w := a.call(t, "mallory", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 1, "content": gin.H{"text": "hi"},
		"caller": gin.H{"agent": gin.H{"botId": "helper-bot", "initiator": gin.H{"kind": 1}}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookTagRequiresRegistration(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	// a non-member claiming the webhook tag gets no access
	w := a.call(t, "mallory", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 1, "content": gin.H{"text": "hi"},
		"caller": gin.H{"webhook": true},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// a plain human member cannot escalate through the tag either
	w = a.call(t, "alice", "/v1/update/add_members", gin.H{
		"chatId": "chat-1", "userIds": []string{"bob"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.call(t, "bob", "/v1/update/remove_member", gin.H{
		"chatId": "chat-1", "target": "alice",
		"caller": gin.H{"webhook": true},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// registration is owner-gated
	w = a.call(t, "bob", "/v1/update/register_webhook", gin.H{
		"chatId": "chat-1", "webhookId": "hook-1",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.call(t, "alice", "/v1/update/register_webhook", gin.H{
		"chatId": "chat-1", "webhookId": "hook-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.call(t, "hook-1", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 2, "content": gin.H{"text": "deploy finished"},
		"caller": gin.H{"webhook": true},
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBotNotificationReachesPusher(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	perms := model.NewPermissionSet(model.PermReadMessages)
	w := a.call(t, "alice", "/v1/update/install_bot", gin.H{
		"chatId": "chat-1",
		"bot": gin.H{
			"botId":                 "helper-bot",
			"ownerId":               "alice",
			"autonomousPermissions": perms,
			"defaultSubscriptions":  []model.EventCategory{model.CategoryMessage},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.call(t, "alice", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 3, "content": gin.H{"text": "ping"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Equal(t, 1, a.pusher.botCount())
	assert.Equal(t, []model.UserID{"helper-bot"}, a.pusher.bot[0].Recipients)
}

func TestSendMessageWritesBehind(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	persisted := map[string][]byte{}
	a.rt.Collab.PersistEvent = func(key string, data []byte) { persisted[key] = data }

	w := a.call(t, "alice", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 7, "content": gin.H{"text": "keep"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sent struct {
		EventIndex model.EventIndex `json:"eventIndex"`
	}
	decodeData(t, w, &sent)

	key := stable.EventKey("chat-1", 0, sent.EventIndex)
	raw, found := persisted[key]
	require.True(t, found, "payload must land under its partitioned key")
	payload, err := model.DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "keep", payload.(*model.MessageEvent).Content.Text)
}

type fakePayloadStore struct {
	events map[string][]byte
}

func (s *fakePayloadStore) GetEvent(_ context.Context, key string) ([]byte, error) {
	return s.events[key], nil
}

func TestStableEventIsPlatformOnly(t *testing.T) {
	a := newTestAPI(t)
	raw, err := model.EncodePayload(&model.MessageEvent{
		MessageID: 9, Sender: "alice", Content: model.MessageContent{Text: "archived"},
	})
	require.NoError(t, err)
	key := stable.EventKey("chat-1", 0, 4)
	a.srv.Payloads = &fakePayloadStore{events: map[string][]byte{key: raw}}

	w := a.get(t, "alice", "/v1/query/stable_event?chatId=chat-1&index=4")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.get(t, "system", "/v1/query/stable_event?chatId=chat-1&index=4")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Key     string          `json:"key"`
		Payload json.RawMessage `json:"payload"`
	}
	decodeData(t, w, &res)
	assert.Equal(t, key, res.Key)
	payload, err := model.DecodePayload(res.Payload)
	require.NoError(t, err)
	assert.Equal(t, "archived", payload.(*model.MessageEvent).Content.Text)

	w = a.get(t, "system", "/v1/query/stable_event?chatId=chat-1&index=5")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsQuery(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")
	a.call(t, "alice", "/v1/update/send_message", gin.H{
		"chatId": "chat-1", "messageId": 1, "content": gin.H{"text": "hi"},
	})

	w := a.get(t, "alice", "/v1/query/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	var m unit.Metrics
	decodeData(t, w, &m)
	assert.Equal(t, 1, m.ChatCount)
	assert.Equal(t, int64(1), m.EventMetrics.Messages)
}

func TestSummaryQuery(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreateChat(t, "alice", "chat-1")

	w := a.get(t, "alice", "/v1/query/summary?chatId=chat-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sum struct {
		ChatID      model.ChatID `json:"chatId"`
		MemberCount int          `json:"memberCount"`
	}
	decodeData(t, w, &sum)
	assert.Equal(t, model.ChatID("chat-1"), sum.ChatID)
	assert.Equal(t, 1, sum.MemberCount)

	w = a.get(t, "mallory", "/v1/query/summary?chatId=chat-1")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
