package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/auth"
	"github.com/meerkat-chat/meerkat/internal/backend"
	"github.com/meerkat-chat/meerkat/internal/channel"
	"github.com/meerkat-chat/meerkat/internal/handlers"
	"github.com/meerkat-chat/meerkat/internal/healthcheck"
	"github.com/meerkat-chat/meerkat/internal/message"
	"github.com/meerkat-chat/meerkat/internal/server"
)

const testSecret = "test-secret"

type testEnv struct {
	store *backend.Store
	url   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := backend.Demo(log)
	socket := handlers.NewSocketHandler(log, store)
	socket.PingInterval = 200 * time.Millisecond
	srv := server.NewServer(log, "", testSecret,
		handlers.NewPingHandler(log, store),
		handlers.NewAuthHandler(log, store, testSecret, time.Hour),
		handlers.NewChatroomHandler(log, store),
		handlers.NewMessagesHandler(log, store),
		handlers.NewAllClearHandler(log, store),
		socket,
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{store: store, url: ts.URL}
}

func (e *testEnv) client(t *testing.T, userID int64) *api.Client {
	t.Helper()
	client, err := api.NewClient(e.url, e.token(t, userID), 5*time.Second)
	require.NoError(t, err)
	return client
}

func (e *testEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	token, _, err := auth.GenerateToken(userID, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func TestPing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, err := http.Get(env.url + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthReportsFaults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	getReport := func() healthcheck.Report {
		resp, err := http.Get(env.url + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var report healthcheck.Report
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		return report
	}

	report := getReport()
	assert.Equal(t, healthcheck.StatusOK, report.Status)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "backend.store", report.Checks[0].ID)

	env.store.SetFault(backend.FaultHistory, true)
	report = getReport()
	assert.Equal(t, healthcheck.StatusWarn, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "backend.fault.history", report.Checks[0].ID)

	req, err := http.NewRequest(http.MethodHead, env.url+"/health", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatroomEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	client := env.client(t, 2)
	ctx := context.Background()

	room, err := client.Chatroom(ctx, backend.DemoChatroomID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.CommanderID)

	users, err := client.Roster(ctx, backend.DemoChatroomID)
	require.NoError(t, err)
	assert.Len(t, users, 4)

	commander, err := client.Commander(ctx, backend.DemoChatroomID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), commander)

	page, err := client.History(ctx, backend.DemoChatroomID, "", 1)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "seed-2", page.Messages[0].ID)
	assert.Equal(t, "seed-2", page.NextBefore)

	_, err = client.Chatroom(ctx, 404)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestChatroomRejectsMissingToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	client, err := api.NewClient(env.url, "", time.Second)
	require.NoError(t, err)
	_, err = client.Chatroom(context.Background(), backend.DemoChatroomID)
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestCommanderFault(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.store.SetFault(backend.FaultCommander, true)
	_, err := env.client(t, 2).Commander(context.Background(), backend.DemoChatroomID)
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestReadReceiptsAndAllClear(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.store.Post(backend.DemoChatroomID, 1, "ac-1", "[이상무 보고]\n점검 바랍니다.", true)
	require.NoError(t, err)

	unread, err := env.client(t, 1).Unread(ctx, "ac-1")
	require.NoError(t, err)
	assert.Len(t, unread, 3)

	require.NoError(t, env.client(t, 2).SetRecentRead(ctx, api.SetRecentReadRequest{ChatroomID: backend.DemoChatroomID, MessageID: "ac-1"}))
	unread, err = env.client(t, 1).Unread(ctx, "ac-1")
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	err = env.client(t, 2).SubmitAllClearResponse(ctx, api.AllClearResponseRequest{
		MessageID:            "ac-1",
		AllClearResponseType: api.AllClearClear,
		Content:              "이상 없습니다.",
	})
	require.NoError(t, err)
	responses := env.store.Responses("ac-1")
	require.Len(t, responses, 1)
	assert.Equal(t, int64(2), responses[0].UserID)

	err = env.client(t, 2).SubmitAllClearResponse(ctx, api.AllClearResponseRequest{MessageID: "ac-1", AllClearResponseType: "MAYBE", Content: "x"})
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestAuthTokenAndRefresh(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, err := http.Post(env.url+"/auth/token", "application/json", strings.NewReader(`{"userId":3}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var issued handlers.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	viewer, err := auth.ViewerIDFromToken(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(3), viewer)

	req, err := http.NewRequest(http.MethodPost, env.url+"/auth/refresh", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+issued.AccessToken)
	refreshResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer refreshResp.Body.Close()
	assert.Equal(t, http.StatusOK, refreshResp.StatusCode)

	unknown, err := http.Post(env.url+"/auth/token", "application/json", strings.NewReader(`{"userId":99}`))
	require.NoError(t, err)
	defer unknown.Body.Close()
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
}

func TestSocketJoinSendAndBroadcast(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	type peer struct {
		mgr       *channel.Manager
		handle    *channel.Handle
		connected chan struct{}
		messages  chan message.RawEvent
	}
	open := func(userID int64) *peer {
		p := &peer{
			mgr:       channel.NewManager(log, &channel.WebsocketTransport{URL: env.url, Token: env.token(t, userID)}),
			connected: make(chan struct{}, 1),
			messages:  make(chan message.RawEvent, 8),
		}
		handle, err := p.mgr.Open(ctx, backend.DemoChatroomID, channel.Handlers{
			OnConnect: func() { p.connected <- struct{}{} },
			OnMessage: func(raw message.RawEvent) { p.messages <- raw },
		})
		require.NoError(t, err)
		p.handle = handle
		t.Cleanup(func() { _ = p.mgr.Close(ctx, handle) })
		select {
		case <-p.connected:
		case <-time.After(5 * time.Second):
			t.Fatalf("user %d never connected", userID)
		}
		return p
	}

	sender := open(1)
	listener := open(2)

	// joinChatroom is sent right after the connect ack; probe until both
	// subscriptions are live.
	probes := 0
	senderReady, listenerReady := false, false
	require.Eventually(t, func() bool {
		probes++
		_, err := env.store.Post(backend.DemoChatroomID, 3, fmt.Sprintf("probe-%d", probes), "probe", false)
		if err != nil {
			return false
		}
		time.Sleep(20 * time.Millisecond)
		if drain(sender.messages) {
			senderReady = true
		}
		if drain(listener.messages) {
			listenerReady = true
		}
		return senderReady && listenerReady
	}, 5*time.Second, 50*time.Millisecond)

	err := sender.mgr.Emit(ctx, sender.handle, channel.EventSendMessage, channel.OutboundMessage{
		ID:         "local-1",
		ChatroomID: backend.DemoChatroomID,
		Text:       "보고 바랍니다.",
	})
	require.NoError(t, err)

	for _, ch := range []chan message.RawEvent{sender.messages, listener.messages} {
		raw := nextNonProbe(t, ch)
		assert.Equal(t, "local-1", raw.ID)
		assert.Equal(t, int64(1), raw.SenderID)
		assert.False(t, raw.SendTime.IsZero())
	}
}

func nextNonProbe(t *testing.T, ch chan message.RawEvent) message.RawEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case raw := <-ch:
			if strings.HasPrefix(raw.ID, "probe-") {
				continue
			}
			return raw
		case <-timeout:
			t.Fatal("broadcast not received")
			return message.RawEvent{}
		}
	}
}

// drain empties ch and reports whether anything was buffered.
func drain(ch chan message.RawEvent) bool {
	got := false
	for {
		select {
		case <-ch:
			got = true
		default:
			return got
		}
	}
}
