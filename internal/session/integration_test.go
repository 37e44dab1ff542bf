package session_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/auth"
	"github.com/meerkat-chat/meerkat/internal/backend"
	"github.com/meerkat-chat/meerkat/internal/channel"
	"github.com/meerkat-chat/meerkat/internal/handlers"
	"github.com/meerkat-chat/meerkat/internal/message"
	"github.com/meerkat-chat/meerkat/internal/notice"
	"github.com/meerkat-chat/meerkat/internal/removal"
	"github.com/meerkat-chat/meerkat/internal/server"
	"github.com/meerkat-chat/meerkat/internal/session"
)

const secret = "integration-secret"

func startDevServer(t *testing.T) (*backend.Store, string) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := backend.Demo(log)
	srv := server.NewServer(log, "", secret,
		handlers.NewPingHandler(log),
		handlers.NewChatroomHandler(log, store),
		handlers.NewMessagesHandler(log, store),
		handlers.NewAllClearHandler(log, store),
		handlers.NewSocketHandler(log, store),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return store, ts.URL
}

func newSession(t *testing.T, baseURL string, viewerID int64, sink notice.Sink) *session.Session {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	token, _, err := auth.GenerateToken(viewerID, secret, time.Hour)
	require.NoError(t, err)
	client, err := api.NewClient(baseURL, token, 5*time.Second)
	require.NoError(t, err)
	manager := channel.NewManager(log, &channel.WebsocketTransport{URL: baseURL, Token: token})
	s := session.New(log, session.Config{
		ChatroomID:        backend.DemoChatroomID,
		ViewerID:          viewerID,
		ReconnectInterval: 50 * time.Millisecond,
		Countdown:         removal.Disabled,
		Policy:            removal.DefaultPolicy(),
	}, client, manager, sink, nil)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func waitConnected(t *testing.T, s *session.Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		view, err := s.Timeline(context.Background())
		return err == nil && view.Connected
	}, 5*time.Second, 20*time.Millisecond)
}

func findMessage(t *testing.T, s *session.Session, id string) (message.Message, bool) {
	t.Helper()
	view, err := s.Timeline(context.Background())
	require.NoError(t, err)
	idx := slices.IndexFunc(view.Messages, func(m message.Message) bool { return m.ID == id })
	if idx < 0 {
		return message.Message{}, false
	}
	return view.Messages[idx], true
}

func TestSessionAgainstDevServer(t *testing.T) {
	t.Parallel()

	store, url := startDevServer(t)
	ctx := context.Background()

	sender := newSession(t, url, 1, nil)
	receiver := newSession(t, url, 2, nil)
	require.NoError(t, sender.Start(ctx))
	require.NoError(t, receiver.Start(ctx))
	waitConnected(t, sender)
	waitConnected(t, receiver)

	view, err := receiver.Timeline(ctx)
	require.NoError(t, err)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "대대 상황실", view.Chatroom.Name)

	// The join event follows the connect ack; retry until the room
	// subscription is live on the server.
	var sentID string
	require.Eventually(t, func() bool {
		if sentID == "" {
			sent, err := sender.SendAllClear(ctx, "야간 점검 결과 보고 바랍니다.")
			if err != nil {
				return false
			}
			sentID = sent.ID
		}
		_, ok := findMessage(t, receiver, sentID)
		if !ok {
			sentID = ""
		}
		return ok
	}, 5*time.Second, 100*time.Millisecond)

	got, _ := findMessage(t, receiver, sentID)
	assert.Equal(t, []message.ReplyValue{message.ReplyStatistics}, got.QuickReplies.Values())
	assert.Equal(t, "대대장", got.Sender.DisplayName)

	require.Eventually(t, func() bool {
		mine, ok := findMessage(t, sender, sentID)
		return ok && mine.Source == message.SourcePush
	}, 5*time.Second, 20*time.Millisecond, "the echo confirms the local send")

	_, err = receiver.NewReportForm(sentID)
	assert.ErrorIs(t, err, session.ErrNotSender)

	form, err := sender.NewReportForm(sentID)
	require.NoError(t, err)
	_, err = sender.SubmitReport(ctx, form)
	require.NoError(t, err)
	assert.Len(t, store.Responses(sentID), 1)
}

func TestSessionSuperiorFallbackAgainstDevServer(t *testing.T) {
	t.Parallel()

	store, url := startDevServer(t)
	store.SetFault(backend.FaultCommander, true)
	notices := &notice.Recorder{}
	s := newSession(t, url, 3, notices)
	require.NoError(t, s.Start(context.Background()))

	on, err := s.ToggleSuperior(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
	view, err := s.Timeline(context.Background())
	require.NoError(t, err)
	assert.True(t, view.Degraded)
	for _, m := range view.Messages {
		assert.NotEqual(t, int64(3), m.SenderID)
	}
	assert.Contains(t, notices.Texts(), notice.TextSuperiorFallback)
}

func TestSessionLoadFailureAgainstDevServer(t *testing.T) {
	t.Parallel()

	store, url := startDevServer(t)
	store.SetFault(backend.FaultRoster, true)
	notices := &notice.Recorder{}
	s := newSession(t, url, 2, notices)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, s.IsLoading())
	assert.Equal(t, []string{notice.TextLoadFailure}, notices.Texts())
}
