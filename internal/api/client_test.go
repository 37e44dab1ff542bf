package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL+"/", "tok", time.Second)
	require.NoError(t, err)
	return client
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Envelope{Data: data})
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	got, err := NormalizeBaseURL(" http://localhost:5000/ ")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", got)

	_, err = NormalizeBaseURL("")
	assert.Error(t, err)
	_, err = NormalizeBaseURL("localhost")
	assert.Error(t, err)
}

func TestChatroomDecodesEnvelope(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chatroom/7", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeData(w, Chatroom{ID: 7, Name: "ops", CommanderID: 3})
	})

	room, err := client.Chatroom(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, Chatroom{ID: 7, Name: "ops", CommanderID: 3}, room)
}

func TestRosterAndCommander(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chatroom/getAllUsersInfo/7":
			_, _ = io.WriteString(w, `{"data":[{"userId":1,"name":"A","image":null},{"userId":2,"name":"B","image":"b.png"}]}`)
		case "/chatroom/commander/7":
			_, _ = io.WriteString(w, `{"data":{"userId":2}}`)
		default:
			http.NotFound(w, r)
		}
	})

	users, err := client.Roster(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Nil(t, users[0].Image)
	require.NotNil(t, users[1].Image)
	assert.Equal(t, "b.png", *users[1].Image)

	commander, err := client.Commander(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), commander)
}

func TestHistorySendsPaginationQuery(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chatroom/messages/7", r.URL.Path)
		assert.Equal(t, "m10", r.URL.Query().Get("before"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"data":{"messages":[{"_id":"m9","text":"hi","senderId":1,"sendTime":"2026-03-01T09:00:00Z","hasQuickReplies":true}],"nextBefore":"m9"}}`)
	})

	page, err := client.History(context.Background(), 7, "m10", 25)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m9", page.Messages[0].ID)
	assert.True(t, page.Messages[0].HasQuickReplies)
	assert.Equal(t, "m9", page.NextBefore)
}

func TestSubmitAllClearResponseBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/allclear/response/create", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m1", body["messageId"])
		assert.Equal(t, "CLEAR", body["allClearResponseType"])
		assert.Equal(t, "이상 없습니다.", body["content"])
		w.WriteHeader(http.StatusCreated)
	})

	err := client.SubmitAllClearResponse(context.Background(), AllClearResponseRequest{
		MessageID:            "m1",
		AllClearResponseType: AllClearClear,
		Content:              "이상 없습니다.",
	})
	require.NoError(t, err)
}

func TestSetRecentReadAndUnread(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/messages/setRecentRead":
			var body SetRecentReadRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, SetRecentReadRequest{ChatroomID: 7, MessageID: "m1"}, body)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/messages/unread/m1":
			_, _ = io.WriteString(w, `{"data":[{"userId":3,"name":"C"}]}`)
		default:
			http.NotFound(w, r)
		}
	})

	require.NoError(t, client.SetRecentRead(context.Background(), SetRecentReadRequest{ChatroomID: 7, MessageID: "m1"}))
	users, err := client.Unread(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "C", users[0].Name)
}

func TestAPIErrorFromStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"chatroom not found"}`)
	})

	_, err := client.Chatroom(context.Background(), 1)
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "chatroom not found", apiErr.Message)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIErrorPlainBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Commander(context.Background(), 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "boom", apiErr.Message)
	assert.NotErrorIs(t, err, ErrNotFound)
}
