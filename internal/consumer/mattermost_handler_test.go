package consumer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMattermostHandlerPostsPublishedActivity(t *testing.T) {
	var got webhookPost
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	handler := NewMattermostHandler(srv.URL, WithLinkBase("https://club.example/activities/"))
	err := handler.Handle(context.Background(), Message{
		EventType: "activity.published",
		Payload:   json.RawMessage(`{"activity_id":"a1","title":"Spring ball","event_type":"form","publish_at":"2026-03-01T10:00:00Z","published_at":"2026-03-01T10:00:05Z"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "bulletin", got.Username)
	require.Contains(t, got.Text, "New form published: **Spring ball**")
	require.Contains(t, got.Text, "https://club.example/activities/a1")
}

func TestMattermostHandlerIgnoresOtherEvents(t *testing.T) {
	handler := NewMattermostHandler("http://127.0.0.1:0/unused")
	require.NoError(t, handler.Handle(context.Background(), Message{EventType: "activity.archived"}))
}

func TestMattermostHandlerClassifiesFailures(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", status)
	}))
	defer srv.Close()

	handler := NewMattermostHandler(srv.URL)
	msg := Message{
		EventType: "activity.published",
		Payload:   json.RawMessage(`{"activity_id":"a1","title":"Hi","event_type":"announcement"}`),
	}

	err := handler.Handle(context.Background(), msg)
	require.ErrorIs(t, err, ErrPermanent)

	status = http.StatusBadGateway
	err = handler.Handle(context.Background(), msg)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPermanent)

	err = handler.Handle(context.Background(), Message{EventType: "activity.published", Payload: json.RawMessage(`not json`)})
	require.ErrorIs(t, err, ErrPermanent)
}
