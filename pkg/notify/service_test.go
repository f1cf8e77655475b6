package notify

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotify_PostsToChat(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotChat = r.PostFormValue("chat_id")
		gotText = r.PostFormValue("text")
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token123", "chat456")
	n.baseURL = srv.URL
	n.Notify("inverter offline")

	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "chat456", gotChat)
	assert.Equal(t, "inverter offline", gotText)
}

func TestNotify_UnconfiguredIsNoop(t *testing.T) {
	// Must not panic, must not attempt network access.
	var n *TelegramNotifier
	n.Notify("ignored")

	NewTelegramNotifier("", "").Notify("ignored")
}

func TestNotify_ServerErrorIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat")
	n.baseURL = srv.URL
	assert.NotPanics(t, func() { n.Notify("boom") })
}
