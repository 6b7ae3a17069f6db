package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
	name string
}

func (m *mockSender) Send(ctx context.Context, title, message string) error {
	args := m.Called(ctx, title, message)
	return args.Error(0)
}

func (m *mockSender) Name() string {
	return m.name
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func TestNotifier_FailuresAreSwallowed(t *testing.T) {
	failing := &mockSender{name: "failing"}
	failing.On("Send", mock.Anything, "title", "msg").Return(errors.New("boom"))
	ok := &mockSender{name: "ok"}
	ok.On("Send", mock.Anything, "title", "msg").Return(nil)

	n := NewNotifier([]Sender{failing, ok}, nil, testLogger())
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), EventDecision, "title", "msg")
	})

	failing.AssertExpectations(t)
	ok.AssertExpectations(t)
}

func TestNotifier_EventFilter(t *testing.T) {
	s := &mockSender{name: "s"}
	s.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	n := NewNotifier([]Sender{s}, []string{EventCycleError, " "}, testLogger())
	n.Notify(context.Background(), EventDecision, "filtered", "x")
	n.Notify(context.Background(), EventCycleError, "kept", "x")
	n.NotifyAll(context.Background(), "startup", "x")

	s.AssertNumberOfCalls(t, "Send", 2)
	s.AssertNotCalled(t, "Send", mock.Anything, "filtered", mock.Anything)
}

func TestNotifier_FallsBackToLog(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.Equal(t, []string{"log"}, n.Senders())
	n.Notify(context.Background(), EventStartup, "hello", "world")
}

func TestTelegramSender(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42", WithTelegramAPI(srv.URL+"/"))
	require.NoError(t, s.Send(context.Background(), "Cycle", "no action"))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "*Cycle*\nno action", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
	assert.True(t, got.DisableWebPagePreview)
}

func TestTelegramSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender("T", "1", WithTelegramAPI(srv.URL)).Send(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDiscordSender_Truncates(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, "hedgebot")
	require.NoError(t, s.Send(context.Background(), "t", strings.Repeat("x", 3000)))

	assert.Equal(t, "hedgebot", got.Username)
	assert.Equal(t, discordContentLimit, len([]rune(got.Content)))
}
