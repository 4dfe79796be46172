package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/clinic-queue/pkg/logging"

	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path string
	auth string
	body map[string]any
}

func newLineServer(t *testing.T) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		captured = append(captured, capturedRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func firstText(t *testing.T, body map[string]any) string {
	t.Helper()
	messages, ok := body["messages"].([]any)
	require.True(t, ok, "messages missing: %v", body)
	require.Len(t, messages, 1)
	message := messages[0].(map[string]any)
	require.Equal(t, "text", message["type"])
	return message["text"].(string)
}

func TestLinePushProvider(t *testing.T) {
	srv, requests := newLineServer(t)
	api, err := NewLineAPI("push-token", srv.URL, srv.Client())
	require.NoError(t, err)

	provider := NewProvider("line", Options{LineAPI: api, Logger: logging.Discard()})
	require.NoError(t, provider.Send(context.Background(), "hello", "U123"))

	got := requests()
	require.Len(t, got, 1)
	require.Equal(t, "/v2/bot/message/push", got[0].path)
	require.Equal(t, "Bearer push-token", got[0].auth)
	require.Equal(t, "U123", got[0].body["to"])
	require.Equal(t, "hello", firstText(t, got[0].body))
}

func TestNewProviderFallbacks(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()

	require.IsType(t, logProvider{}, NewProvider("line", Options{Logger: logger}))
	require.IsType(t, logProvider{}, NewProvider("webhook", Options{Logger: logger}))
	require.IsType(t, logProvider{}, NewProvider("unknown", Options{Logger: logger}))
	require.IsType(t, webhookProvider{}, NewProvider("https://hooks.example/push", Options{Logger: logger}))
	require.NoError(t, NewProvider("noop", Options{}).Send(ctx, "m", "U1"))
	require.ErrorIs(t, NewProvider("fail", Options{}).Send(ctx, "m", "U1"), ErrProviderFailure)
}

func TestWebhookProvider(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	provider := NewProvider("webhook", Options{WebhookURL: srv.URL, WebhookToken: "secret"})
	require.NoError(t, provider.Send(context.Background(), "msg", "U9"))
	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, "U9", got["recipient"])
	require.Equal(t, "msg", got["message"])

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer rejecting.Close()
	require.Error(t, NewProvider(rejecting.URL, Options{}).Send(context.Background(), "msg", "U9"))
}

func TestReporterBroadcastsErrors(t *testing.T) {
	srv, requests := newLineServer(t)
	api, err := NewLineAPI("notify-token", srv.URL, srv.Client())
	require.NoError(t, err)

	jst := time.FixedZone("JST", 9*60*60)
	reporter := NewReporter(api, jst, logging.Discard())
	reporter.now = func() time.Time { return time.Date(2024, 1, 15, 1, 2, 3, 0, time.UTC) }

	require.NoError(t, reporter.Report(context.Background(), "webhook", errors.New("db down")))
	require.NoError(t, reporter.Announce(context.Background(), ExaminationNumberMessage("Taro", "A-1")))

	got := requests()
	require.Len(t, got, 2)
	require.Equal(t, "/v2/bot/message/broadcast", got[0].path)
	text := firstText(t, got[0].body)
	require.True(t, strings.HasPrefix(text, "エラーが発生しました:"))
	require.Contains(t, text, "コンテキスト: webhook")
	require.Contains(t, text, "メッセージ: db down")
	require.Contains(t, text, "発生時刻: 2024-01-15 10:02:03")
	require.Equal(t, "新しい診察券番号が登録されました:\n名前: Taro\n診察券番号: A-1", firstText(t, got[1].body))
}

func TestReporterWithoutAPI(t *testing.T) {
	reporter := NewReporter(nil, nil, logging.Discard())
	require.NoError(t, reporter.Report(context.Background(), "x", errors.New("boom")))
	require.NoError(t, reporter.Report(context.Background(), "x", nil))

	var nilReporter *Reporter
	require.NoError(t, nilReporter.Announce(context.Background(), "ignored"))
	nilReporter.ReportAsync("x", errors.New("boom"))
}
