package linebot

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/clinic-queue/internal/dedup"
	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/queue"
	"qms/clinic-queue/internal/store/memory"
	"qms/clinic-queue/pkg/logging"

	"github.com/stretchr/testify/require"
)

const testSecret = "channel-secret"

type reply struct {
	token string
	texts []string
}

type fakeMessenger struct {
	mu      sync.Mutex
	replies []reply
	names   map[string]string
}

func (m *fakeMessenger) Reply(ctx context.Context, replyToken string, texts ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, reply{token: replyToken, texts: texts})
	return nil
}

func (m *fakeMessenger) DisplayName(ctx context.Context, userID string) (string, error) {
	name, ok := m.names[userID]
	if !ok {
		return "", errors.New("profile not found")
	}
	return name, nil
}

func (m *fakeMessenger) last(t *testing.T) reply {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.replies)
	return m.replies[len(m.replies)-1]
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}

type fakeReporter struct {
	mu    sync.Mutex
	where []string
}

func (r *fakeReporter) ReportAsync(where string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.where = append(r.where, where)
}

type fixture struct {
	handler   *Handler
	service   *queue.Service
	store     *memory.Store
	messenger *fakeMessenger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.NewStore()
	jst := time.FixedZone("JST", 9*60*60)
	svc := queue.NewService(st, queue.Options{
		Location: jst,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return time.Date(2024, 1, 15, 9, 0, 0, 0, jst) },
	})
	deduper, err := dedup.NewLRUDeduper(16, time.Minute)
	require.NoError(t, err)
	messenger := &fakeMessenger{names: map[string]string{"U1": "Taro"}}
	handler := NewHandler(testSecret, svc, messenger, Options{
		Dedup:      deduper,
		Logger:     logging.Discard(),
		InquiryURL: "https://inquiry.example/new",
	})
	return fixture{handler: handler, service: svc, store: st, messenger: messenger}
}

func textEvent(eventID, userID, text string) string {
	return fmt.Sprintf(`{"type":"message","mode":"active","timestamp":1705276800000,"webhookEventId":%q,`+
		`"deliveryContext":{"isRedelivery":false},"source":{"type":"user","userId":%q},`+
		`"replyToken":"reply-%s","message":{"type":"text","id":"m-%s","quoteToken":"q","text":%q}}`,
		eventID, userID, eventID, eventID, text)
}

func followEvent(eventID, userID string) string {
	return fmt.Sprintf(`{"type":"follow","mode":"active","timestamp":1705276800000,"webhookEventId":%q,`+
		`"deliveryContext":{"isRedelivery":false},"source":{"type":"user","userId":%q},`+
		`"replyToken":"reply-%s","follow":{"isUnblocked":false}}`, eventID, userID, eventID)
}

func signedRequest(secret string, events ...string) *http.Request {
	body := []byte(`{"destination":"Ubot","events":[` + strings.Join(events, ",") + `]}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Line-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return req
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	rec := serve(t, f.handler, signedRequest("wrong-secret", textEvent("E1", "U1", CommandIssue)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, f.messenger.count())
}

func TestWebhookIssuesTicketOnce(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandIssue)))
	require.Equal(t, http.StatusOK, rec.Code)
	first := f.messenger.last(t)
	require.Equal(t, "reply-E1", first.token)
	require.Len(t, first.texts, 2)
	require.Equal(t, "https://inquiry.example/new", first.texts[0])
	require.Contains(t, first.texts[1], "\n1\n")

	ticket, found, err := f.store.FindTicketByUser(context.Background(), "U1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Taro", ticket.DisplayName)

	serve(t, f.handler, signedRequest(testSecret, textEvent("E2", "U1", CommandIssue)))
	second := f.messenger.last(t)
	require.Equal(t, AlreadyIssuedText, second.texts[0])
	require.Equal(t, ConfirmationText(1), second.texts[1])

	counters, _ := f.store.GetCounters(context.Background())
	require.Equal(t, 1, counters.Waiting)
}

func TestWebhookDropsRedeliveredEvent(t *testing.T) {
	f := newFixture(t)

	serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandIssue)))
	serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandIssue)))

	require.Equal(t, 1, f.messenger.count())
}

func TestWebhookClosedRepliesHours(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetSystemStatus(context.Background(), models.StatusClosed))

	serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandPreview)))
	require.Contains(t, f.messenger.last(t).texts[0], "現在システム利用時間外です")

	serve(t, f.handler, signedRequest(testSecret, textEvent("E2", "U1", CommandIssue)))
	require.Contains(t, f.messenger.last(t).texts[0], "現在システム利用時間外です")

	_, found, _ := f.store.FindTicketByUser(context.Background(), "U1")
	require.False(t, found)
}

func TestWebhookStatusAndLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ReplaceSundayClinics(ctx, []string{"2024-01-21", "2024-02-04"}))
	_, err := f.service.IssueTicket(ctx, "U9", "Hanako")
	require.NoError(t, err)

	serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandStatus)))
	status := f.messenger.last(t).texts[0]
	require.Contains(t, status, "発券済番号: 1")
	require.Contains(t, status, "次回の日曜診療日：1月21日,2月4日")

	serve(t, f.handler, signedRequest(testSecret, textEvent("E2", "U1", CommandPreview)))
	require.Contains(t, f.messenger.last(t).texts[0], "現在の待ち状況（1組待ち）")

	serve(t, f.handler, signedRequest(testSecret, textEvent("E3", "U1", CommandUnservedAll)))
	require.Equal(t, "現在の待ち番号一覧\n1\n合計: 1組", f.messenger.last(t).texts[0])

	serve(t, f.handler, signedRequest(testSecret, textEvent("E4", "U1", CommandWaitTime)))
	require.Equal(t, NoTicketText, f.messenger.last(t).texts[0])

	serve(t, f.handler, signedRequest(testSecret, textEvent("E5", "U9", CommandWaitTime)))
	require.Contains(t, f.messenger.last(t).texts[0], "あなたの番号: 1")

	serve(t, f.handler, signedRequest(testSecret, textEvent("E6", "U1", CommandCancel)))
	require.Equal(t, CancelText, f.messenger.last(t).texts[0])

	before := f.messenger.count()
	serve(t, f.handler, signedRequest(testSecret, textEvent("E7", "U1", "こんにちは")))
	require.Equal(t, before, f.messenger.count())
}

func TestWebhookFollowRecordsFollower(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	serve(t, f.handler, signedRequest(testSecret, followEvent("F1", "U1"), followEvent("F2", "U2")))

	taro, err := f.store.GetFollower(ctx, "U1")
	require.NoError(t, err)
	require.Equal(t, "Taro", taro.DisplayName)

	anonymous, err := f.store.GetFollower(ctx, "U2")
	require.NoError(t, err)
	require.Equal(t, queue.DefaultDisplayName, anonymous.DisplayName)
}

func TestMessages(t *testing.T) {
	require.Equal(t, NoUnservedText, UnservedText(nil))
	require.Equal(t, "1月21日", sundayLine([]string{"2024-01-21", "bogus"}))
	require.NotContains(t, HoursText(nil), "次回日曜診療日")
}

func TestWebhookReportsFailures(t *testing.T) {
	f := newFixture(t)
	reporter := &fakeReporter{}
	f.handler.reporter = reporter
	f.handler.messenger = failingMessenger{}

	rec := serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandCancel)))
	require.Equal(t, http.StatusOK, rec.Code)

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Equal(t, []string{"webhook message"}, reporter.where)
}

func TestWebhookRetriesFailedEventOnRedelivery(t *testing.T) {
	f := newFixture(t)
	f.handler.messenger = failingMessenger{}

	serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandCancel)))
	require.Zero(t, f.messenger.count())

	f.handler.messenger = f.messenger
	serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandCancel)))
	require.Equal(t, 1, f.messenger.count())
	require.Equal(t, []string{CancelText}, f.messenger.last(t).texts)

	serve(t, f.handler, signedRequest(testSecret, textEvent("E1", "U1", CommandCancel)))
	require.Equal(t, 1, f.messenger.count())
}

type failingMessenger struct{}

func (failingMessenger) Reply(ctx context.Context, replyToken string, texts ...string) error {
	return errors.New("reply failed")
}

func (failingMessenger) DisplayName(ctx context.Context, userID string) (string, error) {
	return "", errors.New("profile failed")
}
