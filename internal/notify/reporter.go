package notify

import (
	"context"
	"fmt"
	"time"

	"qms/clinic-queue/pkg/logging"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

const reportTimeout = 10 * time.Second

// Reporter broadcasts operator messages on the notification channel. With no
// API configured it only logs.
type Reporter struct {
	api    *messaging_api.MessagingApiAPI
	loc    *time.Location
	logger *logging.Logger
	now    func() time.Time
}

func NewReporter(api *messaging_api.MessagingApiAPI, loc *time.Location, logger *logging.Logger) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reporter{api: api, loc: loc, logger: logger.With("component", "reporter"), now: time.Now}
}

func ErrorMessage(where, message string, at time.Time) string {
	return fmt.Sprintf("エラーが発生しました:\nコンテキスト: %s\nメッセージ: %s\n発生時刻: %s",
		where, message, at.Format("2006-01-02 15:04:05"))
}

func ExaminationNumberMessage(displayName, number string) string {
	return fmt.Sprintf("新しい診察券番号が登録されました:\n名前: %s\n診察券番号: %s", displayName, number)
}

// Report broadcasts a formatted error.
func (r *Reporter) Report(ctx context.Context, where string, err error) error {
	if r == nil || err == nil {
		return nil
	}
	reportID := uuid.NewString()
	r.logger.ErrorContext(ctx, "error reported", "report_id", reportID, "context", where, "error", err)
	return r.broadcast(ctx, ErrorMessage(where, err.Error(), r.now().In(r.loc)))
}

// ReportAsync is Report detached from the request lifetime.
func (r *Reporter) ReportAsync(where string, err error) {
	if r == nil || err == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if sendErr := r.Report(ctx, where, err); sendErr != nil {
			r.logger.Warn("error report failed", "context", where, "error", sendErr)
		}
	}()
}

// Announce broadcasts a plain message.
func (r *Reporter) Announce(ctx context.Context, message string) error {
	if r == nil {
		return nil
	}
	return r.broadcast(ctx, message)
}

func (r *Reporter) broadcast(ctx context.Context, message string) error {
	if r.api == nil {
		r.logger.InfoContext(ctx, "broadcast skipped", "message", message)
		return nil
	}
	_, err := r.api.WithContext(ctx).Broadcast(&messaging_api.BroadcastRequest{
		Messages: []messaging_api.MessageInterface{messaging_api.TextMessage{Text: message}},
	}, "")
	if err != nil {
		return fmt.Errorf("line broadcast: %w", err)
	}
	return nil
}
