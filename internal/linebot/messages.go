package linebot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/queue"
)

// Chat commands, matched exactly.
const (
	CommandStatus      = "今何番目？"
	CommandPreview     = "発券する"
	CommandIssue       = "発券"
	CommandCancel      = "キャンセル"
	CommandWaitTime    = "待ち時間"
	CommandUnservedAll = "待ち番号一覧"
)

const (
	AlreadyIssuedText = "すでに発券済みです。"
	CancelText        = "発券をキャンセルしました。"
	NoTicketText      = "まだ発券されていません。LINEから発券後の場合に、残りの予想待ち時間が表示されます🙇‍♂️"
	NoUnservedText    = "現在の待ち番号はありません。"
)

func StatusText(status queue.Status, sundays []string) string {
	var b strings.Builder
	b.WriteString("現在の待ち状況\n")
	fmt.Fprintf(&b, "発券済番号: %d\n", status.Waiting)
	fmt.Fprintf(&b, "診察済み組数: %d\n", status.Treatment)
	fmt.Fprintf(&b, "今現在の待ち時間目安: %s 約%d分", status.Estimate.Clock(), status.Estimate.Minutes)
	b.WriteString("\n\n月2回、日曜日診療しています(10時〜15時)")
	if line := sundayLine(sundays); line != "" {
		b.WriteString("\n次回の日曜診療日：" + line)
	}
	return b.String()
}

func PreviewText(status queue.Status) string {
	groups := status.Waiting - status.Treatment
	if groups < 0 {
		groups = 0
	}
	return fmt.Sprintf("現在の待ち状況（%d組待ち）\n現在、%d番目まで発券済みです。\n今発券すると約%d分後に順番です。\n\n予約券を発券しますか？\n『%s』と送信すると発券されます。",
		groups, status.Waiting, status.Estimate.Minutes, CommandIssue)
}

func HoursText(sundays []string) string {
	var b strings.Builder
	b.WriteString("現在システム利用時間外です🙇‍♂️\n\n")
	b.WriteString("LINE予約システム利用時間\n")
	b.WriteString("平日: 00:00〜12:20 (午前) / 13:20〜18:20 (午後)\n")
	b.WriteString("土曜日: 00:00〜14:40\n")
	b.WriteString("日曜診療日: 00:00〜14:40")
	if line := sundayLine(sundays); line != "" {
		b.WriteString("\n次回日曜診療日：" + line)
	}
	return b.String()
}

func ConfirmationText(number int) string {
	return "受付時『番号表示』を押し\n発券番号をご提示ください🙇‍♂️\n\n" +
		strconv.Itoa(number) +
		"\n\n・来院前にメルプの記入を必ずお願いします\n・記入済みの方は記入しなくて大丈夫です\n・『" + CommandUnservedAll + "』で随時確認できます"
}

func WaitText(info queue.WaitInfo) string {
	return fmt.Sprintf("待ち時間\nあなたの番号: %d\n診察済み組数: %d\nあなたより前: %d組\n予想診療時刻: %s 約%d分後",
		info.Ticket.TicketNumber, info.Treatment, info.Ahead, info.Estimate.Clock(), info.Estimate.Minutes)
}

func UnservedText(numbers []int) string {
	if len(numbers) == 0 {
		return NoUnservedText
	}
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("現在の待ち番号一覧\n%s\n合計: %d組", strings.Join(parts, "、"), len(numbers))
}

// sundayLine renders YYYY-MM-DD dates as 1月21日,2月4日.
func sundayLine(dates []string) string {
	var parts []string
	for _, raw := range dates {
		day, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d月%d日", int(day.Month()), day.Day()))
	}
	return strings.Join(parts, ",")
}
