package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mvellans/tgfetch/bot/internal/formats"
	"github.com/mvellans/tgfetch/bot/internal/pipeline"
)

const titleLimit = 50

// onJobState reacts to pipeline transitions by editing the job's progress
// message. Runs on the event bus goroutine.
func (b *Bot) onJobState(s pipeline.Snapshot) {
	t, ok := b.progressMessage(s.JobID)
	if !ok {
		return
	}

	switch s.State {
	case pipeline.StateAwaitingSelection:
		b.send(tgbotapi.NewEditMessageTextAndMarkup(
			t.chatID, t.messageID,
			fmt.Sprintf("📹 %s\n\nSelect download quality:", truncate(s.Title, titleLimit)),
			qualityKeyboard(s),
		))
	case pipeline.StateDownloading:
		b.send(tgbotapi.NewEditMessageText(t.chatID, t.messageID, "⏬ Downloading video..."))
	case pipeline.StateCompressing:
		b.send(tgbotapi.NewEditMessageText(t.chatID, t.messageID, "📦 File is large, compressing..."))
	case pipeline.StateDelivering:
		b.send(tgbotapi.NewEditMessageText(t.chatID, t.messageID, "📤 Uploading..."))
	case pipeline.StateComplete:
		b.send(tgbotapi.NewEditMessageText(t.chatID, t.messageID, "✅ Download complete!"))
		b.untrack(s.JobID)
	case pipeline.StateFailed:
		b.send(tgbotapi.NewEditMessageText(t.chatID, t.messageID, b.failureText(s)))
		b.untrack(s.JobID)
	}
}

// Deliver implements pipeline.Deliverer over the Telegram file API.
func (b *Bot) Deliver(ctx context.Context, s pipeline.Snapshot, path string, audio bool) error {
	var msg tgbotapi.Chattable

	if audio {
		a := tgbotapi.NewAudio(s.ChatID, tgbotapi.FilePath(path))
		a.Caption = "✅ Audio downloaded successfully!"
		msg = a
	} else {
		v := tgbotapi.NewVideo(s.ChatID, tgbotapi.FilePath(path))
		v.Caption = fmt.Sprintf("✅ Video downloaded in %s quality!", s.ChosenLabel)
		msg = v
	}

	if _, err := b.api.Send(msg); err != nil {
		if isPayloadTooLarge(err) {
			return fmt.Errorf("%w: %v", pipeline.ErrPayloadTooLarge, err)
		}
		return err
	}

	return nil
}

func (b *Bot) failureText(s pipeline.Snapshot) string {
	switch s.Reason {
	case pipeline.ReasonExtractionFailed:
		return "❌ Failed to fetch video information."
	case pipeline.ReasonTooLarge:
		return fmt.Sprintf("❌ Video is too large (max %s)",
			humanize.IBytes(uint64(b.conf.MaxSourceSize())))
	case pipeline.ReasonNoFormats:
		return "❌ No downloadable formats found."
	case pipeline.ReasonAuthRequired:
		return "🔒 This video requires authentication.\n" +
			"Cookies need to be configured via the credential refresh URL."
	case pipeline.ReasonTransportTooLarge:
		return "❌ File is too large for Telegram.\n" +
			"Try downloading lower quality with /resolution command."
	case pipeline.ReasonSelectionExpired:
		return "⌛ Quality selection timed out. Send the link again to retry."
	case pipeline.ReasonDeliveryFailed:
		return "❌ Error sending file. Please try again later."
	default:
		return "❌ Download error. Please try again later."
	}
}

func qualityKeyboard(s pipeline.Snapshot) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	for _, opt := range s.Catalog {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				optionLabel(opt),
				fmt.Sprintf("dl|%s|%s", s.JobID, opt.ID),
			),
		))
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func optionLabel(opt formats.Option) string {
	if opt.AudioOnly {
		return "🎵 " + opt.Label
	}
	return "📹 " + opt.Label
}

// "file is too big" comes from the Bot API, 413s from the HTTP layer
func isPayloadTooLarge(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too big") ||
		strings.Contains(msg, "too large") ||
		strings.Contains(msg, "entity too large")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
