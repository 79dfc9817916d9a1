package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mvellans/tgfetch/bot/internal/credentials"
	"github.com/mvellans/tgfetch/bot/internal/pipeline"
	"github.com/mvellans/tgfetch/bot/status"
)

var allowedResolutions = []int{144, 240, 360, 480, 720, 1080}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendWelcome(msg)
	case "download":
		url := msg.CommandArguments()
		if url == "" {
			b.reply(msg.Chat.ID, "❌ Please provide a YouTube URL.\nUsage: /download https://youtube.com/watch?v=...")
			return
		}
		b.startDownload(ctx, msg, url)
	case "resolution":
		b.handleResolution(msg)
	case "settings":
		b.sendSettings(msg.Chat.ID)
	case "status":
		b.sendStatus(msg.Chat.ID)
	case "update_cookies":
		b.handleUpdateCookies(ctx, msg)
	case "cookies":
		b.reply(msg.Chat.ID, "Upload a file named 'cookies.txt' to install new cookies (admins only).")
	}
}

// handleMessage treats any bare message containing a YouTube link as a
// download request.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}
	if strings.Contains(msg.Text, "youtube.com") || strings.Contains(msg.Text, "youtu.be") {
		b.startDownload(ctx, msg, strings.TrimSpace(msg.Text))
	}
}

func (b *Bot) startDownload(ctx context.Context, msg *tgbotapi.Message, url string) {
	job, err := b.pipeline.Submit(ctx, msg.From.ID, msg.Chat.ID, url)

	switch {
	case errors.Is(err, pipeline.ErrJobInProgress):
		b.reply(msg.Chat.ID, "⏳ You already have a download in progress. Please wait.")
		return
	case errors.Is(err, pipeline.ErrInvalidURL):
		b.reply(msg.Chat.ID, "❌ Invalid YouTube URL. Please provide a valid YouTube link.")
		return
	case err != nil:
		b.reply(msg.Chat.ID, "❌ An error occurred. Please try again later.")
		return
	}

	sent, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "🔍 Fetching video information..."))
	if err != nil {
		return
	}

	b.track(job.ID, msg.Chat.ID, sent.MessageID)
}

func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) {
	// always answer, otherwise the client keeps its spinner
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		return
	}

	if q.Message == nil {
		return
	}

	parts := strings.SplitN(q.Data, "|", 3)

	switch parts[0] {
	case "dl":
		if len(parts) == 3 {
			// stale or duplicate presses fall out of Select as no-ops
			b.pipeline.Select(parts[1], parts[2])
		}
	case "res":
		if len(parts) == 2 {
			b.applyResolution(q.Message.Chat.ID, q.Message.MessageID, parts[1])
		}
	case "menu":
		if len(parts) != 2 {
			return
		}
		switch parts[1] {
		case "download":
			b.send(tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID,
				"📥 Send me a YouTube URL to download"))
		case "settings":
			b.sendSettings(q.Message.Chat.ID)
		}
	}
}

func (b *Bot) handleResolution(msg *tgbotapi.Message) {
	arg := msg.CommandArguments()

	if arg == "" {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, res := range allowedResolutions {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("%dp", res),
					fmt.Sprintf("res|%d", res),
				),
			))
		}

		reply := tgbotapi.NewMessage(msg.Chat.ID, "Select default download resolution:")
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		b.send(reply)
		return
	}

	res, err := strconv.Atoi(arg)
	if err != nil || !isAllowedResolution(res) {
		b.reply(msg.Chat.ID, "❌ Invalid resolution. Choose from: 144, 240, 360, 480, 720, 1080")
		return
	}

	b.conf.SetDefaultResolution(res)
	b.reply(msg.Chat.ID, fmt.Sprintf("✅ Default resolution set to %dp", res))
}

func (b *Bot) applyResolution(chatID int64, messageID int, arg string) {
	res, err := strconv.Atoi(arg)
	if err != nil || !isAllowedResolution(res) {
		return
	}

	b.conf.SetDefaultResolution(res)
	b.send(tgbotapi.NewEditMessageText(chatID, messageID,
		fmt.Sprintf("✅ Default resolution set to %dp", res)))
}

func (b *Bot) handleUpdateCookies(ctx context.Context, msg *tgbotapi.Message) {
	if !b.conf.IsAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ Only admins can update cookies.")
		return
	}

	refreshURL := b.conf.Credentials.RefreshURL
	if refreshURL == "" {
		b.reply(msg.Chat.ID, "❌ No credential refresh URL configured.")
		return
	}

	if err := b.creds.Refresh(ctx, refreshURL); err != nil {
		if errors.Is(err, credentials.ErrInvalidFormat) {
			b.reply(msg.Chat.ID, "❌ Fetched content is not a valid cookie file. Previous cookies kept.")
		} else {
			b.reply(msg.Chat.ID, "❌ Failed to fetch cookies. Previous cookies kept.")
		}
		return
	}

	b.reply(msg.Chat.ID, "✅ Cookies updated!")
}

// handleDocument installs an uploaded cookies.txt. Admin only; the remote
// refresh URL stays the durable source of truth.
func (b *Bot) handleDocument(msg *tgbotapi.Message) {
	if !b.conf.IsAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ Only admins can upload cookies.")
		return
	}

	if msg.Document.FileName != "cookies.txt" {
		b.reply(msg.Chat.ID, "❌ Please upload a file named 'cookies.txt'")
		return
	}

	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: msg.Document.FileID})
	if err != nil {
		b.reply(msg.Chat.ID, "❌ Failed to fetch the uploaded file.")
		return
	}

	res, err := http.Get(file.Link(b.api.Token))
	if err != nil {
		b.reply(msg.Chat.ID, "❌ Failed to fetch the uploaded file.")
		return
	}
	defer res.Body.Close()

	content, err := io.ReadAll(res.Body)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ Failed to fetch the uploaded file.")
		return
	}

	if err := b.creds.InstallContent(content, msg.Document.FileName); err != nil {
		b.reply(msg.Chat.ID, "❌ That does not look like a cookie file. Previous cookies kept.")
		return
	}

	b.reply(msg.Chat.ID, "✅ Cookies uploaded successfully!")
}

func (b *Bot) sendWelcome(msg *tgbotapi.Message) {
	text := fmt.Sprintf(`🤖 *YouTube Video Downloader Bot* 🤖

Hello %s! I can download videos from YouTube.

📌 *Available Commands:*
/start - Show this message
/download [url] - Download video
/settings - Show download settings
/resolution [144|240|360|480|720|1080] - Set default quality
/status - Check bot status

🔧 *Admin Commands:*
/update_cookies - Refresh cookies from the configured URL

⚠️ *Note:* Maximum file size: %dMB`,
		msg.From.FirstName, b.conf.Limits.MaxSourceSizeMB)

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeMarkdown
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📥 Download Video", "menu|download"),
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Settings", "menu|settings"),
		),
	)
	b.send(reply)
}

func (b *Bot) sendSettings(chatID int64) {
	text := fmt.Sprintf(`⚙️ *Download Settings*

📏 Max File Size: %dMB
🎬 Default Resolution: %dp
🍪 Cookies: %s
🔗 Refresh URL: %s

Use /resolution to change default quality`,
		b.conf.Limits.MaxSourceSizeMB,
		b.conf.DefaultResolution(),
		configuredMark(b.creds.Current() != nil),
		configuredMark(b.conf.Credentials.RefreshURL != ""),
	)

	reply := tgbotapi.NewMessage(chatID, text)
	reply.ParseMode = tgbotapi.ModeMarkdown
	b.send(reply)
}

func (b *Bot) sendStatus(chatID int64) {
	free := status.FreeDisk(b.conf.Paths.DownloadPath)
	if free == "" {
		free = "Unknown"
	}

	text := fmt.Sprintf(`📊 *Bot Status*

👥 Active Downloads: %d
🍪 Cookies: %s
🔗 Refresh URL: %s
💾 Storage: %s free`,
		b.pipeline.Active(),
		configuredMark(b.creds.Current() != nil),
		configuredMark(b.conf.Credentials.RefreshURL != ""),
		free,
	)

	reply := tgbotapi.NewMessage(chatID, text)
	reply.ParseMode = tgbotapi.ModeMarkdown
	b.send(reply)
}

func configuredMark(ok bool) string {
	if ok {
		return "✅ Configured"
	}
	return "❌ Not configured"
}

func isAllowedResolution(res int) bool {
	for _, r := range allowedResolutions {
		if r == res {
			return true
		}
	}
	return false
}
