// Package bot wires the download pipeline to the Telegram transport.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/asaskevich/EventBus"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mvellans/tgfetch/bot/config"
	"github.com/mvellans/tgfetch/bot/internal/credentials"
	"github.com/mvellans/tgfetch/bot/internal/delivery"
	"github.com/mvellans/tgfetch/bot/internal/extractor"
	"github.com/mvellans/tgfetch/bot/internal/pipeline"
	"github.com/mvellans/tgfetch/bot/internal/slots"
	"github.com/mvellans/tgfetch/bot/internal/transcoder"
	"github.com/mvellans/tgfetch/bot/status"
	"golang.org/x/sync/errgroup"
)

// tracked is the per-job progress message the bot keeps editing as the
// pipeline advances.
type tracked struct {
	chatID    int64
	messageID int
}

type Bot struct {
	api      *tgbotapi.BotAPI
	conf     *config.Config
	creds    *credentials.Store
	pipeline *pipeline.Pipeline

	messages map[string]tracked
	mu       sync.Mutex
}

// Run builds the whole bot and blocks until ctx is cancelled or the
// transport fails.
func Run(ctx context.Context) error {
	conf := config.Instance()

	if conf.Telegram.Token == "" {
		return errors.New("telegram token not configured")
	}

	api, err := tgbotapi.NewBotAPI(conf.Telegram.Token)
	if err != nil {
		return err
	}

	slog.Info("authorized on telegram", slog.String("username", api.Self.UserName))

	creds := credentials.NewStore(conf.Paths.CookieFile)
	creds.LoadOnStartup(ctx, conf.Credentials.RefreshURL)

	b := &Bot{
		api:      api,
		conf:     conf,
		creds:    creds,
		messages: make(map[string]tracked),
	}

	bus := EventBus.New()

	b.pipeline = pipeline.New(
		pipeline.Options{
			MaxSourceSize:    conf.MaxSourceSize(),
			SelectionTimeout: conf.Downloads.SelectionTimeout,
			DownloadDir:      conf.Paths.DownloadPath,
		},
		slots.NewRegistry(),
		extractor.NewYtDlp(conf.Paths.DownloaderPath, creds),
		delivery.NewGate(conf.TransportCeiling(), transcoder.NewFFmpeg(conf.Paths.FFmpegPath)),
		b,
		bus,
	)

	if err := bus.SubscribeAsync(pipeline.StateTopic, b.onJobState, false); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.pollUpdates(ctx) })

	if conf.Status.Addr != "" {
		g.Go(func() error {
			return status.Serve(ctx, conf.Status.Addr, b.pipeline, creds, conf.Paths.DownloadPath)
		})
	}

	return g.Wait()
}

func (b *Bot) pollUpdates(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			b.dispatch(ctx, update)
		}
	}
}

// dispatch routes one update. Handler failures stay inside this boundary:
// nothing a single chat does may take the poll loop down.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", slog.Any("panic", r))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil && update.Message.Document != nil:
		b.handleDocument(update.Message)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) track(jobID string, chatID int64, messageID int) {
	b.mu.Lock()
	b.messages[jobID] = tracked{chatID: chatID, messageID: messageID}
	b.mu.Unlock()
}

func (b *Bot) progressMessage(jobID string) (tracked, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.messages[jobID]
	return t, ok
}

func (b *Bot) untrack(jobID string) {
	b.mu.Lock()
	delete(b.messages, jobID)
	b.mu.Unlock()
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		slog.Warn("telegram send failed", slog.Any("err", err))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}
