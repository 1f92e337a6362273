package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/legalmeet/intake/internal/connector"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Channel is the channel name used in session addresses.
const Channel = "telegram"

const (
	unsupportedReply = "Por el momento solo puedo procesar mensajes de texto o audio. 😊"
	helpReply        = "Cuéntame tu situación legal y te ayudo a registrar tu caso.\n\n" +
		"/start para empezar de nuevo\n" +
		"/reset para borrar la conversación\n\n" +
		"También puedes enviarme notas de voz. 🎤"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
	// ProcessTimeout bounds one message turn. Default 15s.
	ProcessTimeout time.Duration
}

const (
	pollTimeout           = 30 // seconds
	defaultProcessTimeout = 15 * time.Second
	// requestTimeout bounds every Bot API call. It must outlast a long poll.
	requestTimeout = (pollTimeout + 15) * time.Second
)

// Connector implements connector.Connector and transcribe.Fetcher for Telegram.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc

	inflight sync.WaitGroup
	mu       sync.Mutex
	chats    map[int64][]*tgbotapi.Message // queued messages per chat with a running worker

	client  *http.Client
	fileURL func(fileID string) (string, error)
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, &http.Client{Timeout: requestTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return newWithBot(bot, cfg, handler, logger), nil
}

func newWithBot(bot *tgbotapi.BotAPI, cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("connector", Channel)
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
		chats:   make(map[int64][]*tgbotapi.Message),
		client:  &http.Client{Timeout: 60 * time.Second},
		fileURL: bot.GetFileDirectURL,
	}
}

func (c *Connector) Name() string { return Channel }

// Start long-polls for updates until ctx is cancelled. Messages for one
// chat are handled in arrival order; different chats run concurrently.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	updates := c.bot.GetUpdatesChan(tgbotapi.UpdateConfig{
		Timeout:        pollTimeout,
		AllowedUpdates: []string{"message"},
	})
	c.logger.Info("long polling started", "bot", c.bot.Self.UserName)

	defer func() {
		c.bot.StopReceivingUpdates()
		c.inflight.Wait()
		c.logger.Info("long polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Message == nil || u.Message.Chat == nil {
				continue
			}
			c.enqueue(ctx, u.Message)
		}
	}
}

// enqueue appends msg to its chat's queue, starting a worker for the chat
// if none is running.
func (c *Connector) enqueue(ctx context.Context, msg *tgbotapi.Message) {
	id := msg.Chat.ID
	c.mu.Lock()
	queue, running := c.chats[id]
	c.chats[id] = append(queue, msg)
	c.mu.Unlock()
	if running {
		return
	}
	c.inflight.Add(1)
	go c.drain(ctx, id)
}

// drain handles a chat's messages one at a time and exits once the queue
// is empty.
func (c *Connector) drain(ctx context.Context, chatID int64) {
	defer c.inflight.Done()
	for {
		c.mu.Lock()
		queue := c.chats[chatID]
		if len(queue) == 0 {
			delete(c.chats, chatID)
			c.mu.Unlock()
			return
		}
		msg := queue[0]
		c.chats[chatID] = queue[1:]
		c.mu.Unlock()

		mctx, cancel := context.WithTimeout(ctx, c.config.ProcessTimeout)
		c.handleUpdate(mctx, msg)
		cancel()
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers plain text to a Telegram chat. It returns when ctx is done
// even if the Bot API has not answered.
func (c *Connector) Send(ctx context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.Recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.Recipient, err)
	}

	if strings.TrimSpace(msg.Text) == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.Recipient)
		return nil
	}

	tgMsg := tgbotapi.NewMessage(chatID, msg.Text)
	tgMsg.DisableWebPagePreview = true
	if err := c.call(ctx, tgMsg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// call performs one Bot API request, abandoning it when ctx is done. The
// request itself is still bounded by the client timeout.
func (c *Connector) call(ctx context.Context, req tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.bot.Request(req)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connector) handleUpdate(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if len(c.config.AllowFrom) > 0 && !slices.Contains(c.config.AllowFrom, userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	if msg.IsCommand() && msg.Command() == "help" {
		c.reply(ctx, chatID, helpReply)
		return
	}

	inbound, ok := toInbound(msg)
	if !ok {
		c.logger.Info("unsupported message", "chat_id", chatID)
		c.reply(ctx, chatID, unsupportedReply)
		return
	}

	if err := c.call(ctx, tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		c.logger.Debug("typing action failed", "chat_id", chatID, "error", err)
	}

	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("inbound handler error",
			"chat_id", chatID,
			"error", err,
		)
	}
}

func (c *Connector) reply(ctx context.Context, chatID int64, text string) {
	if err := c.call(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
		c.logger.Warn("reply failed", "chat_id", chatID, "error", err)
	}
}

// toInbound converts a Telegram message. Commands other than /help are
// forwarded as text so session keywords such as /start and /reset reach
// the conversation. Voice notes and audio files become audio references.
func toInbound(msg *tgbotapi.Message) (protocol.InboundMessage, bool) {
	in := protocol.InboundMessage{
		Channel:   Channel,
		Sender:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.FormatInt(msg.Chat.ID, 10) + ":" + strconv.Itoa(msg.MessageID),
	}

	switch {
	case msg.Text != "":
		in.Text = msg.Text
	case msg.Voice != nil:
		in.Audio = &protocol.AudioRef{Channel: Channel, ID: msg.Voice.FileID, MimeType: msg.Voice.MimeType}
	case msg.Audio != nil:
		in.Audio = &protocol.AudioRef{Channel: Channel, ID: msg.Audio.FileID, MimeType: msg.Audio.MimeType}
	case msg.Caption != "":
		in.Text = msg.Caption
	default:
		return in, false
	}
	return in, true
}
