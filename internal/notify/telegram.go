package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramBot calls the Bot API. Outgoing messages share one rate limiter.
type TelegramBot struct {
	token   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// InlineButton opens URL when pressed.
type InlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// InlineKeyboard is a reply_markup with rows of buttons.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *InlineKeyboard `json:"reply_markup,omitempty"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegramBot creates a Bot API client. rps <= 0 disables pacing.
func NewTelegramBot(token, baseURL string, rps float64, client *http.Client) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if baseURL == "" {
		baseURL = telegramBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &TelegramBot{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// SendMessage posts text to chatID with an optional inline keyboard.
func (b *TelegramBot) SendMessage(ctx context.Context, chatID, text string, markup *InlineKeyboard) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: markup})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		// the url carries the token
		return fmt.Errorf("send telegram message: %s", redact(err.Error(), b.token))
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "send telegram message"); err != nil {
		return err
	}

	var decoded botResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !decoded.OK {
		return fmt.Errorf("send telegram message: %s", decoded.Description)
	}
	return nil
}

// TelegramNotifier messages one chat.
type TelegramNotifier struct {
	bot    *TelegramBot
	chatID string
}

func NewTelegramNotifier(bot *TelegramBot, chatID string) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

func (n *TelegramNotifier) Channel() string { return ChannelTelegram }

func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	markup := &InlineKeyboard{InlineKeyboard: [][]InlineButton{{{Text: "Check", URL: msg.URL}}}}
	return n.bot.SendMessage(ctx, n.chatID, paidText(msg), markup)
}

func paidText(msg Message) string {
	lines := []string{"Invoice", "ID: " + msg.Invoice.ID.String()}
	if msg.Invoice.ExternalID != nil && *msg.Invoice.ExternalID != "" {
		lines = append(lines, "External ID: "+*msg.Invoice.ExternalID)
	}
	lines = append(lines, "Paid")
	return strings.Join(lines, "\n")
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}
