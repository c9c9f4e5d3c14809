package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/stock-alerts/internal/config"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

const (
	// MaxMessageLength is Telegram's limit for one text message
	MaxMessageLength = 4096
	plainTextLimit   = 4000
	maxSendAttempts  = 3
)

// ErrNotConfigured is returned when no bot token or chat id is set
var ErrNotConfigured = errors.New("telegram bot token or chat id not configured")

// APIError is a non-2xx answer from the Bot API
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed with status %d: %s", e.Method, e.StatusCode, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// User is the sender of an incoming message
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat identifies where a message was posted
type Chat struct {
	ID int64 `json:"id"`
}

// Message is an incoming chat message
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// Update is one getUpdates entry
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// TelegramClient sends alerts to one chat through the Bot API
type TelegramClient struct {
	cfg        config.Telegram
	httpClient *http.Client
	log        zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewTelegramClient creates a client with a bounded HTTP timeout
func NewTelegramClient(cfg config.Telegram) *TelegramClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TelegramClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        observ.Component("telegram"),
		sleep:      sleepCtx,
	}
}

// ChatID returns the configured chat
func (c *TelegramClient) ChatID() string { return c.cfg.ChatID }

func (c *TelegramClient) configured() bool {
	return c.cfg.BotToken != "" && c.cfg.ChatID != ""
}

func (c *TelegramClient) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.cfg.BaseURL, c.cfg.BotToken, method)
}

// SendMessage posts text with Markdown formatting. When Telegram rejects the markup
// the text is resent once as plain text, truncated to 4000 characters.
func (c *TelegramClient) SendMessage(ctx context.Context, text string) error {
	if !c.configured() {
		return ErrNotConfigured
	}
	err := c.sendMessage(ctx, text, "Markdown")
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		c.log.Warn().Int("length", len(text)).Str("description", apiErr.Description).Msg("markdown rejected, retrying as plain text")
		observ.IncCounter("telegram_plain_fallback_total", nil)
		err = c.sendMessage(ctx, truncateRunes(text, plainTextLimit), "")
	}
	if err != nil {
		observ.IncCounter("telegram_errors_total", map[string]string{"method": "sendMessage"})
		return err
	}
	observ.IncCounter("telegram_messages_sent_total", nil)
	return nil
}

// SendLong splits text on line boundaries and sends each part in order
func (c *TelegramClient) SendLong(ctx context.Context, text string) error {
	for _, part := range SplitMessage(text, MaxMessageLength) {
		if err := c.SendMessage(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (c *TelegramClient) sendMessage(ctx context.Context, text, parseMode string) error {
	form := url.Values{
		"chat_id": {c.cfg.ChatID},
		"text":    {text},
	}
	if parseMode != "" {
		form.Set("parse_mode", parseMode)
	}
	_, err := c.do(ctx, "sendMessage", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendMessage"), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	return err
}

// SendPhoto uploads the image at path with a Markdown caption
func (c *TelegramClient) SendPhoto(ctx context.Context, path, caption string) error {
	if !c.configured() {
		return ErrNotConfigured
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}

	_, err = c.do(ctx, "sendPhoto", func() (*http.Request, error) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		_ = w.WriteField("chat_id", c.cfg.ChatID)
		if caption != "" {
			_ = w.WriteField("caption", caption)
			_ = w.WriteField("parse_mode", "Markdown")
		}
		part, err := w.CreateFormFile("photo", filepath.Base(path))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(image); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendPhoto"), &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	})
	if err != nil {
		observ.IncCounter("telegram_errors_total", map[string]string{"method": "sendPhoto"})
		return err
	}
	observ.IncCounter("telegram_photos_sent_total", nil)
	return nil
}

// GetUpdates long-polls for messages after offset
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	if c.cfg.BotToken == "" {
		return nil, ErrNotConfigured
	}
	poll := c.cfg.PollSeconds
	if poll <= 0 {
		poll = 30
	}
	q := url.Values{
		"offset":          {strconv.FormatInt(offset, 10)},
		"timeout":         {strconv.Itoa(poll)},
		"allowed_updates": {`["message"]`},
	}

	// the long poll outlives the send timeout
	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(poll)*time.Second+c.httpClient.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, c.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	client := *c.httpClient
	client.Timeout = 0
	result, err := c.roundTrip(&client, "getUpdates", req)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	return updates, nil
}

// do sends a request built by build, retrying 429s, 5xx and network failures with
// exponential backoff plus jitter
func (c *TelegramClient) do(ctx context.Context, method string, build func() (*http.Request, error)) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		result, err := c.roundTrip(c.httpClient, method, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var apiErr *APIError
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.StatusCode == http.StatusTooManyRequests && apiErr.RetryAfter > 0:
				backoff = apiErr.RetryAfter
			case apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests:
				return nil, err
			}
		}
		if attempt == maxSendAttempts-1 {
			break
		}
		jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
		c.log.Debug().Str("method", method).Int("attempt", attempt+1).Dur("backoff", backoff+jitter).Err(err).Msg("retrying")
		if err := c.sleep(ctx, backoff+jitter); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *TelegramClient) roundTrip(client *http.Client, method string, req *http.Request) (json.RawMessage, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}

	var parsed apiResponse
	_ = json.Unmarshal(body, &parsed)
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		desc := parsed.Description
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Description: desc,
			RetryAfter:  time.Duration(parsed.Parameters.RetryAfter) * time.Second,
		}
	}
	return parsed.Result, nil
}

// SplitMessage breaks text into parts of at most max bytes, cutting on line
// boundaries. A single line longer than max is cut on rune boundaries.
func SplitMessage(text string, max int) []string {
	if max <= 0 || len(text) <= max {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		for len(line) > max {
			flush()
			head := truncateRunes(line, max)
			parts = append(parts, head)
			line = line[len(head):]
		}
		if cur.Len()+len(line)+1 > max {
			flush()
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return parts
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	if cut == 0 {
		return s[:n]
	}
	return s[:cut]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
