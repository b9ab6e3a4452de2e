// Package telegram is a minimal client for the telegram bot api, enough
// for long polling updates and replying with html formatted messages.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"samezu-bot/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("samezu/lib/telegram")

const (
	DefaultBaseURL = "https://api.telegram.org"
	// MaxMessageLength is the api limit on message text, in utf-16 code
	// units. Counting runes keeps us under it for the text we send.
	MaxMessageLength = 4096
)

var ErrUnauthorized = errors.New("telegram: unauthorized bot token")

type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Code == http.StatusUnauthorized
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName is "@username" when set, otherwise the full name.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Command splits a "/name@bot arg1 arg2" message into its lowercased
// command name and arguments. ok is false for non command messages.
func (m Message) Command() (name string, args []string, ok bool) {
	fields := strings.Fields(m.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:], name != ""
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type envelope struct {
	Ok          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type Client struct {
	http    *resty.Client
	timeout time.Duration
}

type Options struct {
	BaseURL string
	Timeout time.Duration
}

func NewClient(token string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(fmt.Sprintf("%s/bot%s", strings.TrimSuffix(opts.BaseURL, "/"), token))
	client.SetHeader("user-agent", "samezu-bot")

	telemetry.InstrumentResty(client, "samezu/lib/telegram/http", token)

	return &Client{http: client, timeout: opts.Timeout}
}

func (c *Client) call(ctx context.Context, method string, form map[string]string, out any) error {
	ctx, span := tracer.Start(ctx, method)
	defer span.End()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/" + method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return err
	}

	var env envelope
	err = json.Unmarshal(res.Body(), &env)
	if err != nil {
		err = fmt.Errorf("telegram %s: decode response (status %d): %w", method, res.StatusCode(), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode response")
		return err
	}
	if !env.Ok {
		code := env.ErrorCode
		if code == 0 {
			code = res.StatusCode()
		}
		apiErr := &APIError{
			Method:      method,
			Code:        code,
			Description: env.Description,
			RetryAfter:  time.Duration(env.Parameters.RetryAfter) * time.Second,
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "api error")
		return apiErr
	}
	if out == nil {
		return nil
	}
	err = json.Unmarshal(env.Result, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode result")
		return err
	}
	return nil
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", nil, nil)
}

func (c *Client) GetMe(ctx context.Context) (User, error) {
	var me User
	err := c.call(ctx, "getMe", nil, &me)
	return me, err
}

// GetUpdates long polls for updates after offset, waiting up to timeout
// for one to arrive.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	form := map[string]string{
		"timeout":         fmt.Sprint(int(timeout.Seconds())),
		"allowed_updates": `["message"]`,
	}
	if offset > 0 {
		form["offset"] = fmt.Sprint(offset)
	}

	// the poll must outlive the server side wait
	ctx, cancel := context.WithTimeout(ctx, timeout+c.timeout)
	defer cancel()

	var updates []Update
	err := c.call(ctx, "getUpdates", form, &updates)
	return updates, err
}

// SendMessage sends text as html, split into several messages when it
// exceeds the api limit.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	ctx, span := tracer.Start(ctx, "SendMessage")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chatID))

	for _, part := range SplitText(text, MaxMessageLength) {
		err := c.call(ctx, "sendMessage", map[string]string{
			"chat_id":                  fmt.Sprint(chatID),
			"text":                     part,
			"parse_mode":               "HTML",
			"disable_web_page_preview": "true",
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// SplitText breaks text into chunks of at most limit runes, cutting at
// the last newline inside the limit when there is one.
func SplitText(text string, limit int) []string {
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(parts) == 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
