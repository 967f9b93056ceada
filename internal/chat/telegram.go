// Package chat implements the Telegram bridge: inbound commands, a
// two-step project creation dialogue, and approval-request messages whose
// button callbacks resolve the approval rendezvous.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	apiBase     = "https://api.telegram.org"
	pollTimeout = 30 // seconds, long-poll window
)

// update mirrors the subset of the Telegram update object we consume.
type update struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		Data string `json:"data"`
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// Resolver answers an outstanding approval request. Implemented by the
// approval Oracle.
type Resolver interface {
	Resolve(approved bool)
}

// Bridge is the Telegram adapter. A single pre-authorised chat id is
// honoured; everything else is ignored.
type Bridge struct {
	api      string
	token    string
	chatID   string
	registry ProjectRegistry
	resolver Resolver
	client   *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	dialog dialogState
	name   string // pending project name during the dialogue

	cancel context.CancelFunc
}

type dialogState int

const (
	dialogIdle dialogState = iota
	dialogAwaitingName
	dialogAwaitingPrompt
)

// New creates a Bridge. Run must be called to start polling.
func New(token, chatID string, registry ProjectRegistry, resolver Resolver, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		api:      apiBase,
		token:    token,
		chatID:   chatID,
		registry: registry,
		resolver: resolver,
		client:   &http.Client{Timeout: (pollTimeout + 10) * time.Second},
		logger:   logger,
	}
}

// Run polls getUpdates until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.logger.Info("chat bridge started")

	offset := 0
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("chat bridge stopped")
			return
		default:
		}

		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("getUpdates failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			b.handleUpdate(ctx, u)
		}
	}
}

// Stop terminates the poll loop.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bridge) authorised(chatID int64) bool {
	return strconv.FormatInt(chatID, 10) == b.chatID
}

func (b *Bridge) handleUpdate(ctx context.Context, u update) {
	switch {
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		if cb.Message == nil || !b.authorised(cb.Message.Chat.ID) {
			return
		}
		b.handleCallback(cb.ID, cb.Data)
	case u.Message != nil:
		if !b.authorised(u.Message.Chat.ID) {
			b.logger.Warn("ignoring message from unauthorised chat", "chat", u.Message.Chat.ID)
			return
		}
		b.handleMessage(ctx, u.Message.Text)
	}
}

func (b *Bridge) handleCallback(callbackID, data string) {
	switch data {
	case "approve":
		b.resolver.Resolve(true)
		b.answerCallback(callbackID, "Approved")
		b.SendMessage("✅ Approved.")
	case "reject":
		b.resolver.Resolve(false)
		b.answerCallback(callbackID, "Rejected")
		b.SendMessage("❌ Rejected.")
	}
}

// SendMessage sends a Markdown text message to the authorised chat.
func (b *Bridge) SendMessage(text string) {
	body := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if err := b.post("sendMessage", body, nil); err != nil {
		b.logger.Warn("sendMessage failed", "error", err)
	}
}

// SendApprovalRequest implements approval.Notifier: a message with
// approve/reject buttons.
func (b *Bridge) SendApprovalRequest(stage, task string) error {
	body := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       fmt.Sprintf("*Approval needed*\nStage: %s\nTask: %s", stage, task),
		"parse_mode": "Markdown",
		"reply_markup": map[string]interface{}{
			"inline_keyboard": [][]map[string]string{{
				{"text": "✅ Approve", "callback_data": "approve"},
				{"text": "❌ Reject", "callback_data": "reject"},
			}},
		},
	}
	return b.post("sendMessage", body, nil)
}

func (b *Bridge) answerCallback(callbackID, text string) {
	body := map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
	}
	if err := b.post("answerCallbackQuery", body, nil); err != nil {
		b.logger.Warn("answerCallbackQuery failed", "error", err)
	}
}

func (b *Bridge) getUpdates(ctx context.Context, offset int) ([]update, error) {
	body := map[string]interface{}{
		"offset":  offset,
		"timeout": pollTimeout,
	}
	var resp updatesResponse
	if err := b.postCtx(ctx, "getUpdates", body, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram getUpdates not ok")
	}
	return resp.Result, nil
}

func (b *Bridge) post(method string, body interface{}, out interface{}) error {
	return b.postCtx(context.Background(), method, body, out)
}

func (b *Bridge) postCtx(ctx context.Context, method string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", b.api, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode, data)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
