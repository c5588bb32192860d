package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-risk-alerts/internal/tasks"
)

// Notification 封装失败任务的告警上下文。
type Notification struct {
	Kind          tasks.Kind
	TaskID        string
	GroupID       string
	Attempt       int
	Error         string
	FailedAt      time.Time
	Environment   string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("task_id", note.TaskID).
		Str("kind", string(note.Kind)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Risk Alerts] task abandoned\n")
	if note.Environment != "" {
		builder.WriteString(fmt.Sprintf("Env: %s\n", note.Environment))
	}
	builder.WriteString(fmt.Sprintf("Kind: %s\n", note.Kind))
	builder.WriteString(fmt.Sprintf("Task: %s (attempt %d)\n", note.TaskID, note.Attempt))
	if note.GroupID != "" {
		builder.WriteString(fmt.Sprintf("Group: %s\n", note.GroupID))
	}
	builder.WriteString(fmt.Sprintf("Failed: %s UTC\n", note.FailedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Error: %s\n", note.Error))
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

// DeadLetterNotifier forwards abandoned tasks to a Notifier.
type DeadLetterNotifier struct {
	notifier    Notifier
	environment string
}

// NewDeadLetterNotifier wraps notifier as a dead-letter sink.
func NewDeadLetterNotifier(notifier Notifier, environment string) *DeadLetterNotifier {
	return &DeadLetterNotifier{notifier: notifier, environment: environment}
}

func (d *DeadLetterNotifier) DeadLetter(ctx context.Context, letter tasks.DeadLetter) error {
	return d.notifier.Notify(ctx, Notification{
		Kind:          letter.Task.Kind,
		TaskID:        letter.Task.ID,
		GroupID:       letter.Task.GroupID,
		Attempt:       letter.Task.Attempt,
		Error:         letter.Error,
		FailedAt:      letter.FailedAt,
		Environment:   d.environment,
		AdditionalMsg: describePayload(letter),
	})
}

// describePayload quotes short payloads so the operator can replay them.
func describePayload(letter tasks.DeadLetter) string {
	raw := string(letter.Task.Payload)
	if raw == "" || raw == "null" || len(raw) > 256 {
		return ""
	}
	return "Payload: " + raw + "\n"
}

var (
	_ Notifier             = (*TelegramNotifier)(nil)
	_ tasks.DeadLetterSink = (*DeadLetterNotifier)(nil)
)
