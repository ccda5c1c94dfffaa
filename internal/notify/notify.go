// Package notify は保有者・関係者への通知（SMTP、Webhook、ログ）を提供する。
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUnsupportedChannel は未対応の通知チャネル形式の場合のエラー。
var ErrUnsupportedChannel = errors.New("unsupported notification channel")

// チャネルのスキーム。チャネルは "scheme:target" 形式で表す。
const (
	SchemeEmail   = "email"
	SchemeWebhook = "webhook"
	SchemeLog     = "log"
)

// Message は通知内容。
type Message struct {
	Kind         string `json:"kind"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	ActivationID string `json:"activation_id,omitempty"`
	Severity     string `json:"severity,omitempty"`
}

// ParseChannel はチャネル文字列をスキームと宛先に分解する。
func ParseChannel(channel string) (scheme, target string, err error) {
	scheme, target, ok := strings.Cut(strings.TrimSpace(channel), ":")
	if !ok || target == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, channel)
	}
	switch scheme {
	case SchemeEmail, SchemeWebhook, SchemeLog:
		return scheme, target, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, channel)
}

// Dispatcher はチャネルのスキームに応じて送信先を振り分ける。
type Dispatcher struct {
	mail    *EmailNotifier
	webhook *WebhookNotifier
}

// NewDispatcher は Dispatcher を生成する。mail が nil の場合、email チャネルは失敗する。
func NewDispatcher(mail *EmailNotifier, webhook *WebhookNotifier) *Dispatcher {
	return &Dispatcher{mail: mail, webhook: webhook}
}

// Notify は全チャネルに送信し、失敗をまとめて返す。
// 1つのチャネルの失敗は他のチャネルへの送信を妨げない。
func (d *Dispatcher) Notify(ctx context.Context, channels []string, msg Message) error {
	var errs []error
	for _, ch := range channels {
		if err := d.send(ctx, ch, msg); err != nil {
			slog.WarnContext(ctx, "notification failed",
				"operation", "notify",
				"kind", msg.Kind,
				"channel", redact(ch),
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, channel string, msg Message) error {
	scheme, target, err := ParseChannel(channel)
	if err != nil {
		return err
	}
	switch scheme {
	case SchemeEmail:
		if d.mail == nil {
			return errors.New("email notifier is not configured")
		}
		return d.mail.Send(ctx, target, msg)
	case SchemeWebhook:
		return d.webhook.Send(ctx, target, msg)
	default:
		slog.InfoContext(ctx, "notification",
			"channel", target,
			"kind", msg.Kind,
			"subject", msg.Subject,
			"activation_id", msg.ActivationID,
		)
		return nil
	}
}

// redact はログ出力用にチャネルの宛先を伏せる。
func redact(channel string) string {
	scheme, _, ok := strings.Cut(channel, ":")
	if !ok {
		return "invalid"
	}
	return scheme + ":***"
}
