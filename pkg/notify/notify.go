// Package notify delivers operator notifications.
package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Log writes notifications to the logger. It is the fallback when no
// webhook is configured.
type Log struct {
	logger *logrus.Entry
}

func NewLog(logger *logrus.Logger) *Log {
	return &Log{logger: logger.WithField("component", "notify")}
}

func (l *Log) Notify(ctx context.Context, message string) error {
	l.logger.Info(message)
	return nil
}

const discordColor = 0x2ecc71

// Discord posts notifications as embeds to a Discord webhook.
type Discord struct {
	client   *resty.Client
	webhook  string
	username string
}

func NewDiscord(webhookURL, username string, timeout time.Duration) *Discord {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})
	return &Discord{client: client, webhook: webhookURL, username: username}
}

type embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []embed `json:"embeds"`
}

func (d *Discord) Notify(ctx context.Context, message string) error {
	payload := webhookPayload{
		Username: d.username,
		Embeds: []embed{{
			Title:       "positrader",
			Description: message,
			Color:       discordColor,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(d.webhook)
	if err != nil {
		return errors.Wrap(err, "post discord webhook")
	}
	if resp.IsError() {
		return errors.Errorf("discord returned status %d", resp.StatusCode())
	}
	return nil
}

// Multi sends to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
