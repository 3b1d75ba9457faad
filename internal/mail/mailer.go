// Package mail delivers account mail. The default sender writes to the
// structured log, which is what development and test environments want; a
// real SMTP or provider-backed sender can replace it behind the same
// interface.
package mail

import (
	"context"

	"libris.org/internal/obs"
)

// LogSender "delivers" mail by logging it. Reset codes logged this way are
// only acceptable outside production.
type LogSender struct{}

func NewLogSender() *LogSender { return &LogSender{} }

func (s *LogSender) SendResetCode(ctx context.Context, email, name, code string) error {
	obs.LogRequest(map[string]any{
		"msg":   "mail_reset_code",
		"to":    email,
		"name":  name,
		"code":  code,
		"level": "info",
	})
	return nil
}

func (s *LogSender) SendResetConfirmation(ctx context.Context, email, name string) error {
	obs.LogRequest(map[string]any{
		"msg":   "mail_reset_confirmation",
		"to":    email,
		"name":  name,
		"level": "info",
	})
	return nil
}
