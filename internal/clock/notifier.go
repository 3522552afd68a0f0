package clock

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
)

// NotificationSender is the part of Clock a Notifier needs.
type NotificationSender interface {
	SendNotification(ctx context.Context, n protocol.Notification) ([]protocol.Warning, error)
}

var _ NotificationSender = (*Clock)(nil)

// Notifier turns plain text into notifications that share one style.
type Notifier struct {
	sender   NotificationSender
	template protocol.Notification
}

// NewNotifier creates a Notifier. Text of template is ignored; Title prefixes
// every message.
// Panics if sender is nil (programmer error).
func NewNotifier(sender NotificationSender, template protocol.Notification) *Notifier {
	if sender == nil {
		panic("clock: NewNotifier called with nil sender")
	}
	template.Text = ""
	return &Notifier{sender: sender, template: template}
}

// Notify shows text. Blank text is skipped.
func (n *Notifier) Notify(ctx context.Context, text string) ([]protocol.Warning, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	msg := n.template
	msg.Text = text
	return n.sender.SendNotification(ctx, msg)
}

// NotifyLines shows every non-blank line of r in order and returns the
// number of notifications sent. It stops at the first error.
func (n *Notifier) NotifyLines(ctx context.Context, r io.Reader) (int, error) {
	sent := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := n.Notify(ctx, line); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, scanner.Err()
}
