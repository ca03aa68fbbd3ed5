// Package slack implements a notifier.Notifier that posts moderator
// alerts to a Slack channel through the Web API.
package slack

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/slack-go/slack"

	"github.com/Strob0t/ModGuard/internal/port/notifier"
)

const providerName = "slack"

var _ notifier.Notifier = (*Notifier)(nil)

// Notifier posts alerts with chat.postMessage.
type Notifier struct {
	api     *slack.Client
	channel string
}

// NewNotifier creates a Slack notifier. An empty token or channel yields
// a notifier whose Send returns notifier.ErrNotConfigured.
func NewNotifier(token, channel string, opts ...slack.Option) *Notifier {
	var api *slack.Client
	if token != "" {
		api = slack.New(token, opts...)
	}
	return &Notifier{api: api, channel: channel}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.api == nil || n.channel == "" {
		return notifier.ErrNotConfigured
	}

	header := fmt.Sprintf("%s %s", levelTag(notification.Level), notification.Title)
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, notification.Message, false, false), fieldObjects(notification), nil),
	}
	if notification.Source != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "_Source: "+notification.Source+"_", false, false)))
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(header, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

func fieldObjects(n notifier.Notification) []*slack.TextBlockObject {
	fields := make(map[string]string, len(n.Fields)+2)
	for k, v := range n.Fields {
		fields[k] = v
	}
	if n.CaseID != "" {
		fields["case"] = n.CaseID
	}
	if n.AppealID != "" {
		fields["appeal"] = n.AppealID
	}
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*slack.TextBlockObject, 0, len(keys))
	for _, k := range keys {
		text := fmt.Sprintf("*%s*\n%s", strings.ReplaceAll(k, "_", " "), fields[k])
		out = append(out, slack.NewTextBlockObject(slack.MarkdownType, text, false, false))
	}
	return out
}

func levelTag(level string) string {
	switch level {
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
