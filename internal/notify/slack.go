package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slaguard/slaguard/internal/utils"
)

// SlackNotifier delivers escalation notices to Slack channels and DMs.
type SlackNotifier struct {
	client   *slack.Client
	resolver *channelResolver

	// DefaultChannel receives notices when a policy lists no channels.
	DefaultChannel string
}

// NewSlackNotifier creates a notifier from a bot token.
func NewSlackNotifier(botToken, defaultChannel string) *SlackNotifier {
	client := slack.New(botToken)
	return &SlackNotifier{
		client:         client,
		resolver:       newChannelResolver(client),
		DefaultChannel: defaultChannel,
	}
}

// Name implements Dispatcher.
func (s *SlackNotifier) Name() string { return "slack" }

// Send implements Dispatcher. Every listed channel receives the message;
// a partial failure is reported after the remaining channels are tried.
func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	channels := n.Channels
	if len(channels) == 0 && s.DefaultChannel != "" {
		channels = []string{s.DefaultChannel}
	}
	if len(channels) == 0 && len(n.RecipientSlackIDs) == 0 {
		return fmt.Errorf("no channels or recipients to notify")
	}

	text := s.formatMessage(n)

	var firstErr error
	for _, ch := range channels {
		id, err := s.resolver.resolve(ch)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, _, err := s.client.PostMessageContext(ctx, id,
			slack.MsgOptionText(text, false)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to post to %s: %w", ch, err)
			}
		}
	}

	// Direct-message the resolved recipients as well.
	for _, userID := range n.RecipientSlackIDs {
		channel, _, _, err := s.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users: []string{userID},
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to open DM with %s: %w", userID, err)
			}
			continue
		}
		if _, _, err := s.client.PostMessageContext(ctx, channel.ID,
			slack.MsgOptionText(text, false)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to DM %s: %w", userID, err)
			}
		}
	}

	return firstErr
}

func (s *SlackNotifier) formatMessage(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s*\n", n.Subject())
	fmt.Fprintf(&b, "Item: `%s`\n", n.ItemUUID)
	fmt.Fprintf(&b, "Deadline was %s, missed by %s\n",
		n.Deadline.Format("2006-01-02 15:04 MST"),
		utils.FormatDuration(n.BreachedAt.Sub(n.Deadline)))
	if n.Target != "" {
		fmt.Fprintf(&b, "Policy target: %s\n", n.Target)
	}
	if n.Role != "" {
		fmt.Fprintf(&b, "Escalated to role: %s\n", n.Role)
	}
	if len(n.RecipientSlackIDs) > 0 {
		mentions := make([]string, len(n.RecipientSlackIDs))
		for i, id := range n.RecipientSlackIDs {
			mentions[i] = fmt.Sprintf("<@%s>", id)
		}
		fmt.Fprintf(&b, "cc %s\n", strings.Join(mentions, " "))
	}
	return b.String()
}

// channelResolver resolves channel names to IDs with a small cache.
type channelResolver struct {
	client *slack.Client
	cache  map[string]string // name -> id
	mu     sync.RWMutex
}

func newChannelResolver(client *slack.Client) *channelResolver {
	return &channelResolver{
		client: client,
		cache:  make(map[string]string),
	}
}

// resolve accepts a channel ID (C...) or a name (#alerts or alerts) and
// returns the channel ID.
func (r *channelResolver) resolve(nameOrID string) (string, error) {
	if nameOrID == "" {
		return "", fmt.Errorf("channel name/ID is empty")
	}
	if isChannelID(nameOrID) {
		return nameOrID, nil
	}

	name := strings.TrimPrefix(nameOrID, "#")

	r.mu.RLock()
	if id, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	id, err := r.lookup(name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[name] = id
	r.mu.Unlock()

	log.Printf("Resolved Slack channel '%s' to '%s'", name, id)
	return id, nil
}

func (r *channelResolver) lookup(name string) (string, error) {
	cursor := ""
	for {
		channels, next, err := r.client.GetConversations(&slack.GetConversationsParameters{
			ExcludeArchived: true,
			Limit:           1000,
			Cursor:          cursor,
			Types:           []string{"public_channel", "private_channel"},
		})
		if err != nil {
			return "", fmt.Errorf("failed to list channels: %w", err)
		}
		for _, ch := range channels {
			if ch.Name == name {
				return ch.ID, nil
			}
		}
		if next == "" {
			return "", fmt.Errorf("channel '%s' not found", name)
		}
		cursor = next
	}
}

// isChannelID reports whether s looks like a Slack channel ID.
func isChannelID(s string) bool {
	if len(s) < 9 || (s[0] != 'C' && s[0] != 'G') {
		return false
	}
	for _, r := range s[1:] {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
