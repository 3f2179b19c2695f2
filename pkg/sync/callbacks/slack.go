// Package callbacks provides ready-made sync.ProgressCallback sinks for
// common observability destinations.
package callbacks

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/d365fo/d365fo-client-go/pkg/sync"
)

// SlackProgressNotifier posts a sync session's phase transitions and
// terminal outcome to a Slack channel. It only posts on phase boundaries
// and terminal states, never on per-item progress, to avoid flooding the
// channel.
type SlackProgressNotifier struct {
	client    *slack.Client
	channelID string

	lastPhase sync.Phase
}

// NewSlackProgressNotifier builds a notifier that posts to channelID using
// token (a Slack bot token with chat:write scope).
func NewSlackProgressNotifier(token, channelID string) *SlackProgressNotifier {
	return &SlackProgressNotifier{
		client:    slack.New(token),
		channelID: channelID,
	}
}

// Callback returns a sync.ProgressCallback suitable for
// Manager.AddProgressCallback. It is stateful per notifier instance, so
// one SlackProgressNotifier should back exactly one registered callback.
func (n *SlackProgressNotifier) Callback() sync.ProgressCallback {
	return func(session sync.SyncSession) {
		if session.CurrentPhase == n.lastPhase && !isTerminal(session.Status) {
			return
		}
		n.lastPhase = session.CurrentPhase

		text := fmt.Sprintf("sync %s: phase=%s status=%s progress=%.0f%%",
			session.SessionID, session.CurrentPhase, session.Status, session.ProgressPercent)
		if isTerminal(session.Status) {
			text = fmt.Sprintf("sync %s finished: status=%s", session.SessionID, session.Status)
			if session.Error != "" {
				text += " error=" + session.Error
			}
		}

		// Best effort: a Slack outage must never take down a sync session.
		_, _, _ = n.client.PostMessageContext(context.Background(), n.channelID, slack.MsgOptionText(text, false))
	}
}

func isTerminal(s sync.Status) bool {
	return s == sync.StatusCompleted || s == sync.StatusFailed || s == sync.StatusCancelled
}
