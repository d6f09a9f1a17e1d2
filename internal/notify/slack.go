package notify

import (
	"log"

	slackapi "github.com/slack-go/slack"

	"github.com/fernwake/prodsync/internal/models"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackNotifier posts run summaries to a Slack channel.
type SlackNotifier struct {
	client  slackClient
	channel string
}

// NewSlack returns a SlackNotifier authenticated with token.
func NewSlack(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slackapi.New(token), channel: channel}
}

// RunFinished implements Notifier.
func (s *SlackNotifier) RunFinished(run models.SyncRun) {
	_, _, err := s.client.PostMessage(s.channel, slackapi.MsgOptionText(Summary(run), false))
	if err != nil {
		log.Printf("notify: slack post for run %s: %v", run.ID, err)
	}
}
