// Package notify delivers run summaries to chat channels. Delivery is
// best-effort: failures are logged, never returned to the sync pipeline.
package notify

import (
	"fmt"

	"github.com/fernwake/prodsync/internal/config"
	"github.com/fernwake/prodsync/internal/models"
)

// Notifier receives the terminal record of a finished run.
type Notifier interface {
	RunFinished(run models.SyncRun)
}

// Multi fans a run out to every configured notifier.
type Multi []Notifier

// RunFinished implements Notifier.
func (m Multi) RunFinished(run models.SyncRun) {
	for _, n := range m {
		n.RunFinished(run)
	}
}

// FromConfig builds the notifiers enabled in cfg. An empty Multi is valid
// and does nothing.
func FromConfig(cfg config.NotifyConfig) (Multi, error) {
	var out Multi
	if cfg.Slack.Token != "" {
		out = append(out, NewSlack(cfg.Slack.Token, cfg.Slack.Channel))
	}
	if cfg.Discord.Token != "" {
		d, err := NewDiscord(cfg.Discord.Token, cfg.Discord.ChannelID)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Summary renders a one-line human summary of a finished run.
func Summary(run models.SyncRun) string {
	switch run.Status {
	case models.RunFailed:
		return fmt.Sprintf("Sync %s (workspace %s) failed: %s", run.ID, run.WorkspaceID, run.ErrorMessage)
	default:
		return fmt.Sprintf(
			"Sync %s (workspace %s) %s: %d products, %d initiatives, %d components, %d features (%d sub), %d relationships, %d row errors",
			run.ID, run.WorkspaceID, run.Status,
			run.ProductsCount, run.InitiativesCount, run.ComponentsCount,
			run.FeaturesCount, run.SubFeaturesCount, run.RelationshipsCount, run.ErrorCount)
	}
}
