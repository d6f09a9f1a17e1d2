package notify

import (
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/fernwake/prodsync/internal/models"
)

// discordSender abstracts the discordgo method we use, enabling test mocks.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts run summaries to a Discord channel.
type DiscordNotifier struct {
	sender    discordSender
	channelID string
}

// NewDiscord returns a DiscordNotifier using a bot token.
func NewDiscord(token, channelID string) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &DiscordNotifier{sender: session, channelID: channelID}, nil
}

// RunFinished implements Notifier.
func (d *DiscordNotifier) RunFinished(run models.SyncRun) {
	if _, err := d.sender.ChannelMessageSend(d.channelID, Summary(run)); err != nil {
		log.Printf("notify: discord post for run %s: %v", run.ID, err)
	}
}
