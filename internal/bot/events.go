package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/warikanbot/internal/commands"
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.log.Info("connected", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))

	// Register commands for all guilds
	for _, guild := range event.Guilds {
		if err := b.registerGuildCommands(guild.ID); err != nil {
			b.log.Error("register commands", zap.String("guild_id", guild.ID), zap.Error(err))
		}
	}
}

func (b *Bot) onGuildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	b.log.Info("guild available", zap.String("guild_id", event.ID), zap.String("name", event.Name))
	if err := b.warikan.JoinGuild(context.Background(), s, event.ID, event.Name, event.SystemChannelID); err != nil {
		b.log.Error("record group", zap.String("guild_id", event.ID), zap.Error(err))
	}
	if err := b.registerGuildCommands(event.ID); err != nil {
		b.log.Error("register commands", zap.String("guild_id", event.ID), zap.Error(err))
	}
}

func (b *Bot) registerGuildCommands(guildID string) error {
	cmds := commands.GetCommands()
	// Delete existing commands and register new ones
	_, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, guildID, cmds)
	if err != nil {
		return err
	}

	b.log.Debug("registered application commands", zap.String("guild_id", guildID))
	return nil
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	b.warikan.HandleMessage(s, m)
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if i.ApplicationCommandData().Name == "warikan" {
			b.warikan.HandleCommand(s, i)
		}
	case discordgo.InteractionMessageComponent:
		b.warikan.HandleComponent(s, i)
	}
}
