package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/warikanbot/internal/commands"
	"github.com/susu3304/warikanbot/internal/entry"
)

type Bot struct {
	session *discordgo.Session
	warikan *commands.Warikan
	expiry  *expiryWorker
	log     *zap.Logger
}

func New(token string, warikan *commands.Warikan, machine *entry.Machine, log *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	bot := &Bot{
		session: session,
		warikan: warikan,
		log:     log,
	}
	bot.expiry = newExpiryWorker(session, machine, log.Named("expiry"))

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.expiry.start()
	b.log.Info("discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	b.expiry.stop()
	return b.session.Close()
}
