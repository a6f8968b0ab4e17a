package commands

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/warikanbot/internal/entry"
	"github.com/susu3304/warikanbot/internal/ledger"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 25
)

// Session is the part of *discordgo.Session the handlers talk to.
type Session interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Warikan serves the /warikan command, its buttons and the free-form
// expense details typed into the channel.
type Warikan struct {
	ledger *ledger.Service
	entry  *entry.Machine
	log    *zap.Logger
}

func NewWarikan(svc *ledger.Service, machine *entry.Machine, log *zap.Logger) *Warikan {
	if log == nil {
		log = zap.NewNop()
	}
	return &Warikan{ledger: svc, entry: machine, log: log}
}

// HandleCommand dispatches a /warikan subcommand.
func (w *Warikan) HandleCommand(s Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		w.respondText(s, i, "サブコマンドが指定されていません")
		return
	}
	user := interactionUser(i)
	if i.GuildID == "" || user == nil {
		w.respondEphemeral(s, i, msgGuildOnly)
		return
	}
	w.enrol(ctx, i.GuildID, i.Member, user)

	sub := data.Options[0]
	switch sub.Name {
	case "add":
		if _, err := w.entry.Start(ctx, user.ID, i.GuildID, i.ChannelID); err != nil {
			w.respondError(s, i, err)
			return
		}
		w.respondText(s, i, msgAskDetails)
	case "balance":
		w.handleBalance(ctx, s, i)
	case "settle":
		w.handleSettle(ctx, s, i)
	case "history":
		limit := defaultHistoryLimit
		if v := getIntOption(sub.Options, "limit"); v != nil {
			limit = int(*v)
		}
		w.handleHistory(ctx, s, i, limit)
	case "delete":
		id := getIntOption(sub.Options, "id")
		if id == nil {
			w.respondText(s, i, "削除する支出のIDを指定してください")
			return
		}
		if err := w.ledger.DeleteExpense(ctx, i.GuildID, *id); err != nil {
			w.respondError(s, i, err)
			return
		}
		w.respondText(s, i, msgDeleted)
	case "cancel":
		if _, err := w.entry.Cancel(ctx, user.ID); err != nil {
			if errors.Is(err, entry.ErrNoSession) {
				w.respondEphemeral(s, i, msgNothingToAbort)
				return
			}
			w.respondError(s, i, err)
			return
		}
		w.respondText(s, i, msgCancelled)
	case "help":
		w.respondText(s, i, helpText)
	default:
		w.respondText(s, i, msgUnknownSub)
	}
}

func (w *Warikan) handleBalance(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	members, err := w.ledger.Members(ctx, i.GuildID)
	if err != nil {
		w.respondError(s, i, err)
		return
	}
	balances, err := w.ledger.Balances(ctx, i.GuildID)
	if err != nil {
		w.respondError(s, i, err)
		return
	}
	w.respondText(s, i, renderBalances(members, balances))
}

func (w *Warikan) handleSettle(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	members, err := w.ledger.Members(ctx, i.GuildID)
	if err != nil {
		w.respondError(s, i, err)
		return
	}
	transfers, err := w.ledger.PlanSettlement(ctx, i.GuildID)
	if err != nil {
		w.respondError(s, i, err)
		return
	}
	w.respondText(s, i, renderSettlement(transfers, namesOf(members)))
}

func (w *Warikan) handleHistory(ctx context.Context, s Session, i *discordgo.InteractionCreate, limit int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	members, err := w.ledger.Members(ctx, i.GuildID)
	if err != nil {
		w.respondError(s, i, err)
		return
	}
	expenses, err := w.ledger.History(ctx, i.GuildID, limit)
	if err != nil {
		w.respondError(s, i, err)
		return
	}
	pages := renderHistory(expenses, namesOf(members))
	w.respond(s, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Content:    pages[0].Content,
		Components: deleteButtons(pages[0].Expenses),
	})
	// Pages past the first go out as plain channel messages.
	for _, p := range pages[1:] {
		_, err := s.ChannelMessageSendComplex(i.ChannelID, &discordgo.MessageSend{
			Content:    p.Content,
			Components: deleteButtons(p.Expenses),
		})
		if err != nil {
			w.log.Warn("send history page", zap.String("channel_id", i.ChannelID), zap.Error(err))
			return
		}
	}
}

// HandleComponent handles a press on one of the warikan buttons.
func (w *Warikan) HandleComponent(s Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	data := i.MessageComponentData()
	if !isWarikanComponent(data.CustomID) {
		return
	}
	user := interactionUser(i)
	if i.GuildID == "" || user == nil {
		w.respondEphemeral(s, i, msgGuildOnly)
		return
	}
	w.enrol(ctx, i.GuildID, i.Member, user)

	c, err := decodeComponent(data.CustomID)
	if err != nil {
		w.log.Warn("undecodable component", zap.String("custom_id", data.CustomID), zap.Error(err))
		w.respondEphemeral(s, i, msgStale)
		return
	}

	if c.DeleteID != 0 {
		if err := w.ledger.DeleteExpense(ctx, i.GuildID, c.DeleteID); err != nil {
			w.respondError(s, i, err)
			return
		}
		w.respondText(s, i, msgDeleted)
		return
	}

	reply, err := w.entry.Handle(ctx, user.ID, c.Event)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrEmptyParticipants):
			w.updateMessage(s, i, msgNoMembers, nil)
		default:
			w.respondError(s, i, err)
		}
		return
	}

	switch reply.State {
	case entry.AwaitingMembers:
		members, err := w.ledger.Members(ctx, i.GuildID)
		if err != nil {
			w.respondError(s, i, err)
			return
		}
		n := namesOf(members)
		var note string
		if tm, ok := c.Event.(entry.ToggleMember); ok {
			note = renderToggle(reply.Toggle, n.get(tm.MemberID))
		}
		w.updateMessage(s, i, renderMembersPrompt(reply.Draft, n, note), memberKeyboard(members, reply.Draft))
	case entry.Committed:
		members, err := w.ledger.Members(ctx, i.GuildID)
		if err != nil {
			w.respondError(s, i, err)
			return
		}
		w.updateMessage(s, i, renderCommitted(reply.Expense, namesOf(members)), nil)
	case entry.Abandoned:
		w.updateMessage(s, i, msgCancelled, nil)
	default:
		w.log.Warn("unexpected reply state", zap.Stringer("state", reply.State), zap.String("custom_id", data.CustomID))
		w.respondEphemeral(s, i, msgStale)
	}
}

// HandleMessage enrols the author and, when they are being asked for
// expense details in this channel, feeds the text to their draft.
func (w *Warikan) HandleMessage(s Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	ctx := context.Background()
	w.enrol(ctx, m.GuildID, m.Member, m.Author)

	d, err := w.entry.Current(ctx, m.Author.ID)
	if err != nil {
		if !errors.Is(err, entry.ErrNoSession) {
			w.log.Error("load draft", zap.String("user_id", m.Author.ID), zap.Error(err))
		}
		return
	}
	if d.State != entry.AwaitingDetails || d.ChannelID != m.ChannelID || d.GroupID != m.GuildID {
		return
	}

	reply, err := w.entry.Handle(ctx, m.Author.ID, entry.SubmitDetails{Text: m.Content})
	if err != nil {
		w.send(s, m, errorText(err), nil)
		return
	}
	members, err := w.ledger.Members(ctx, m.GuildID)
	if err != nil {
		w.log.Error("list members", zap.String("group_id", m.GuildID), zap.Error(err))
		w.send(s, m, errorText(err), nil)
		return
	}
	w.send(s, m, renderDetailsAccepted(reply.Draft), payerKeyboard(members))
}

// JoinGuild records the guild and, the first time it is seen, posts the
// welcome text to channelID.
func (w *Warikan) JoinGuild(ctx context.Context, s Session, guildID, title, channelID string) error {
	created, err := w.ledger.RegisterGroup(ctx, guildID, title)
	if err != nil {
		return err
	}
	if !created || channelID == "" {
		return nil
	}
	if _, err := s.ChannelMessageSend(channelID, welcomeText); err != nil {
		w.log.Warn("send welcome", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
	}
	return nil
}

func (w *Warikan) enrol(ctx context.Context, guildID string, member *discordgo.Member, user *discordgo.User) {
	name := user.Username
	if member != nil && member.Nick != "" {
		name = member.Nick
	}
	if err := w.ledger.EnsureMember(ctx, guildID, user.ID, name); err != nil {
		w.log.Error("enrol member", zap.String("group_id", guildID), zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (w *Warikan) send(s Session, m *discordgo.MessageCreate, content string, components []discordgo.MessageComponent) {
	_, err := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content:    content,
		Components: components,
		Reference:  m.Reference(),
	})
	if err != nil {
		w.log.Warn("send message", zap.String("channel_id", m.ChannelID), zap.Error(err))
	}
}

func (w *Warikan) respondError(s Session, i *discordgo.InteractionCreate, err error) {
	switch {
	case ledger.IsInternal(err):
		w.log.Error("ledger invariant broken", zap.String("group_id", i.GuildID), zap.Error(err))
	case ledger.IsStorage(err):
		w.log.Error("storage failure", zap.String("group_id", i.GuildID), zap.Error(err))
	default:
		w.log.Debug("request rejected", zap.String("group_id", i.GuildID), zap.Error(err))
	}
	w.respondEphemeral(s, i, errorText(err))
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (w *Warikan) respond(s Session, i *discordgo.InteractionCreate, typ discordgo.InteractionResponseType, data *discordgo.InteractionResponseData) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: typ, Data: data}); err != nil {
		w.log.Error("interaction respond",
			zap.String("group_id", i.GuildID),
			zap.String("channel_id", i.ChannelID),
			zap.Int("content_length", len(data.Content)),
			zap.Error(err),
		)
	}
}

func (w *Warikan) respondText(s Session, i *discordgo.InteractionCreate, content string) {
	w.respond(s, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{Content: content})
}

func (w *Warikan) respondEphemeral(s Session, i *discordgo.InteractionCreate, content string) {
	w.respond(s, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

// updateMessage edits the message carrying the pressed button. A nil
// components slice clears the buttons.
func (w *Warikan) updateMessage(s Session, i *discordgo.InteractionCreate, content string, components []discordgo.MessageComponent) {
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	w.respond(s, i, discordgo.InteractionResponseUpdateMessage, &discordgo.InteractionResponseData{
		Content:    content,
		Components: components,
	})
}

func getIntOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *int64 {
	for _, o := range opts {
		if o.Name == name {
			v := o.IntValue()
			return &v
		}
	}
	return nil
}
