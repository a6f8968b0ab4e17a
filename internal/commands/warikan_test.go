package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/susu3304/warikanbot/internal/db/memory"
	"github.com/susu3304/warikanbot/internal/entry"
	"github.com/susu3304/warikanbot/internal/ledger"
)

type fakeSession struct {
	mu         sync.Mutex
	responses  []*discordgo.InteractionResponse
	messages   []*discordgo.MessageSend
	respondErr error
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return f.respondErr
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: content})
}

func (f *fakeSession) ChannelMessageSendComplex(_ string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, data)
	return &discordgo.Message{Content: data.Content}, nil
}

func (f *fakeSession) lastResponse(t *testing.T) *discordgo.InteractionResponse {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.responses)
	return f.responses[len(f.responses)-1]
}

func (f *fakeSession) lastMessage(t *testing.T) *discordgo.MessageSend {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

type harness struct {
	w     *Warikan
	s     *fakeSession
	store *memory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	svc := ledger.NewService(store, nil)
	machine := entry.NewMachine(svc, entry.NewMemoryStore())
	h := &harness{w: NewWarikan(svc, machine, nil), s: &fakeSession{}, store: store}

	require.NoError(t, h.w.JoinGuild(context.Background(), h.s, "g1", "Trip", ""))
	for _, u := range []struct{ id, name string }{{"a", "Alice"}, {"b", "Bob"}, {"c", "Carol"}} {
		h.message(u.id, "ch1", "hello")
	}
	return h
}

func member(uid string) *discordgo.Member {
	names := map[string]string{"a": "Alice", "b": "Bob", "c": "Carol"}
	return &discordgo.Member{User: &discordgo.User{ID: uid, Username: names[uid]}}
}

func (h *harness) command(uid, sub string, opts ...*discordgo.ApplicationCommandInteractionDataOption) {
	h.w.HandleCommand(h.s, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "ch1",
		Member:    member(uid),
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "warikan",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name:    sub,
				Type:    discordgo.ApplicationCommandOptionSubCommand,
				Options: opts,
			}},
		},
	}})
}

func (h *harness) press(uid, customID string) {
	h.w.HandleComponent(h.s, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   "g1",
		ChannelID: "ch1",
		Member:    member(uid),
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID},
	}})
}

func (h *harness) message(uid, channelID, content string) {
	h.w.HandleMessage(h.s, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m-" + content,
		ChannelID: channelID,
		GuildID:   "g1",
		Content:   content,
		Author:    member(uid).User,
		Member:    &discordgo.Member{},
	}})
}

func intOpt(name string, v int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(v),
	}
}

func customIDs(components []discordgo.MessageComponent) []string {
	var ids []string
	for _, c := range components {
		row, ok := c.(discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if b, ok := inner.(discordgo.Button); ok {
				ids = append(ids, b.CustomID)
			}
		}
	}
	return ids
}

func TestWarikan_AddExpenseFlow(t *testing.T) {
	h := newHarness(t)

	h.command("a", "add")
	assert.Equal(t, msgAskDetails, h.s.lastResponse(t).Data.Content)

	// Other channels and other users do not feed the draft.
	h.message("a", "ch2", "Dinner, 100")
	h.message("b", "ch1", "Dinner, 100")
	cur, err := h.w.entry.Current(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, entry.AwaitingDetails, cur.State)

	h.message("a", "ch1", "Dinner")
	assert.Contains(t, h.s.lastMessage(t).Content, "項目の数")

	h.message("a", "ch1", "Dinner, 100")
	msg := h.s.lastMessage(t)
	assert.Contains(t, msg.Content, "支払った人")
	assert.Equal(t, []string{payerCustomID("a"), payerCustomID("b"), payerCustomID("c"), cancelCustomID}, customIDs(msg.Components))

	h.press("a", payerCustomID("a"))
	resp := h.s.lastResponse(t)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
	assert.Contains(t, customIDs(resp.Data.Components), doneCustomID)

	h.press("a", memberCustomID("a"))
	assert.Contains(t, h.s.lastResponse(t).Data.Content, "➕ Alice を追加しました")
	h.press("a", memberCustomID("b"))
	h.press("a", memberCustomID("c"))
	resp = h.s.lastResponse(t)
	assert.Contains(t, resp.Data.Content, "➕ Carol を追加しました")
	assert.Contains(t, resp.Data.Content, "Alice, Bob, Carol")
	first := resp.Data.Components[0].(discordgo.ActionsRow).Components[0].(discordgo.Button)
	assert.Equal(t, "🔘 Alice", first.Label)
	assert.Equal(t, discordgo.PrimaryButton, first.Style)

	h.press("a", doneCustomID)
	resp = h.s.lastResponse(t)
	assert.Contains(t, resp.Data.Content, "支出を追加しました")
	assert.Contains(t, resp.Data.Content, "**支払**: Alice")
	assert.Empty(t, resp.Data.Components)

	h.command("b", "balance")
	out := h.s.lastResponse(t).Data.Content
	assert.Contains(t, out, "Alice: +66.67")
	assert.Contains(t, out, "Bob: -33.33")

	h.command("b", "settle")
	out = h.s.lastResponse(t).Data.Content
	assert.Contains(t, out, "Bob → Alice: 33.33")
	assert.Contains(t, out, "Carol → Alice: 33.33")
}

func TestWarikan_EmptyParticipants(t *testing.T) {
	h := newHarness(t)
	h.command("a", "add")
	h.message("a", "ch1", "Taxi, 30")
	h.press("a", payerCustomID("b"))
	h.press("a", memberCustomID("a"))
	h.press("a", memberCustomID("a"))
	assert.Contains(t, h.s.lastResponse(t).Data.Content, "➖ Alice を外しました")
	h.press("a", doneCustomID)

	assert.Equal(t, msgNoMembers, h.s.lastResponse(t).Data.Content)
	list, err := h.store.ListExpenses(context.Background(), "g1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWarikan_StaleButtons(t *testing.T) {
	h := newHarness(t)

	h.press("a", memberCustomID("b"))
	resp := h.s.lastResponse(t)
	assert.Equal(t, msgStale, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	h.press("a", "warikan:bogus")
	assert.Equal(t, msgStale, h.s.lastResponse(t).Data.Content)

	n := len(h.s.responses)
	h.press("a", "other:thing")
	assert.Len(t, h.s.responses, n)
}

func TestWarikan_HistoryAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := h.w.ledger
	for i := 1; i <= 3; i++ {
		_, err := svc.CommitExpense(ctx, ledger.NewExpense{
			GroupID: "g1", Name: fmt.Sprintf("item%d", i), Amount: mustDecimal(t, "10"),
			PayerID: "a", Participants: []string{"a", "b"},
		})
		require.NoError(t, err)
	}

	h.command("a", "history", intOpt("limit", 2))
	resp := h.s.lastResponse(t)
	assert.Contains(t, resp.Data.Content, "(2件)")
	assert.Contains(t, resp.Data.Content, "👥 メンバー: Alice, Bob")
	ids := customIDs(resp.Data.Components)
	require.Len(t, ids, 2)

	h.press("b", ids[0])
	assert.Equal(t, msgDeleted, h.s.lastResponse(t).Data.Content)
	h.press("b", ids[0])
	assert.Equal(t, msgNotFound, h.s.lastResponse(t).Data.Content)

	h.command("a", "delete", intOpt("id", 1))
	assert.Equal(t, msgDeleted, h.s.lastResponse(t).Data.Content)

	list, err := h.store.ListExpenses(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWarikan_CancelAndHelp(t *testing.T) {
	h := newHarness(t)

	h.command("a", "cancel")
	assert.Equal(t, msgNothingToAbort, h.s.lastResponse(t).Data.Content)

	h.command("a", "add")
	h.command("a", "cancel")
	assert.Equal(t, msgCancelled, h.s.lastResponse(t).Data.Content)

	h.command("a", "help")
	assert.True(t, strings.Contains(h.s.lastResponse(t).Data.Content, "/warikan add"))

	h.command("a", "settle")
	assert.Equal(t, msgSettled, h.s.lastResponse(t).Data.Content)
}

func TestWarikan_EnrolsMembers(t *testing.T) {
	h := newHarness(t)
	h.message("d", "ch1", "hi")
	h.command("e", "help")

	members, err := h.store.ListMembers(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, members, 5)
}

func TestWarikan_JoinGuildWelcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sent := len(h.s.messages)

	require.NoError(t, h.w.JoinGuild(ctx, h.s, "g2", "Flat", "sys"))
	require.Len(t, h.s.messages, sent+1)
	assert.Equal(t, welcomeText, h.s.lastMessage(t).Content)

	// Reconnects and known guilds stay quiet.
	require.NoError(t, h.w.JoinGuild(ctx, h.s, "g2", "Flat", "sys"))
	require.NoError(t, h.w.JoinGuild(ctx, h.s, "g1", "Trip", "sys"))
	assert.Len(t, h.s.messages, sent+1)
}

func TestWarikan_HistoryFitsMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []struct{ id, name string }{
		{"d", "Alexander Hamilton"}, {"e", "Elizabeth Schuyler"}, {"f", "Marquis de Lafayette"},
	} {
		require.NoError(t, h.w.ledger.EnsureMember(ctx, "g1", u.id, u.name))
	}
	for i := 1; i <= maxHistoryLimit; i++ {
		_, err := h.w.ledger.CommitExpense(ctx, ledger.NewExpense{
			GroupID: "g1", Name: fmt.Sprintf("居酒屋での打ち上げ 二次会 %d", i), Amount: mustDecimal(t, "12345.67"),
			PayerID: "d", Participants: []string{"a", "b", "c", "d", "e", "f"},
		})
		require.NoError(t, err)
	}
	sent := len(h.s.messages)

	h.command("a", "history", intOpt("limit", maxHistoryLimit))

	resp := h.s.lastResponse(t)
	assert.Contains(t, resp.Data.Content, fmt.Sprintf("(%d件)", maxHistoryLimit))
	contents := []string{resp.Data.Content}
	ids := customIDs(resp.Data.Components)
	for _, m := range h.s.messages[sent:] {
		contents = append(contents, m.Content)
		ids = append(ids, customIDs(m.Components)...)
	}
	require.Greater(t, len(contents), 1)
	for i, c := range contents {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), maxMessageLength, "message %d", i)
	}
	assert.Len(t, ids, maxHistoryLimit)
	assert.Equal(t, maxHistoryLimit, strings.Count(strings.Join(contents, "\n"), "👤 支払: Alexander Hamilton"))
}

func TestWarikan_RespondErrorLogged(t *testing.T) {
	h := newHarness(t)
	core, logs := observer.New(zap.WarnLevel)
	h.w.log = zap.New(core)
	h.s.respondErr = errors.New("HTTP 400 Bad Request")

	h.command("a", "help")

	entries := logs.FilterMessage("interaction respond").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "g1", entries[0].ContextMap()["group_id"])
	assert.Equal(t, "HTTP 400 Bad Request", entries[0].ContextMap()["error"])
}
