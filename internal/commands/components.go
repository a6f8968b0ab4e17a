package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/warikanbot/internal/entry"
	"github.com/susu3304/warikanbot/internal/ledger"
)

const (
	customIDPrefix = "warikan:"

	maxMemberButtons = 20
	buttonsPerRow    = 5
	maxLabelLength   = 80
)

func payerCustomID(uid string) string         { return customIDPrefix + "payer:" + uid }
func memberCustomID(uid string) string        { return customIDPrefix + "member:" + uid }
func deleteCustomID(id int64) string          { return customIDPrefix + "delete:" + strconv.FormatInt(id, 10) }
func isWarikanComponent(customID string) bool { return strings.HasPrefix(customID, customIDPrefix) }

const (
	doneCustomID   = customIDPrefix + "done"
	cancelCustomID = customIDPrefix + "cancel"
)

// component is a decoded button press: either an entry event or a request
// to delete an expense from the history listing.
type component struct {
	Event    entry.Event
	DeleteID int64
}

// decodeComponent turns a button custom id into a typed action.
func decodeComponent(customID string) (component, error) {
	rest, ok := strings.CutPrefix(customID, customIDPrefix)
	if !ok {
		return component{}, fmt.Errorf("unknown component %q", customID)
	}
	switch rest {
	case "done":
		return component{Event: entry.Finalize{}}, nil
	case "cancel":
		return component{Event: entry.Cancel{}}, nil
	}

	kind, arg, ok := strings.Cut(rest, ":")
	if !ok || arg == "" {
		return component{}, fmt.Errorf("unknown component %q", customID)
	}
	switch kind {
	case "payer":
		return component{Event: entry.SelectPayer{MemberID: arg}}, nil
	case "member":
		return component{Event: entry.ToggleMember{MemberID: arg}}, nil
	case "delete":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return component{}, fmt.Errorf("bad expense id in %q", customID)
		}
		return component{DeleteID: id}, nil
	}
	return component{}, fmt.Errorf("unknown component %q", customID)
}

// payerKeyboard lists the group's members; pressing one selects the payer.
func payerKeyboard(members []ledger.Member) []discordgo.MessageComponent {
	buttons := make([]discordgo.Button, 0, len(members))
	for _, m := range limitMembers(members) {
		buttons = append(buttons, discordgo.Button{
			Label:    buttonLabel(displayName(m)),
			Style:    discordgo.SecondaryButton,
			CustomID: payerCustomID(m.UserID),
		})
	}
	rows := buttonRows(buttons)
	return append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{cancelButton()}})
}

// memberKeyboard lists the members as toggles. Selected members are
// highlighted and prefixed with 🔘.
func memberKeyboard(members []ledger.Member, d *entry.Draft) []discordgo.MessageComponent {
	buttons := make([]discordgo.Button, 0, len(members))
	for _, m := range limitMembers(members) {
		label := displayName(m)
		style := discordgo.SecondaryButton
		if d != nil && d.HasParticipant(m.UserID) {
			label = "🔘 " + label
			style = discordgo.PrimaryButton
		}
		buttons = append(buttons, discordgo.Button{
			Label:    buttonLabel(label),
			Style:    style,
			CustomID: memberCustomID(m.UserID),
		})
	}
	rows := buttonRows(buttons)
	return append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "完了", Style: discordgo.SuccessButton, CustomID: doneCustomID},
		cancelButton(),
	}})
}

// deleteButtons offers one delete button per listed expense.
func deleteButtons(expenses []ledger.Expense) []discordgo.MessageComponent {
	buttons := make([]discordgo.Button, 0, len(expenses))
	for _, e := range expenses {
		buttons = append(buttons, discordgo.Button{
			Label:    buttonLabel(fmt.Sprintf("🗑 #%d %s", e.ID, e.Name)),
			Style:    discordgo.DangerButton,
			CustomID: deleteCustomID(e.ID),
		})
	}
	return buttonRows(buttons)
}

func cancelButton() discordgo.Button {
	return discordgo.Button{Label: "キャンセル", Style: discordgo.DangerButton, CustomID: cancelCustomID}
}

func buttonRows(buttons []discordgo.Button) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(buttons); start += buttonsPerRow {
		end := min(start+buttonsPerRow, len(buttons))
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			row.Components = append(row.Components, b)
		}
		rows = append(rows, row)
	}
	return rows
}

func limitMembers(members []ledger.Member) []ledger.Member {
	if len(members) > maxMemberButtons {
		return members[:maxMemberButtons]
	}
	return members
}

func buttonLabel(s string) string {
	return truncate(s, maxLabelLength)
}

// truncate shortens s to at most limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}

func displayName(m ledger.Member) string {
	if m.Name != "" {
		return m.Name
	}
	return m.UserID
}
