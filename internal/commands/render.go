package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/susu3304/warikanbot/internal/entry"
	"github.com/susu3304/warikanbot/internal/ledger"
)

var jst = time.FixedZone("JST", 9*60*60)

const helpText = `**割り勘ボット**
` + "`/warikan add`" + ` 支出を追加します (「名前, 金額」を送信 → 支払った人 → 割り勘する人)
` + "`/warikan balance`" + ` 各メンバーの収支を表示します
` + "`/warikan settle`" + ` 精算に必要な送金を表示します
` + "`/warikan history`" + ` 最近の支出を表示します (削除ボタン付き)
` + "`/warikan delete`" + ` 支出をIDで削除します
` + "`/warikan cancel`" + ` 入力中の支出を取り消します`

const welcomeText = "👋 こんにちは! グループの支出を管理する割り勘ボットです。\n\n" + helpText

const (
	msgAskDetails     = "📝 支出の内容を「名前, 金額」の形式で送信してください。\n例: 夕食, 3000"
	msgAskPayer       = "👥 支払った人を選んでください:"
	msgAskMembers     = "👥 割り勘する人を選んで「完了」を押してください:"
	msgNoMembers      = "❌ メンバーが選ばれていないため、支出は追加されませんでした。"
	msgCancelled      = "支出の入力を取り消しました。"
	msgNothingToAbort = "入力中の支出はありません。"
	msgStale          = "この操作は期限切れです。`/warikan add` からやり直してください。"
	msgDeleted        = "✅ 支出を削除しました。"
	msgNotFound       = "その支出は見つかりませんでした。既に削除されている可能性があります。"
	msgNoExpenses     = "支出はまだありません。"
	msgSettled        = "精算は不要です"
	msgGuildOnly      = "このコマンドはサーバー内でのみ使用できます。"
	msgUnknownSub     = "未知のサブコマンドです"
	msgUnknownMember  = "そのユーザーはこのグループのメンバーではありません。"
	msgStorage        = "保存に失敗しました。もう一度お試しください。"
	msgInternal       = "内部エラーが発生しました。管理者に連絡してください。"
	msgInvalid        = "❌ 支出の内容が正しくありません。"
	msgTimedOut       = "⌛ <@%s> さんの支出入力は一定時間操作がなかったため取り消されました。"
)

// parseErrorText explains a rejected "name, amount" message.
func parseErrorText(pe *entry.ParseError) string {
	var reason string
	switch pe.Kind {
	case entry.WrongFieldCount:
		reason = "項目の数が正しくありません。名前と金額をカンマで区切って2つだけ入力してください。"
	case entry.EmptyName:
		reason = "名前が空です。"
	case entry.NonNumericAmount:
		reason = "金額が数値ではありません。"
	case entry.NonPositiveAmount:
		reason = "金額は0より大きい値にしてください。"
	default:
		reason = "入力を読み取れませんでした。"
	}
	return "❌ " + reason + "\n\n「名前, 金額」の形式で入力してください。例: 夕食, 3000"
}

// errorText maps an error from the ledger or the entry flow to a message
// for the user.
func errorText(err error) string {
	var pe *entry.ParseError
	switch {
	case errors.As(err, &pe):
		return parseErrorText(pe)
	case errors.Is(err, entry.ErrNoSession), errors.Is(err, entry.ErrUnexpectedEvent):
		return msgStale
	case errors.Is(err, ledger.ErrEmptyParticipants):
		return msgNoMembers
	case errors.Is(err, ledger.ErrUnknownMember):
		return msgUnknownMember
	case ledger.IsNotFound(err):
		return msgNotFound
	case errors.Is(err, ledger.ErrInvalidExpense):
		return msgInvalid
	case ledger.IsInternal(err):
		return msgInternal
	case ledger.IsStorage(err):
		return msgStorage
	}
	return msgInternal
}

// names maps user ids to display names.
type names map[string]string

func namesOf(members []ledger.Member) names {
	n := make(names, len(members))
	for _, m := range members {
		n[m.UserID] = displayName(m)
	}
	return n
}

func (n names) get(uid string) string {
	if name, ok := n[uid]; ok {
		return name
	}
	return "Unknown"
}

func (n names) list(uids []string) string {
	out := make([]string, len(uids))
	for i, uid := range uids {
		out[i] = n.get(uid)
	}
	return strings.Join(out, ", ")
}

func renderCommitted(e *ledger.Expense, n names) string {
	var b strings.Builder
	b.WriteString("✅ 支出を追加しました:\n")
	fmt.Fprintf(&b, "**名前**: %s\n", e.Name)
	fmt.Fprintf(&b, "**金額**: %s\n", e.Amount.String())
	fmt.Fprintf(&b, "**支払**: %s\n", n.get(e.PayerID))
	fmt.Fprintf(&b, "**メンバー**: %s", n.list(e.Participants))
	return b.String()
}

func renderDetailsAccepted(d *entry.Draft) string {
	return fmt.Sprintf("📝 %s (%s)\n%s", d.Name, d.Amount.String(), msgAskPayer)
}

// renderMembersPrompt shows the draft and the current selection. note, when
// set, acknowledges the last toggle.
func renderMembersPrompt(d *entry.Draft, n names, note string) string {
	var b strings.Builder
	if note != "" {
		b.WriteString(note + "\n")
	}
	fmt.Fprintf(&b, "📝 %s (%s) 支払: %s\n", d.Name, d.Amount.String(), n.get(d.PayerID))
	b.WriteString(msgAskMembers)
	if len(d.Participants) > 0 {
		fmt.Fprintf(&b, "\n選択中 (%d名): %s", len(d.Participants), n.list(d.Participants))
	}
	return b.String()
}

func renderToggle(t entry.Toggle, name string) string {
	switch t {
	case entry.Added:
		return "➕ " + name + " を追加しました"
	case entry.Removed:
		return "➖ " + name + " を外しました"
	}
	return ""
}

// renderBalances lists every member in join order with a signed balance.
func renderBalances(members []ledger.Member, balances ledger.Balances) string {
	var b strings.Builder
	b.WriteString("💰 **収支**\n")
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		seen[m.UserID] = true
		fmt.Fprintf(&b, "%s: %s\n", displayName(m), signed(balances[m.UserID].StringFixed(2)))
	}
	for _, uid := range balances.UserIDs() {
		if !seen[uid] {
			fmt.Fprintf(&b, "Unknown: %s\n", signed(balances[uid].StringFixed(2)))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func signed(s string) string {
	if strings.HasPrefix(s, "-") || s == "0.00" {
		return s
	}
	return "+" + s
}

func renderSettlement(transfers []ledger.Transfer, n names) string {
	if len(transfers) == 0 {
		return msgSettled
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🤝 **精算方法** (%d件)\n", len(transfers))
	for _, t := range transfers {
		fmt.Fprintf(&b, "%s → %s: %s\n", n.get(t.From), n.get(t.To), t.Amount.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}

// maxMessageLength is Discord's limit on message content, in characters.
const maxMessageLength = 2000

// maxHistoryName bounds how much of an expense name a history entry shows.
const maxHistoryName = 100

// historyPage is one message of the history listing together with the
// expenses it shows, so each message carries its own delete buttons.
type historyPage struct {
	Content  string
	Expenses []ledger.Expense
}

// renderHistory splits the listing into pages that each fit in a message.
// It always returns at least one page.
func renderHistory(expenses []ledger.Expense, n names) []historyPage {
	if len(expenses) == 0 {
		return []historyPage{{Content: msgNoExpenses}}
	}

	var pages []historyPage
	var b strings.Builder
	fmt.Fprintf(&b, "📜 **最近の支出** (%d件)\n", len(expenses))
	page := historyPage{}
	for _, e := range expenses {
		entry := historyEntry(e, n)
		if len(page.Expenses) > 0 && utf8.RuneCountInString(b.String())+utf8.RuneCountInString(entry) > maxMessageLength {
			page.Content = strings.TrimRight(b.String(), "\n")
			pages = append(pages, page)
			page = historyPage{}
			b.Reset()
		}
		b.WriteString(entry)
		page.Expenses = append(page.Expenses, e)
	}
	page.Content = strings.TrimRight(b.String(), "\n")
	return append(pages, page)
}

func historyEntry(e ledger.Expense, n names) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n**#%d %s** - %s\n", e.ID, truncate(e.Name, maxHistoryName), e.Amount.String())
	fmt.Fprintf(&b, "👤 支払: %s\n", n.get(e.PayerID))
	fmt.Fprintf(&b, "👥 メンバー: %s\n", n.list(e.Participants))
	fmt.Fprintf(&b, "📅 %s\n", e.CreatedAt.In(jst).Format("2006-01-02 15:04"))
	return b.String()
}

// TimeoutNotice is posted to the channel when an idle draft is dropped.
func TimeoutNotice(d *entry.Draft) string {
	return fmt.Sprintf(msgTimedOut, d.UserID)
}
