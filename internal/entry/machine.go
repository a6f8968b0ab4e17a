package entry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/warikanbot/internal/ledger"
)

var (
	// ErrNoSession means the user has no open draft, usually because a
	// button outlived its session.
	ErrNoSession = errors.New("entry: no open session")
	// ErrUnexpectedEvent means the event does not fit the draft's state.
	ErrUnexpectedEvent = errors.New("entry: unexpected event")
)

// DefaultTTL bounds how long an idle draft is kept.
const DefaultTTL = 15 * time.Minute

// Ledger is the part of the ledger service the machine writes through.
type Ledger interface {
	Member(ctx context.Context, groupID, userID string) (*ledger.Member, error)
	CommitExpense(ctx context.Context, e ledger.NewExpense) (*ledger.Expense, error)
}

// Reply is the outcome of one handled event.
type Reply struct {
	State   State
	Draft   *Draft          // nil once the draft is committed or abandoned
	Toggle  Toggle          // set for ToggleMember
	Expense *ledger.Expense // set when committed
}

// Machine runs the entry flow for every user. Operations for the same user
// are serialised; different users proceed in parallel.
type Machine struct {
	ledger   Ledger
	sessions SessionStore
	locks    *keyLock
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Machine)

// WithTTL sets the idle timeout. Zero or negative disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *Machine) { m.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

func NewMachine(l Ledger, sessions SessionStore, opts ...Option) *Machine {
	m := &Machine{
		ledger:   l,
		sessions: sessions,
		locks:    newKeyLock(),
		ttl:      DefaultTTL,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a new draft, replacing any draft the user already had.
func (m *Machine) Start(ctx context.Context, userID, groupID, channelID string) (*Draft, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	now := m.now()
	d := &Draft{
		UserID:    userID,
		GroupID:   groupID,
		ChannelID: channelID,
		State:     AwaitingDetails,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := m.sessions.Put(ctx, d); err != nil {
		return nil, err
	}
	m.log.Debug("entry started", zap.String("user_id", userID), zap.String("group_id", groupID))
	return d.clone(), nil
}

// Current returns the user's open draft.
func (m *Machine) Current(ctx context.Context, userID string) (*Draft, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.load(ctx, userID)
}

// Handle dispatches ev to the matching operation.
func (m *Machine) Handle(ctx context.Context, userID string, ev Event) (Reply, error) {
	switch e := ev.(type) {
	case SubmitDetails:
		d, err := m.SubmitDetails(ctx, userID, e.Text)
		return draftReply(d), err
	case SelectPayer:
		d, err := m.SelectPayer(ctx, userID, e.MemberID)
		return draftReply(d), err
	case ToggleMember:
		t, d, err := m.ToggleParticipant(ctx, userID, e.MemberID)
		r := draftReply(d)
		r.Toggle = t
		return r, err
	case Finalize:
		unlock := m.locks.Lock(userID)
		defer unlock()
		return m.finalize(ctx, userID)
	case Cancel:
		d, err := m.Cancel(ctx, userID)
		return draftReply(d), err
	default:
		return Reply{}, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}
}

// SubmitDetails parses "name, amount" and moves on to payer selection.
// A parse failure keeps the draft waiting for details and returns *ParseError.
func (m *Machine) SubmitDetails(ctx context.Context, userID, text string) (*Draft, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	d, err := m.loadIn(ctx, userID, AwaitingDetails)
	if err != nil {
		return d, err
	}
	name, amount, perr := ParseDetails(text)
	if perr == nil {
		d.Name = name
		d.Amount = amount
		d.State = AwaitingPayer
	}
	if err := m.save(ctx, d); err != nil {
		return nil, err
	}
	return d.clone(), perr
}

// SelectPayer records the payer and opens an empty participant set.
func (m *Machine) SelectPayer(ctx context.Context, userID, memberID string) (*Draft, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	d, err := m.loadIn(ctx, userID, AwaitingPayer)
	if err != nil {
		return d, err
	}
	if _, err := m.ledger.Member(ctx, d.GroupID, memberID); err != nil {
		return d, err
	}
	d.PayerID = memberID
	d.Participants = nil
	d.State = AwaitingMembers
	if err := m.save(ctx, d); err != nil {
		return nil, err
	}
	return d.clone(), nil
}

// ToggleParticipant adds memberID to the participants, or removes it if it
// is already there. Toggling twice restores the previous set.
func (m *Machine) ToggleParticipant(ctx context.Context, userID, memberID string) (Toggle, *Draft, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	d, err := m.loadIn(ctx, userID, AwaitingMembers)
	if err != nil {
		return 0, d, err
	}

	var t Toggle
	if i := d.participantIndex(memberID); i >= 0 {
		d.Participants = append(d.Participants[:i], d.Participants[i+1:]...)
		t = Removed
	} else {
		if _, err := m.ledger.Member(ctx, d.GroupID, memberID); err != nil {
			return 0, d, err
		}
		d.Participants = append(d.Participants, memberID)
		t = Added
	}
	if err := m.save(ctx, d); err != nil {
		return 0, nil, err
	}
	return t, d.clone(), nil
}

// Finalize commits the draft. With no participants the draft is discarded
// and ErrEmptyParticipants returned. If the ledger write fails the draft is
// kept so the user can retry.
func (m *Machine) Finalize(ctx context.Context, userID string) (*ledger.Expense, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	r, err := m.finalize(ctx, userID)
	return r.Expense, err
}

func (m *Machine) finalize(ctx context.Context, userID string) (Reply, error) {
	d, err := m.loadIn(ctx, userID, AwaitingMembers)
	if err != nil {
		return draftReply(d), err
	}

	if len(d.Participants) == 0 {
		if err := m.sessions.Delete(ctx, userID); err != nil {
			return draftReply(d), err
		}
		m.log.Info("entry abandoned", zap.String("user_id", userID), zap.String("reason", "no participants"))
		return Reply{State: Abandoned}, ledger.ErrEmptyParticipants
	}

	e, err := m.ledger.CommitExpense(ctx, ledger.NewExpense{
		GroupID:      d.GroupID,
		Name:         d.Name,
		Amount:       d.Amount,
		PayerID:      d.PayerID,
		CreatedAt:    m.now(),
		Participants: d.Participants,
	})
	if err != nil {
		m.log.Warn("commit failed, draft kept", zap.String("user_id", userID), zap.Error(err))
		return draftReply(d), err
	}

	if err := m.sessions.Delete(ctx, userID); err != nil {
		m.log.Warn("drop committed draft", zap.String("user_id", userID), zap.Error(err))
	}
	return Reply{State: Committed, Expense: e}, nil
}

// Cancel discards the user's draft.
func (m *Machine) Cancel(ctx context.Context, userID string) (*Draft, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	d, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.sessions.Delete(ctx, userID); err != nil {
		return nil, err
	}
	d.State = Abandoned
	return d, nil
}

// Expire drops drafts idle for longer than the TTL and returns them, so the
// caller can tell their owners. Stores that cannot list their drafts expire
// entries themselves and yield nothing here.
func (m *Machine) Expire(ctx context.Context) ([]*Draft, error) {
	lister, ok := m.sessions.(Lister)
	if !ok || m.ttl <= 0 {
		return nil, nil
	}
	drafts, err := lister.List(ctx)
	if err != nil {
		return nil, err
	}

	var expired []*Draft
	for _, candidate := range drafts {
		if !m.idle(candidate) {
			continue
		}
		d, err := m.expireOne(ctx, candidate.UserID)
		if err != nil {
			return expired, err
		}
		if d != nil {
			expired = append(expired, d)
		}
	}
	return expired, nil
}

func (m *Machine) expireOne(ctx context.Context, userID string) (*Draft, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	// Re-read under the lock; the user may have acted since List.
	d, err := m.sessions.Get(ctx, userID)
	if errors.Is(err, ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !m.idle(d) {
		return nil, nil
	}
	if err := m.sessions.Delete(ctx, userID); err != nil {
		return nil, err
	}
	m.log.Info("entry expired", zap.String("user_id", userID), zap.Stringer("state", d.State))
	d.State = Abandoned
	return d, nil
}

func (m *Machine) idle(d *Draft) bool {
	return m.ttl > 0 && m.now().Sub(d.UpdatedAt) > m.ttl
}

// load returns the user's draft, treating one idle past the TTL as gone.
func (m *Machine) load(ctx context.Context, userID string) (*Draft, error) {
	d, err := m.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if m.idle(d) {
		if err := m.sessions.Delete(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrNoSession
	}
	return d, nil
}

func (m *Machine) loadIn(ctx context.Context, userID string, want State) (*Draft, error) {
	d, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if d.State != want {
		return d, fmt.Errorf("%w: draft is %s, want %s", ErrUnexpectedEvent, d.State, want)
	}
	return d, nil
}

func (m *Machine) save(ctx context.Context, d *Draft) error {
	d.UpdatedAt = m.now()
	return m.sessions.Put(ctx, d)
}

func draftReply(d *Draft) Reply {
	if d == nil {
		return Reply{}
	}
	return Reply{State: d.State, Draft: d}
}
