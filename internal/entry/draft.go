package entry

import (
	"time"

	"github.com/shopspring/decimal"
)

// Draft is an expense under construction, owned by one user.
type Draft struct {
	UserID       string          `json:"user_id"`
	GroupID      string          `json:"group_id"`
	ChannelID    string          `json:"channel_id"`
	State        State           `json:"state"`
	Name         string          `json:"name,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	PayerID      string          `json:"payer_id,omitempty"`
	Participants []string        `json:"participants,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// HasParticipant reports whether uid is currently selected.
func (d *Draft) HasParticipant(uid string) bool {
	return d.participantIndex(uid) >= 0
}

func (d *Draft) participantIndex(uid string) int {
	for i, p := range d.Participants {
		if p == uid {
			return i
		}
	}
	return -1
}

func (d *Draft) clone() *Draft {
	c := *d
	c.Participants = append([]string(nil), d.Participants...)
	return &c
}
