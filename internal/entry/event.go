package entry

// Event is one user action fed into the machine. The transport decodes
// messages and button presses into these once; Machine.Handle switches on
// the concrete type.
type Event interface {
	isEvent()
}

// SubmitDetails carries the free-form "name, amount" text.
type SubmitDetails struct{ Text string }

type SelectPayer struct{ MemberID string }

// ToggleMember adds the member to the participants, or removes them if
// already selected.
type ToggleMember struct{ MemberID string }

type Finalize struct{}

type Cancel struct{}

func (SubmitDetails) isEvent() {}
func (SelectPayer) isEvent()   {}
func (ToggleMember) isEvent()  {}
func (Finalize) isEvent()      {}
func (Cancel) isEvent()        {}
