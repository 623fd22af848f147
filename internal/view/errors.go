package view

// Slot names one of the two places errors are shown.
type Slot int

const (
	// SlotAuth sits under the login/register forms.
	SlotAuth Slot = iota
	// SlotChat sits above the message list.
	SlotChat
)

func (s Slot) String() string {
	if s == SlotChat {
		return "chat"
	}
	return "auth"
}

// MsgConnectionError is shown in the chat slot when the realtime connection
// fails.
const MsgConnectionError = "Connection error. Please refresh the page."

// ErrorSlot is a single error message area: hidden until Show, emptied and
// hidden again by Clear.
type ErrorSlot struct {
	text    string
	visible bool
}

// Show replaces the current text and reveals the slot.
func (e *ErrorSlot) Show(text string) {
	e.text = text
	e.visible = true
}

// Clear hides the slot and empties it.
func (e *ErrorSlot) Clear() {
	e.text = ""
	e.visible = false
}

func (e ErrorSlot) Text() string  { return e.text }
func (e ErrorSlot) Visible() bool { return e.visible }
