package view

import (
	"html/template"
	"strings"
	"time"

	"github.com/whisper/chat-client/internal/protocol"
)

// Message classes.
const (
	ClassSystem = "system"
	ClassOwn    = "own"
	ClassOther  = "other"
)

// TimeLayout formats message times in the header.
const TimeLayout = "15:04:05"

// Rendered is a message ready for display. Fields hold raw text; escaping
// happens at output time.
type Rendered struct {
	Class    string
	Username string
	Time     string
	Content  string
}

// Header is "username • HH:MM:SS", just the username when the frame carried
// no time, and empty for system notices.
func (r Rendered) Header() string {
	if r.Class == ClassSystem {
		return ""
	}
	if r.Time == "" {
		return r.Username
	}
	return r.Username + " • " + r.Time
}

// Render classifies msg for the signed-in user and formats its time in loc.
// Ownership is an exact, case-sensitive username match.
func Render(msg protocol.InboundMessage, currentUser string, loc *time.Location) Rendered {
	if msg.IsSystem() {
		return Rendered{Class: ClassSystem, Content: msg.Content}
	}

	r := Rendered{
		Class:    ClassOther,
		Username: msg.Username,
		Content:  msg.Content,
	}
	if currentUser != "" && msg.Username == currentUser {
		r.Class = ClassOwn
	}
	if !msg.Time.IsZero() {
		if loc == nil {
			loc = time.Local
		}
		r.Time = msg.Time.In(loc).Format(TimeLayout)
	}
	return r
}

var messageTemplate = template.Must(template.New("message").Parse(
	`<div class="message {{.Class}}">` +
		`{{with .Header}}<div class="message-header">{{.}}</div>{{end}}` +
		`<div class="message-content">{{.Content}}</div>` +
		`</div>`))

// HTML returns the message as an escaped HTML fragment. Server-supplied text
// is never interpreted as markup.
func (r Rendered) HTML() string {
	var b strings.Builder
	if err := messageTemplate.Execute(&b, r); err != nil {
		// Only reachable on a writer error, which strings.Builder never returns.
		return ""
	}
	return b.String()
}
