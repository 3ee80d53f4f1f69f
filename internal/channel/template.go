package channel

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// DefaultTemplates holds one body template per channel. Placeholders:
// {type} {message} {priority} {server} {id}.
var DefaultTemplates = map[string]string{
	Email:    "{message}\n\nServer: {server}\nPriority: {priority}\nAlert: {type}",
	Slack:    ":rotating_light: *[{priority}] {type}* {message}",
	Discord:  "**[{priority}] {type}** {message}",
	Telegram: "[{priority}] {type}: {message}",
	SMS:      "[{priority}] {type}: {message}",
	Webhook:  "[{priority}] {type}: {message}",
}

const DefaultEmailSubject = "[{priority}] {type} alert on {server}"

// Template is a parsed placeholder template.
type Template struct {
	raw string
	t   *fasttemplate.Template
}

func ParseTemplate(s string) (*Template, error) {
	t, err := fasttemplate.NewTemplate(s, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	return &Template{raw: s, t: t}, nil
}

// MustTemplate parses s or falls back to "{message}" when s is invalid.
func MustTemplate(s string) *Template {
	t, err := ParseTemplate(s)
	if err != nil {
		t, _ = ParseTemplate("{message}")
	}
	return t
}

// templateFor returns the override when set, else the package default.
func templateFor(key, override string) *Template {
	if strings.TrimSpace(override) != "" {
		return MustTemplate(override)
	}
	return MustTemplate(DefaultTemplates[key])
}

func (t *Template) String() string { return t.raw }

// Render substitutes msg fields. Unknown placeholders are kept verbatim.
func (t *Template) Render(msg Message) string {
	s, err := t.t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		switch strings.TrimSpace(tag) {
		case "type":
			return io.WriteString(w, msg.Type)
		case "message":
			return io.WriteString(w, msg.Text)
		case "priority":
			return io.WriteString(w, strings.ToUpper(msg.Priority))
		case "server":
			return io.WriteString(w, msg.ServerID)
		case "id":
			return io.WriteString(w, msg.EntryID)
		default:
			return io.WriteString(w, "{"+tag+"}")
		}
	})
	if err != nil {
		return msg.Text
	}
	return s
}
