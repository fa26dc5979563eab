package render

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/illmade-knight/go-tdbridge/pkg/payload"
	"github.com/illmade-knight/go-tdbridge/pkg/types"
)

const (
	topicPlaceholder   = "${topic}"
	payloadPlaceholder = "${payload}"
	fieldPrefix        = "${payload."
	fieldSuffix        = "}"
)

var (
	// ErrBlank signals a statement that rendered to empty or whitespace-only text.
	ErrBlank = errors.New("rendered statement is blank")
	// ErrEmptyPayload signals a payload with no usable text.
	ErrEmptyPayload = errors.New("payload is empty")
	// ErrNoFields signals a JSON payload that decoded to an object without members.
	ErrNoFields = errors.New("payload has no fields")
)

// Context is everything a template can reference for one event.
type Context struct {
	Topic string
	// Fields holds the decoded members in json mode.
	Fields map[string]string
	// Raw holds the untouched payload in binary mode.
	Raw []byte
}

// Config configures a Renderer.
type Config struct {
	Template string
	Coder    payload.Coder
	// Lowercase folds the template to lower case once at construction.
	Lowercase bool
}

// Renderer turns publish events into SQL statements. It holds no mutable state.
type Renderer struct {
	template string
	coder    payload.Coder
}

// New creates a Renderer for the given template and payload coder.
func New(cfg Config) *Renderer {
	tmpl := cfg.Template
	if cfg.Lowercase {
		tmpl = strings.ToLower(tmpl)
	}
	coder := cfg.Coder
	if coder == "" {
		coder = payload.CoderJSON
	}
	return &Renderer{template: tmpl, coder: coder}
}

// Template returns the template the renderer substitutes into.
func (r *Renderer) Template() string {
	return r.template
}

// Coder returns the payload coder in use.
func (r *Renderer) Coder() payload.Coder {
	return r.coder
}

// Decode builds the render context for an event. In json mode the payload
// text is trimmed, quote-escaped as a whole and only then decoded.
func (r *Renderer) Decode(event types.PublishEvent) (Context, error) {
	if !event.HasPayload() {
		return Context{}, ErrEmptyPayload
	}
	if r.coder == payload.CoderBinary {
		return Context{Topic: event.Topic, Raw: event.Payload}, nil
	}

	text := strings.TrimSpace(string(event.Payload))
	if text == "" {
		return Context{}, ErrEmptyPayload
	}
	fields, err := payload.DecodeEscapedJSON(payload.EscapeQuotes(text))
	if err != nil {
		return Context{}, fmt.Errorf("failed to decode payload on %s: %w", event.Topic, err)
	}
	if len(fields) == 0 {
		return Context{}, ErrNoFields
	}
	return Context{Topic: event.Topic, Fields: fields}, nil
}

// Render decodes the event and substitutes it into the template.
func (r *Renderer) Render(event types.PublishEvent) (string, error) {
	c, err := r.Decode(event)
	if err != nil {
		return "", err
	}
	return r.RenderContext(c)
}

// RenderContext substitutes a prepared context into the template and
// returns ErrBlank when nothing but whitespace is left.
func (r *Renderer) RenderContext(c Context) (string, error) {
	var sql string
	if r.coder == payload.CoderBinary {
		sql = SubstituteBinary(r.template, c.Topic, c.Raw)
	} else {
		sql = SubstituteFields(r.template, c.Topic, c.Fields)
	}
	if strings.TrimSpace(sql) == "" {
		return "", ErrBlank
	}
	return sql, nil
}

// SubstituteBinary replaces ${topic} and then ${payload} with the standard
// base64 encoding of raw.
func SubstituteBinary(template, topic string, raw []byte) string {
	sql := strings.ReplaceAll(template, topicPlaceholder, topic)
	return strings.ReplaceAll(sql, payloadPlaceholder, base64.StdEncoding.EncodeToString(raw))
}

// SubstituteFields replaces ${topic} and then every ${payload.<key>} for the
// keys present in fields. Placeholders for absent keys are left untouched.
// Keys are visited in sorted order so that a value which itself looks like a
// placeholder always renders the same way.
func SubstituteFields(template, topic string, fields map[string]string) string {
	sql := strings.ReplaceAll(template, topicPlaceholder, topic)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.Reset()
		sb.WriteString(fieldPrefix)
		sb.WriteString(k)
		sb.WriteString(fieldSuffix)
		sql = strings.ReplaceAll(sql, sb.String(), fields[k])
	}
	return sql
}
