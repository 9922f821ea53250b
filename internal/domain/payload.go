package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PayloadType discriminates the related_content of a chat frame.
type PayloadType string

const (
	PayloadCreate PayloadType = "create"
	PayloadNew    PayloadType = "new"
	PayloadSent   PayloadType = "sent"
	PayloadRead   PayloadType = "read"
	PayloadError  PayloadType = "error"
	PayloadPing   PayloadType = "ping"
	PayloadPong   PayloadType = "pong"
)

// newContent returns an empty content value of the schema bound to t.
func newContent(t PayloadType) (Content, bool) {
	switch t {
	case PayloadCreate:
		return &MessageCreate{}, true
	case PayloadNew:
		return &MessageRead{}, true
	case PayloadSent:
		return &MessageSent{}, true
	case PayloadRead:
		return &TargetUser{}, true
	case PayloadError:
		return &MessageError{}, true
	case PayloadPing, PayloadPong:
		return &PingPong{}, true
	default:
		return nil, false
	}
}

// boundTo reports whether c is the schema bound to t.
func boundTo(t PayloadType, c Content) bool {
	switch c.(type) {
	case *MessageCreate:
		return t == PayloadCreate
	case *MessageRead:
		return t == PayloadNew
	case *MessageSent:
		return t == PayloadSent
	case *TargetUser:
		return t == PayloadRead
	case *MessageError:
		return t == PayloadError
	case *PingPong:
		return t == PayloadPing || t == PayloadPong
	default:
		return false
	}
}

// Payload is one chat frame.
type Payload struct {
	Type      PayloadType
	Content   Content
	Timestamp string
}

type wirePayload struct {
	PayloadType    PayloadType     `json:"payload_type"`
	RelatedContent json.RawMessage `json:"related_content"`
	Timestamp      string          `json:"timestamp"`
}

// NewPayload builds an outbound payload stamped with the current time.
func NewPayload(t PayloadType, c Content) *Payload {
	return &Payload{Type: t, Content: c, Timestamp: NowTimestamp()}
}

// NewErrorPayload builds an error payload with the given message.
func NewErrorPayload(msg string) *Payload {
	return NewPayload(PayloadError, &MessageError{Error: msg})
}

// Validate checks that the content matches the type and satisfies its schema.
func (p *Payload) Validate() error {
	var issues []FieldIssue
	if _, ok := newContent(p.Type); !ok {
		issues = append(issues, FieldIssue{"payload_type", fmt.Sprintf("unknown payload type %q", p.Type)})
	}
	switch {
	case p.Content == nil:
		issues = append(issues, FieldIssue{"related_content", "required"})
	case !boundTo(p.Type, p.Content):
		issues = append(issues, FieldIssue{"related_content", fmt.Sprintf("incorrect schema for type %s", p.Type)})
	default:
		issues = append(issues, prefixed(p.Content.validate())...)
	}
	if _, err := ParseTimestamp(p.Timestamp); err != nil {
		issues = append(issues, FieldIssue{"timestamp", "must be an ISO-8601 timestamp"})
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// MarshalJSON encodes the payload in its wire form.
func (p *Payload) MarshalJSON() ([]byte, error) {
	content, err := json.Marshal(p.Content)
	if err != nil {
		return nil, err
	}
	ts := p.Timestamp
	if ts == "" {
		ts = NowTimestamp()
	}
	return json.Marshal(wirePayload{
		PayloadType:    p.Type,
		RelatedContent: content,
		Timestamp:      ts,
	})
}

// Encode validates and serializes the payload.
func (p *Payload) Encode() ([]byte, error) {
	if p.Timestamp == "" {
		p.Timestamp = NowTimestamp()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// DecodePayload parses and validates a raw frame. Every problem found is
// reported in the returned *ValidationError.
func DecodePayload(raw []byte) (*Payload, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return nil, &ValidationError{Issues: []FieldIssue{{"", "frame must be a JSON object"}}}
	}

	var issues []FieldIssue
	p := &Payload{}

	var content Content
	if rawType, ok := envelope["payload_type"]; !ok {
		issues = append(issues, FieldIssue{"payload_type", "required"})
	} else if err := json.Unmarshal(rawType, &p.Type); err != nil {
		issues = append(issues, FieldIssue{"payload_type", "must be a string"})
	} else if content, ok = newContent(p.Type); !ok {
		issues = append(issues, FieldIssue{"payload_type", fmt.Sprintf("unknown payload type %q", p.Type)})
	}

	rawContent, ok := envelope["related_content"]
	switch {
	case !ok || isNull(rawContent):
		issues = append(issues, FieldIssue{"related_content", "required"})
	case content != nil:
		contentIssues := decodeContent(rawContent, content)
		if len(contentIssues) == 0 {
			contentIssues = content.validate()
		}
		if len(contentIssues) == 0 {
			p.Content = content
		}
		issues = append(issues, prefixed(contentIssues)...)
	}

	if rawTS, ok := envelope["timestamp"]; ok && !isNull(rawTS) {
		if err := json.Unmarshal(rawTS, &p.Timestamp); err != nil {
			issues = append(issues, FieldIssue{"timestamp", "must be a string"})
		} else if _, err := ParseTimestamp(p.Timestamp); err != nil {
			issues = append(issues, FieldIssue{"timestamp", "must be an ISO-8601 timestamp"})
		}
	} else {
		p.Timestamp = NowTimestamp()
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return p, nil
}

func decodeContent(raw json.RawMessage, c Content) []FieldIssue {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return []FieldIssue{{"", "must be a JSON object"}}
	}

	var issues []FieldIssue
	for _, f := range c.fields() {
		v, ok := obj[f.key]
		if !ok {
			if f.required {
				issues = append(issues, FieldIssue{f.key, "required"})
			}
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			issues = append(issues, FieldIssue{f.key, describe(err)})
		}
	}
	return issues
}

func prefixed(issues []FieldIssue) []FieldIssue {
	for i := range issues {
		if issues[i].Field == "" {
			issues[i].Field = "related_content"
		} else {
			issues[i].Field = "related_content." + issues[i].Field
		}
	}
	return issues
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func describe(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	var parseErr *time.ParseError
	if errors.As(err, &parseErr) {
		return "must be an RFC 3339 datetime"
	}
	return err.Error()
}
