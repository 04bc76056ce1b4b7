// Package state holds the per-conversation record threaded through every
// workflow node.
//
// All reads and writes go through dot-path addressing (Get/Set) so that the
// merge engine and the checkpointer observe every mutation uniformly. Core
// scalar fields (current_step, completeness, should_proceed, user_message,
// response) are addressable by name; history, errors and checkpoints are
// append-only and only grow through their dedicated methods.
package state

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Role identifies the author of a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Milestone is an entry in the checkpoint milestone log.
type Milestone struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	CurrentStep    string    `json:"current_step"`
	Completeness   float64   `json:"completeness"`
	Errors         []string  `json:"errors"`
}

// Core field names addressable by path.
const (
	FieldUserMessage   = "user_message"
	FieldCurrentStep   = "current_step"
	FieldCompleteness  = "completeness"
	FieldShouldProceed = "should_proceed"
	FieldResponse      = "response"
)

// Domain record names. When non-null, each must carry a confidence entry.
const (
	FieldCustomer        = "customer"
	FieldVehicle         = "vehicle"
	FieldAppointment     = "appointment"
	FieldSelectedService = "selected_service"
)

// ConfidenceKey is the entry every non-null domain record carries.
const ConfidenceKey = "confidence"

// DomainFields lists the confidence-bearing records.
var DomainFields = []string{FieldCustomer, FieldVehicle, FieldAppointment, FieldSelectedService}

// readOnly fields grow only through their append methods.
var readOnly = map[string]bool{
	"conversation_id": true,
	"history":         true,
	"errors":          true,
	"checkpoints":     true,
}

// Conversation is the state of one conversation.
type Conversation struct {
	ConversationID string         `json:"conversation_id"`
	UserMessage    string         `json:"user_message"`
	History        []Turn         `json:"history"`
	Fields         map[string]any `json:"fields"`
	CurrentStep    string         `json:"current_step"`
	Completeness   float64        `json:"completeness"`
	Errors         []string       `json:"errors"`
	ShouldProceed  bool           `json:"should_proceed"`
	Checkpoints    []Milestone    `json:"checkpoints"`
	Response       string         `json:"response"`
}

// New creates a fresh conversation positioned at step.
func New(conversationID, step string) *Conversation {
	return &Conversation{
		ConversationID: conversationID,
		Fields:         make(map[string]any),
		CurrentStep:    step,
		ShouldProceed:  true,
	}
}

// Get returns the value at path, or nil when any segment is missing.
// Malformed paths also yield nil.
func (c *Conversation) Get(path string) any {
	p, err := ParsePath(path)
	if err != nil {
		return nil
	}
	return c.GetPath(p)
}

// GetPath is Get for a pre-parsed path.
func (c *Conversation) GetPath(p Path) any {
	if !p.IsValid() {
		return nil
	}
	if p.Len() == 1 {
		if v, ok := c.coreField(p.Root()); ok {
			return v
		}
	}
	var cur any = c.Fields
	for _, seg := range p.segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// Set writes value at path, creating missing intermediate mappings.
func (c *Conversation) Set(path string, value any) error {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	return c.SetPath(p, value)
}

// SetPath is Set for a pre-parsed path.
func (c *Conversation) SetPath(p Path, value any) error {
	if !p.IsValid() {
		return ErrInvalidPath
	}
	root := p.Root()
	if readOnly[root] {
		return fmt.Errorf("%w: %s", ErrReadOnlyPath, root)
	}
	if p.Len() == 1 {
		if handled, err := c.setCoreField(root, value); handled {
			return err
		}
	}

	if c.Fields == nil {
		c.Fields = make(map[string]any)
	}
	cur := c.Fields
	last := len(p.segments) - 1
	for i, seg := range p.segments[:last] {
		next, ok := cur[seg]
		if !ok || next == nil {
			m := make(map[string]any)
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotMapping, Path{segments: p.segments[:i+1]})
		}
		cur = m
	}
	cur[p.segments[last]] = normalize(value)
	return nil
}

// Has reports whether path holds a non-empty value.
func (c *Conversation) Has(path string) bool {
	return !IsEmpty(c.Get(path))
}

// GetString returns the string at path.
func (c *Conversation) GetString(path string) (string, bool) {
	s, ok := c.Get(path).(string)
	return s, ok
}

// GetBool returns the bool at path; missing or non-bool values are false.
func (c *Conversation) GetBool(path string) bool {
	b, _ := c.Get(path).(bool)
	return b
}

// GetFloat returns the number at path.
func (c *Conversation) GetFloat(path string) (float64, bool) {
	return toFloat(c.Get(path))
}

// GetMap returns the mapping at path.
func (c *Conversation) GetMap(path string) (map[string]any, bool) {
	m, ok := c.Get(path).(map[string]any)
	return m, ok
}

// GetList returns the list at path.
func (c *Conversation) GetList(path string) ([]any, bool) {
	l, ok := c.Get(path).([]any)
	return l, ok
}

// AppendTurn appends a history entry. Prior entries are never rewritten.
func (c *Conversation) AppendTurn(role Role, content string) {
	c.History = append(c.History, Turn{Role: role, Content: content})
}

// UserTurns counts user entries in history.
func (c *Conversation) UserTurns() int {
	n := 0
	for _, t := range c.History {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// AppendMilestone appends to the milestone log.
func (c *Conversation) AppendMilestone(m Milestone) {
	c.Checkpoints = append(c.Checkpoints, m)
}

// HasMilestone reports whether a milestone with name was recorded.
func (c *Conversation) HasMilestone(name string) bool {
	for _, m := range c.Checkpoints {
		if m.Name == name {
			return true
		}
	}
	return false
}

// RecordError appends a diagnostic code.
func (c *Conversation) RecordError(code string) {
	c.Errors = append(c.Errors, code)
}

// ClearPath nulls the value at path. Invalid or read-only paths are ignored.
func (c *Conversation) ClearPath(path string) {
	_ = c.Set(path, nil)
}

// Await marks the conversation as waiting for the next inbound message.
func (c *Conversation) Await() {
	c.ShouldProceed = false
}

// Awaiting reports whether the current cycle should stop.
func (c *Conversation) Awaiting() bool {
	return !c.ShouldProceed
}

// Resume re-arms the conversation for a new processing cycle.
func (c *Conversation) Resume(message string) {
	c.UserMessage = message
	c.ShouldProceed = true
	c.Response = ""
}

// Step returns the named workflow position.
func (c *Conversation) Step() string {
	return c.CurrentStep
}

// Say sets the assistant reply for this cycle.
func (c *Conversation) Say(text string) {
	c.Response = text
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.History = slices.Clone(c.History)
	out.Errors = slices.Clone(c.Errors)
	if c.Checkpoints != nil {
		out.Checkpoints = make([]Milestone, len(c.Checkpoints))
		for i, m := range c.Checkpoints {
			m.Errors = slices.Clone(m.Errors)
			out.Checkpoints[i] = m
		}
	}
	out.Fields, _ = deepCopy(c.Fields).(map[string]any)
	return &out
}

// Validate checks the confidence invariant on every domain record.
func (c *Conversation) Validate() error {
	if c.ConversationID == "" {
		return fmt.Errorf("conversation_id is empty")
	}
	if c.Completeness < 0 || c.Completeness > 1 {
		return fmt.Errorf("completeness %v out of range", c.Completeness)
	}
	for _, name := range DomainFields {
		v := c.Fields[name]
		if IsEmpty(v) {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrNotMapping)
		}
		conf, ok := toFloat(m[ConfidenceKey])
		if !ok {
			return fmt.Errorf("%s: missing %s", name, ConfidenceKey)
		}
		if conf < 0 || conf > 1 || math.IsNaN(conf) {
			return fmt.Errorf("%s: %s %v out of range", name, ConfidenceKey, conf)
		}
	}
	return nil
}

func (c *Conversation) coreField(name string) (any, bool) {
	switch name {
	case "conversation_id":
		return c.ConversationID, true
	case FieldUserMessage:
		return c.UserMessage, true
	case FieldCurrentStep:
		return c.CurrentStep, true
	case FieldCompleteness:
		return c.Completeness, true
	case FieldShouldProceed:
		return c.ShouldProceed, true
	case FieldResponse:
		return c.Response, true
	}
	return nil, false
}

func (c *Conversation) setCoreField(name string, value any) (bool, error) {
	switch name {
	case FieldUserMessage, FieldCurrentStep, FieldResponse:
		s, ok := value.(string)
		if !ok && value != nil {
			return true, fmt.Errorf("%w: %s wants string, got %T", ErrFieldType, name, value)
		}
		switch name {
		case FieldUserMessage:
			c.UserMessage = s
		case FieldCurrentStep:
			c.CurrentStep = s
		default:
			c.Response = s
		}
		return true, nil
	case FieldCompleteness:
		f, ok := toFloat(value)
		if !ok || f < 0 || f > 1 {
			return true, fmt.Errorf("%w: %s wants float in [0,1], got %v", ErrFieldType, name, value)
		}
		c.Completeness = f
		return true, nil
	case FieldShouldProceed:
		b, ok := value.(bool)
		if !ok {
			return true, fmt.Errorf("%w: %s wants bool, got %T", ErrFieldType, name, value)
		}
		c.ShouldProceed = b
		return true, nil
	}
	return false, nil
}
