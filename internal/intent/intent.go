// Package intent validates the structured output of the interpretation
// collaborator and turns it into a typed Intent or a Clarification.
package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
)

// Action is the scheduling operation an intent asks for.
type Action string

const (
	ActionSchedule   Action = "schedule"
	ActionCancel     Action = "cancel"
	ActionReschedule Action = "reschedule"
	ActionList       Action = "list"
)

// Clock is a wall-clock time of day in the tenant's location.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Intent is the normalized request. It is immutable once parsed.
type Intent struct {
	Action        Action
	CustomerName  string
	CustomerEmail string
	AttendantName string
	Date          scheduling.Date
	Time          *Clock
	Notes         string
	// OriginalDate locates the appointment being moved by a reschedule.
	OriginalDate scheduling.Date
}

// Clarification is the collaborator declining to interpret, e.g. because the
// customer email is missing. Message is returned to the caller verbatim.
type Clarification struct {
	Message string `json:"message"`
}

// Outcome holds exactly one of Intent or Clarification.
type Outcome struct {
	Intent        *Intent
	Clarification *Clarification
}

// IsClarification reports whether the collaborator asked for more input.
func (o Outcome) IsClarification() bool {
	return o.Clarification != nil
}

// Parse decodes raw collaborator output. It fails with
// scheduling.ErrMalformedIntent when the text is not a single JSON object of
// one of the two accepted shapes.
func Parse(raw string) (Outcome, error) {
	doc, err := decodeObject(stripFence(raw))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", scheduling.ErrMalformedIntent, err)
	}

	if success, ok := doc["success"].(bool); ok && !success {
		problems, err := validateDocument(clarificationSchema, doc)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", scheduling.ErrMalformedIntent, err)
		}
		if problems != "" {
			return Outcome{}, fmt.Errorf("%w: clarification: %s", scheduling.ErrMalformedIntent, problems)
		}
		return Outcome{Clarification: &Clarification{Message: doc["message"].(string)}}, nil
	}

	if action, ok := doc["action"].(string); ok {
		doc["action"] = strings.ToLower(strings.TrimSpace(action))
	}
	problems, err := validateDocument(intentSchema, doc)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", scheduling.ErrMalformedIntent, err)
	}
	if problems != "" {
		return Outcome{}, fmt.Errorf("%w: %s", scheduling.ErrMalformedIntent, problems)
	}

	in, err := build(doc)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", scheduling.ErrMalformedIntent, err)
	}
	return Outcome{Intent: in}, nil
}

// stripFence removes one surrounding markdown code fence, which models add
// even when told not to.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string ("json").
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func decodeObject(text string) (map[string]any, error) {
	if text == "" {
		return nil, errors.New("empty output")
	}
	dec := json.NewDecoder(bytes.NewBufferString(text))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return obj, nil
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return strings.TrimSpace(s)
}

func build(doc map[string]any) (*Intent, error) {
	in := &Intent{
		Action:        Action(stringField(doc, "action")),
		CustomerName:  stringField(doc, "customerName"),
		CustomerEmail: strings.ToLower(stringField(doc, "customerEmail")),
		AttendantName: stringField(doc, "attendantName"),
		Notes:         stringField(doc, "notes"),
	}
	var err error
	if s := stringField(doc, "date"); s != "" {
		if in.Date, err = scheduling.ParseDate(s); err != nil {
			return nil, err
		}
	}
	if s := stringField(doc, "originalDate"); s != "" {
		if in.OriginalDate, err = scheduling.ParseDate(s); err != nil {
			return nil, err
		}
	}
	if s := stringField(doc, "time"); s != "" {
		clock, err := parseClock(s)
		if err != nil {
			return nil, err
		}
		in.Time = &clock
	}
	return in, nil
}

func parseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return Clock{}, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// Validate checks the fields the action needs. Violations wrap
// scheduling.ErrInvalidIntent and are detected before any record is touched.
func (in *Intent) Validate() error {
	if in == nil {
		return fmt.Errorf("%w: empty intent", scheduling.ErrInvalidIntent)
	}
	var missing []string
	needEmail := func() {
		if in.CustomerEmail == "" {
			missing = append(missing, "customerEmail")
		}
	}
	needDate := func() {
		if in.Date.IsZero() {
			missing = append(missing, "date")
		}
	}
	needTime := func() {
		if in.Time == nil {
			missing = append(missing, "time")
		}
	}

	switch in.Action {
	case ActionSchedule:
		needEmail()
		needDate()
		needTime()
		if in.AttendantName == "" {
			missing = append(missing, "attendantName")
		}
	case ActionCancel:
		needEmail()
		needDate()
	case ActionReschedule:
		needEmail()
		needDate()
		needTime()
	case ActionList:
	default:
		return fmt.Errorf("%w: unknown action %q", scheduling.ErrInvalidIntent, in.Action)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", scheduling.ErrInvalidIntent, in.Action, strings.Join(missing, ", "))
	}
	if in.CustomerEmail != "" && !looksLikeEmail(in.CustomerEmail) {
		return fmt.Errorf("%w: customerEmail %q is not an email address", scheduling.ErrInvalidIntent, in.CustomerEmail)
	}
	return nil
}

// DisplayName is the customer name, falling back to the email local part.
func (in *Intent) DisplayName() string {
	if in.CustomerName != "" {
		return in.CustomerName
	}
	local, _, _ := strings.Cut(in.CustomerEmail, "@")
	return local
}

// LookupDate is the date used to find an existing appointment: the original
// date for reschedules that name one, otherwise Date.
func (in *Intent) LookupDate() scheduling.Date {
	if in.Action == ActionReschedule && !in.OriginalDate.IsZero() {
		return in.OriginalDate
	}
	return in.Date
}

// MarshalJSON renders the intent in the collaborator's wire shape.
func (in Intent) MarshalJSON() ([]byte, error) {
	type wire struct {
		Action        Action `json:"action"`
		CustomerName  string `json:"customerName,omitempty"`
		CustomerEmail string `json:"customerEmail,omitempty"`
		AttendantName string `json:"attendantName,omitempty"`
		Date          string `json:"date,omitempty"`
		Time          string `json:"time,omitempty"`
		Notes         string `json:"notes,omitempty"`
		OriginalDate  string `json:"originalDate,omitempty"`
	}
	w := wire{
		Action:        in.Action,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		AttendantName: in.AttendantName,
		Notes:         in.Notes,
	}
	if !in.Date.IsZero() {
		w.Date = in.Date.String()
	}
	if !in.OriginalDate.IsZero() {
		w.OriginalDate = in.OriginalDate.String()
	}
	if in.Time != nil {
		w.Time = in.Time.String()
	}
	return json.Marshal(w)
}
