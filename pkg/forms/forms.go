// Package forms binds dashboard form fields to the submission pipeline.
//
// A Binding gathers typed field values, performs advisory client-side
// checks, builds a submission.Request and hands it to the coordinator. It
// renders the coordinator's state but never mutates it.
package forms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/sakura-kun-88/startup-compass-89/pkg/category"
	"github.com/sakura-kun-88/startup-compass-89/pkg/identity"
	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

var (
	// ErrUnknownField is returned by Set for names the form does not declare.
	ErrUnknownField = errors.New("forms: unknown field")
	// ErrUnknownForm is returned by NewForm for names no page uses.
	ErrUnknownForm = errors.New("forms: unknown form")
)

// Kind drives local parsing of a field.
type Kind string

const (
	KindText    Kind = "text"
	KindNumber  Kind = "number"
	KindRecord  Kind = "record"
	KindAddress Kind = "address"
	KindEmail   Kind = "email"
	KindDate    Kind = "date"
)

// Role says where a field ends up in the request.
type Role int

const (
	// RoleCompanion fields are passed as request extras under their name.
	RoleCompanion Role = iota
	// RoleRecord is the record id.
	RoleRecord
	// RoleValue is the value to encrypt.
	RoleValue
)

// Field describes one input.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required"`
	Role     Role   `json:"-"`
}

// Binding is the state of one form page.
type Binding struct {
	name     string
	category string
	fields   []Field
	coord    *submission.Coordinator

	mu      sync.Mutex
	values  map[string]string
	handle  *submission.Handle
	key     submission.Key
	cleared string
	local   error
}

// New creates a binding for category. Exactly one field may have RoleValue
// and at most one RoleRecord.
func New(name, cat string, coord *submission.Coordinator, fields ...Field) (*Binding, error) {
	if coord == nil {
		return nil, errors.New("forms: coordinator is required")
	}
	var records, vals int
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" || seen[f.Name] {
			return nil, fmt.Errorf("forms: %s: duplicate or empty field name %q", name, f.Name)
		}
		seen[f.Name] = true
		switch f.Role {
		case RoleRecord:
			records++
		case RoleValue:
			vals++
		}
	}
	if records > 1 || vals > 1 {
		return nil, fmt.Errorf("forms: %s: at most one record and one value field", name)
	}
	if _, ok := coord.Registry().Lookup(cat); !ok {
		return nil, fmt.Errorf("forms: %s: %w: %s", name, submission.ErrUnknownCategory, cat)
	}
	return &Binding{
		name:     name,
		category: cat,
		fields:   fields,
		coord:    coord,
		values:   make(map[string]string, len(fields)),
	}, nil
}

// Name returns the form name.
func (b *Binding) Name() string { return b.name }

// Category returns the submission category the form targets.
func (b *Binding) Category() string { return b.category }

// Fields returns the field descriptors.
func (b *Binding) Fields() []Field {
	out := make([]Field, len(b.fields))
	copy(out, b.fields)
	return out
}

func (b *Binding) field(name string) (Field, bool) {
	for _, f := range b.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Set stores a field value, normalized to NFC with surrounding space trimmed.
func (b *Binding) Set(name, value string) error {
	if _, ok := b.field(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[name] = norm.NFC.String(strings.TrimSpace(value))
	return nil
}

// Fill sets several fields at once. Nothing is set when any name is
// unknown; the error names the first unknown field in sorted order.
func (b *Binding) Fill(values map[string]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := b.field(name); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}
	for _, name := range names {
		if err := b.Set(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// Values returns a copy of the current field values.
func (b *Binding) Values() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// Check runs the advisory local checks and returns the first problem.
func (b *Binding) Check() error {
	values := b.Values()
	for _, f := range b.fields {
		if err := checkField(f, values[f.Name]); err != nil {
			return err
		}
	}
	return nil
}

func checkField(f Field, v string) error {
	if v == "" {
		if f.Required {
			return &submission.ValidationError{Field: f.Name, Code: category.CodeRequired, Message: f.Label + " is required"}
		}
		return nil
	}
	bad := func(code, msg string) error {
		return &submission.ValidationError{Field: f.Name, Code: code, Message: msg}
	}
	switch f.Kind {
	case KindNumber:
		if _, err := category.ParseValue(v); err != nil {
			var fe *category.FieldError
			if errors.As(err, &fe) {
				return bad(fe.Code, fe.Message)
			}
			return bad(category.CodeNotNumeric, err.Error())
		}
	case KindRecord:
		if _, err := strconv.ParseUint(v, 10, 64); err != nil {
			return bad(submission.CodeInvalidRecord, "must be a non-negative integer id")
		}
	case KindAddress:
		if _, err := identity.ParseAddress(v); err != nil {
			return bad(category.CodeMalformed, "must be a 0x-prefixed 40 hex digit address")
		}
	case KindEmail:
		if !strings.Contains(v, "@") {
			return bad(category.CodeMalformed, "must be an email address")
		}
	case KindDate:
		if _, err := category.ParseDate(v); err != nil {
			return bad(category.CodeMalformed, "must be a date (YYYY-MM-DD)")
		}
	}
	return nil
}

// Request builds the submission request from the current values.
func (b *Binding) Request() (submission.Request, error) {
	if err := b.Check(); err != nil {
		return submission.Request{}, err
	}
	values := b.Values()

	var recordID uint64
	var raw string
	extras := make(map[string]string)
	for _, f := range b.fields {
		v := values[f.Name]
		switch f.Role {
		case RoleRecord:
			if v != "" {
				recordID, _ = strconv.ParseUint(v, 10, 64)
			}
		case RoleValue:
			raw = v
		default:
			if v != "" {
				extras[f.Name] = v
			}
		}
	}
	return submission.NewRequest(recordID, b.category, raw, extras)
}

// Submit checks the wallet gate and local rules, then hands the request to
// the coordinator. Local failures are kept for View and never reach the
// coordinator.
func (b *Binding) Submit(ctx context.Context) (*submission.Handle, error) {
	if _, ok := identity.FromContext(ctx); !ok {
		return nil, submission.ErrWalletRequired
	}
	req, err := b.Request()
	if err != nil {
		b.mu.Lock()
		b.local = err
		b.mu.Unlock()
		return nil, err
	}

	h, err := b.coord.Submit(ctx, req)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.key = req.Key()
	b.local = nil
	if err != nil {
		if errors.Is(err, submission.ErrAlreadyPending) {
			// The earlier submission keeps running; the rejection is shown
			// until it finishes.
			b.local = err
		} else {
			b.handle = nil
		}
		return nil, err
	}
	b.handle = h
	return h, nil
}

// Handle returns the last accepted submission, or nil.
func (b *Binding) Handle() *submission.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

// Refresh folds the coordinator state into the form: the fields are
// cleared once per successful submission.
func (b *Binding) Refresh() submission.State {
	b.mu.Lock()
	key := b.key
	b.mu.Unlock()

	st := b.coord.Status(key.RecordID, key.Category)

	b.mu.Lock()
	defer b.mu.Unlock()
	if st.Phase == submission.PhaseSucceeded && st.SubmissionID != "" && st.SubmissionID != b.cleared {
		b.values = make(map[string]string, len(b.fields))
		b.cleared = st.SubmissionID
	}
	return st
}

// View is what the page renders.
type View struct {
	Form           string            `json:"form"`
	Category       string            `json:"category"`
	Phase          string            `json:"phase"`
	SubmitDisabled bool              `json:"submit_disabled"`
	ButtonLabel    string            `json:"button_label"`
	Notice         string            `json:"notice,omitempty"`
	Error          bool              `json:"error"`
	SubmissionID   string            `json:"submission_id,omitempty"`
	TxHandle       string            `json:"tx_handle,omitempty"`
	Values         map[string]string `json:"values"`
}

// View refreshes and renders the form.
func (b *Binding) View() View {
	st := b.Refresh()

	b.mu.Lock()
	local := b.local
	b.mu.Unlock()

	v := View{
		Form:         b.name,
		Category:     b.category,
		Phase:        st.Phase.String(),
		ButtonLabel:  "Submit",
		SubmissionID: st.SubmissionID,
		TxHandle:     st.TxHandle.String(),
		Values:       b.Values(),
	}
	if errors.Is(local, submission.ErrAlreadyPending) && st.Phase != submission.PhasePending {
		local = nil
	}
	if st.Phase == submission.PhasePending {
		v.SubmitDisabled = true
		v.ButtonLabel = "Submitting..."
	}
	switch {
	case errors.Is(local, submission.ErrAlreadyPending):
		v.Notice, v.Error = "Submission failed: "+local.Error(), true
	case local != nil:
		v.Notice, v.Error = local.Error(), true
	case st.Phase == submission.PhaseSucceeded:
		v.Notice = "Transaction submitted: " + st.TxHandle.String()
	case st.Phase == submission.PhaseFailed:
		v.Notice, v.Error = "Submission failed: "+st.ReasonText(), true
	}
	return v
}
