package submission

import (
	"fmt"
	"maps"
	"strings"

	"github.com/sakura-kun-88/startup-compass-89/pkg/category"
)

// Key identifies one submission state machine.
type Key struct {
	RecordID uint64 `json:"record_id"`
	Category string `json:"category"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.RecordID, k.Category)
}

// Request describes one submission: which record, which category, the raw
// value as entered and the category's companion fields. It cannot be changed
// after NewRequest; a new value needs a new request.
type Request struct {
	recordID uint64
	category string
	raw      string
	extras   map[string]string
}

// NewRequest builds a request. Only the category is checked here; the value
// and companions are validated against the category schema on Submit.
func NewRequest(recordID uint64, cat, raw string, extras map[string]string) (Request, error) {
	cat = strings.TrimSpace(cat)
	if cat == "" {
		return Request{}, &ValidationError{Field: "category", Code: category.CodeRequired, Message: "is required"}
	}
	return Request{
		recordID: recordID,
		category: cat,
		raw:      strings.TrimSpace(raw),
		extras:   maps.Clone(extras),
	}, nil
}

// Key returns the state machine key for the request.
func (r Request) Key() Key { return Key{RecordID: r.recordID, Category: r.category} }

// RecordID returns the target record.
func (r Request) RecordID() uint64 { return r.recordID }

// Category returns the category tag.
func (r Request) Category() string { return r.category }

// RawValue returns the value as entered.
func (r Request) RawValue() string { return r.raw }

// Extra returns a companion field.
func (r Request) Extra(name string) string { return r.extras[name] }

// Extras returns a copy of the companion fields.
func (r Request) Extras() map[string]string { return maps.Clone(r.extras) }
