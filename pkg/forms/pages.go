package forms

import (
	"fmt"
	"sort"

	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

func record(label string) Field {
	return Field{Name: "startup_id", Label: label, Kind: KindRecord, Required: true, Role: RoleRecord}
}

func value(name, label string) Field {
	return Field{Name: name, Label: label, Kind: KindNumber, Required: true, Role: RoleValue}
}

func text(name, label string, required bool) Field {
	return Field{Name: name, Label: label, Kind: KindText, Required: required}
}

type page struct {
	category string
	fields   []Field
}

// pages are the dashboard forms by name.
var pages = map[string]page{
	"startup": {"startup", []Field{
		text("name", "Startup name", true),
		text("description", "Description", true),
	}},
	"revenue": {"revenue", []Field{
		record("Startup ID"),
		value("amount", "Revenue amount"),
		text("source", "Revenue source", true),
	}},
	"customer": {"customer_value", []Field{
		record("Startup ID"),
		text("customer_name", "Customer name", true),
		{Name: "customer_email", Label: "Customer email", Kind: KindEmail, Required: true},
		value("customer_value", "Customer value"),
	}},
	"team": {"salary", []Field{
		record("Startup ID"),
		{Name: "member_address", Label: "Wallet address", Kind: KindAddress, Required: true},
		text("member_name", "Name", false),
		{Name: "member_email", Label: "Email", Kind: KindEmail},
		text("role", "Role", true),
		value("salary", "Salary"),
	}},
	"kpi": {"kpi_target", []Field{
		record("Startup ID"),
		text("kpi_type", "KPI type", true),
		value("target", "Target value"),
		{Name: "deadline", Label: "Deadline", Kind: KindDate, Required: true},
		text("kpi_description", "Description", false),
	}},
	"kpi_progress": {"kpi_progress", []Field{
		{Name: "kpi_id", Label: "KPI ID", Kind: KindRecord, Required: true, Role: RoleRecord},
		value("progress", "Progress value"),
	}},
	"metric": {"metric", []Field{
		record("Startup ID"),
		text("metric_type", "Metric type", true),
		value("value", "Value"),
	}},
}

// NewForm builds a fresh binding for the named page form. It fails when the
// name is unknown or the coordinator's registry lacks the page's category.
func NewForm(name string, c *submission.Coordinator) (*Binding, error) {
	p, ok := pages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownForm, name)
	}
	return New(name, p.category, c, p.fields...)
}

func mustForm(name string, c *submission.Coordinator) *Binding {
	b, err := NewForm(name, c)
	if err != nil {
		panic(err)
	}
	return b
}

// NewStartupForm registers a startup.
func NewStartupForm(c *submission.Coordinator) *Binding { return mustForm("startup", c) }

// NewRevenueForm records encrypted revenue.
func NewRevenueForm(c *submission.Coordinator) *Binding { return mustForm("revenue", c) }

// NewCustomerForm records an encrypted customer value.
func NewCustomerForm(c *submission.Coordinator) *Binding { return mustForm("customer", c) }

// NewTeamMemberForm adds a team member with an encrypted salary.
func NewTeamMemberForm(c *submission.Coordinator) *Binding { return mustForm("team", c) }

// NewKPIForm creates a KPI with an encrypted target.
func NewKPIForm(c *submission.Coordinator) *Binding { return mustForm("kpi", c) }

// NewKPIProgressForm reports encrypted progress on an existing KPI.
func NewKPIProgressForm(c *submission.Coordinator) *Binding { return mustForm("kpi_progress", c) }

// NewMetricForm records a free-form encrypted metric.
func NewMetricForm(c *submission.Coordinator) *Binding { return mustForm("metric", c) }

// Names returns the page form names, sorted.
func Names() []string {
	names := make([]string, 0, len(pages))
	for n := range pages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Catalog builds every page form whose category the coordinator knows.
func Catalog(c *submission.Coordinator) map[string]*Binding {
	out := make(map[string]*Binding, len(pages))
	for name := range pages {
		if b, err := NewForm(name, c); err == nil {
			out[name] = b
		}
	}
	return out
}
