// Package progress projects an order's raw status onto a bounded progress
// step and a presentation category.
package progress

import "strings"

// Status is an order status.
type Status string

const (
	StatusPlaced         Status = "placed"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusOnHold         Status = "on_hold"
	StatusUnknown        Status = "unknown"
)

// Sequence is the fixed linear order of progressing statuses.
var Sequence = []Status{
	StatusPlaced,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusOutForDelivery,
	StatusDelivered,
}

// Total is the number of steps in Sequence.
var Total = len(Sequence)

// Category is a presentation class shared by color and icon choices.
type Category string

const (
	CategoryInfo    Category = "info"
	CategoryWarning Category = "warning"
	CategoryPrimary Category = "primary"
	CategorySuccess Category = "success"
	CategoryDanger  Category = "danger"
	CategoryMuted   Category = "muted"
)

// Projection is the presentation of one status.
type Projection struct {
	Status Status `json:"status"`
	// Step is 1-based and only set when Progressing.
	Step        int      `json:"step,omitempty"`
	Total       int      `json:"total"`
	Progressing bool     `json:"progressing"`
	Category    Category `json:"category"`
	Icon        string   `json:"icon"`
	Label       string   `json:"label"`
}

type presentation struct {
	category Category
	icon     string
	label    string
}

var presentations = map[Status]presentation{
	StatusPlaced:         {CategoryInfo, "clock", "Order placed"},
	StatusConfirmed:      {CategoryInfo, "check", "Confirmed by pharmacy"},
	StatusPreparing:      {CategoryWarning, "flask", "Preparing"},
	StatusReady:          {CategoryPrimary, "package", "Ready"},
	StatusOutForDelivery: {CategoryPrimary, "truck", "Out for delivery"},
	StatusDelivered:      {CategorySuccess, "check-circle", "Delivered"},
	StatusCancelled:      {CategoryDanger, "x-circle", "Cancelled"},
	StatusOnHold:         {CategoryMuted, "pause", "On hold"},
	StatusUnknown:        {CategoryMuted, "help-circle", "Status unavailable"},
}

// Parse normalizes raw status text. Case, surrounding space and "-" or " "
// separators are ignored. Unrecognized input yields StatusUnknown.
func Parse(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	st := Status(s)
	if _, ok := presentations[st]; ok {
		return st
	}
	return StatusUnknown
}

// Step returns the 1-based position of s in Sequence. ok is false for
// statuses outside the sequence.
func Step(s Status) (step int, ok bool) {
	for i, seq := range Sequence {
		if seq == s {
			return i + 1, true
		}
	}
	return 0, false
}

// Project maps any status to its projection. It is total: unrecognized
// statuses project as StatusUnknown.
func Project(s Status) Projection {
	p, ok := presentations[s]
	if !ok {
		s = StatusUnknown
		p = presentations[StatusUnknown]
	}

	proj := Projection{
		Status:   s,
		Total:    Total,
		Category: p.category,
		Icon:     p.icon,
		Label:    p.label,
	}
	if step, ok := Step(s); ok {
		proj.Step = step
		proj.Progressing = true
	}
	return proj
}

// ProjectRaw is Project(Parse(raw)).
func ProjectRaw(raw string) Projection {
	return Project(Parse(raw))
}

// Percent returns completion in [0, 100] for progressing projections.
func (p Projection) Percent() int {
	if !p.Progressing || p.Total == 0 {
		return 0
	}
	return p.Step * 100 / p.Total
}
