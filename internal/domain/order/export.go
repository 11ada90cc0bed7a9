package order

import (
	"time"

	"github.com/go-faster/jx"
)

// Kind selects which payload is produced for an order.
type Kind string

const (
	// KindOrder is the payload sent for storage or sync.
	KindOrder Kind = "order"
	// KindReceipt is the payload handed to the receipt printer.
	KindReceipt Kind = "receipt"
)

// Contributor adds extra fields to exported payloads. Contribute is called
// inside the top-level JSON object and must write complete fields.
type Contributor interface {
	Contribute(kind Kind, s *Snapshot, e *jx.Encoder)
}

// ContributorFunc adapts a function to Contributor.
type ContributorFunc func(kind Kind, s *Snapshot, e *jx.Encoder)

// Contribute calls f.
func (f ContributorFunc) Contribute(kind Kind, s *Snapshot, e *jx.Encoder) {
	f(kind, s, e)
}

// Exporter serializes orders and receipts to JSON.
type Exporter struct {
	contributors []Contributor
}

// NewExporter creates an Exporter with the given extra payload contributors.
func NewExporter(contributors ...Contributor) *Exporter {
	return &Exporter{contributors: contributors}
}

// Register adds a contributor.
func (x *Exporter) Register(c Contributor) {
	x.contributors = append(x.contributors, c)
}

// Export encodes a snapshot of o.
func (x *Exporter) Export(kind Kind, o *Order) []byte {
	return x.Encode(kind, o.Snapshot())
}

// Encode encodes s.
func (x *Exporter) Encode(kind Kind, s *Snapshot) []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("kind")
	e.Str(string(kind))
	e.FieldStart("created_at")
	e.Str(s.CreatedAt.UTC().Format(time.RFC3339))

	if s.Customer != nil {
		e.FieldStart("customer")
		encodeCustomer(&e, s.Customer)
	}

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range s.Lines {
		encodeLine(&e, kind, l)
	}
	e.ArrEnd()

	e.FieldStart("total_with_tax")
	e.Str(s.TotalWithTax.StringFixed(2))

	for _, c := range x.contributors {
		c.Contribute(kind, s, &e)
	}

	e.ObjEnd()
	return e.Bytes()
}

func encodeCustomer(e *jx.Encoder, c *Customer) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("name")
	e.Str(c.Name)
	if phone := c.ContactPhone(); phone != "" {
		e.FieldStart("phone")
		e.Str(phone)
	}
	e.ObjEnd()
}

func encodeLine(e *jx.Encoder, kind Kind, l LineItem) {
	e.ObjStart()
	e.FieldStart("product_id")
	e.Str(l.ProductID)
	e.FieldStart("name")
	e.Str(l.Name)
	e.FieldStart("unit_price")
	e.Str(l.UnitPrice.StringFixed(2))
	e.FieldStart("quantity")
	e.Str(l.Quantity.String())
	e.FieldStart("discount")
	e.Str(l.Discount.Round(4).String())
	if kind == KindOrder {
		e.FieldStart("tax_rate")
		e.Str(l.TaxRate.String())
		e.FieldStart("is_program_reward")
		e.Bool(l.IsProgramReward)
	}
	if l.Note != "" {
		e.FieldStart("note")
		e.Str(l.Note)
	}
	e.FieldStart("total")
	e.Str(l.TotalWithTax().StringFixed(2))
	e.ObjEnd()
}
