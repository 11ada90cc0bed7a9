package referral

import (
	"github.com/go-faster/jx"

	"github.com/xenking/pos-referral/internal/domain/order"
)

// PayloadContributor embeds the referral state into exported order and
// receipt payloads under the "referral" key:
//
//	"referral": {
//	  "generated": {"code": ..., "referral_id": ..., "customer_name": ...},
//	  "redeemed":  {"code": ..., "discount_amount": ...}
//	}
type PayloadContributor struct{}

var _ order.Contributor = PayloadContributor{}

// Contribute implements order.Contributor.
func (PayloadContributor) Contribute(kind order.Kind, s *order.Snapshot, e *jx.Encoder) {
	r := s.Referral
	if !r.HasGenerated() && !r.HasRedemption() {
		return
	}

	e.FieldStart("referral")
	e.ObjStart()
	if r.HasGenerated() {
		e.FieldStart("generated")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(r.GeneratedCode)
		if r.GeneratedReferralID != "" {
			e.FieldStart("referral_id")
			e.Str(r.GeneratedReferralID)
		}
		if r.GeneratingCustomerName != "" {
			e.FieldStart("customer_name")
			e.Str(r.GeneratingCustomerName)
		}
		e.ObjEnd()
	}
	if r.HasRedemption() {
		e.FieldStart("redeemed")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(r.UsedCode)
		if r.AppliedDiscountAmount != nil {
			e.FieldStart("discount_amount")
			e.Str(r.AppliedDiscountAmount.StringFixed(2))
		}
		if kind == order.KindOrder {
			e.FieldStart("needs_manual_adjustment")
			e.Bool(r.NeedsManualAdjustment)
		}
		e.ObjEnd()
	}
	e.ObjEnd()
}
