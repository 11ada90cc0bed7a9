// Package api defines the JSON bodies of the referral authority HTTP API and
// their jx codecs. Money travels as decimal strings with two places; numbers
// are accepted on input.
package api

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Paths served by the authority.
const (
	PathCodes       = "/api/referral/codes"
	PathRedemptions = "/api/referral/redemptions"
	// HeaderAPIKey carries the terminal API key.
	HeaderAPIKey = "api_key"
)

// IssueRequest is the body of POST /api/referral/codes.
type IssueRequest struct {
	CustomerID   string
	Phone        string
	ContextID    string
	CustomerName string
}

// IssueResponse is returned with 201.
type IssueResponse struct {
	Code       string
	ReferralID string
}

// RedeemRequest is the body of POST /api/referral/redemptions.
type RedeemRequest struct {
	Code       string
	OrderTotal decimal.Decimal
	ContextID  string
}

// RedeemResponse is the pricing answer. Success false is a business
// rejection with Message explaining it.
type RedeemResponse struct {
	Success        bool
	DiscountAmount decimal.Decimal
	Message        string
}

// CodeStatus is returned by GET /api/referral/codes/{code}.
type CodeStatus struct {
	Valid        bool
	Message      string
	CustomerName string
}

// Error is the body of every non-2xx response.
type Error struct {
	Code    int
	Message string
}

func (r *IssueRequest) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(r.CustomerID) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(r.Phone) })
		e.Field("context_id", func(e *jx.Encoder) { e.Str(r.ContextID) })
		if r.CustomerName != "" {
			e.Field("customer_name", func(e *jx.Encoder) { e.Str(r.CustomerName) })
		}
	})
}

func (r *IssueRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer_id":
			return decodeStr(d, &r.CustomerID)
		case "phone":
			return decodeStr(d, &r.Phone)
		case "context_id":
			return decodeStr(d, &r.ContextID)
		case "customer_name":
			return decodeStr(d, &r.CustomerName)
		default:
			return d.Skip()
		}
	})
}

func (r *IssueResponse) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
		e.Field("referral_id", func(e *jx.Encoder) { e.Str(r.ReferralID) })
	})
}

func (r *IssueResponse) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			return decodeStr(d, &r.Code)
		case "referral_id":
			return decodeStr(d, &r.ReferralID)
		default:
			return d.Skip()
		}
	})
}

func (r *RedeemRequest) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
		e.Field("order_total", func(e *jx.Encoder) { e.Str(r.OrderTotal.StringFixed(2)) })
		e.Field("context_id", func(e *jx.Encoder) { e.Str(r.ContextID) })
	})
}

func (r *RedeemRequest) Decode(d *jx.Decoder) error {
	seenTotal := false
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			return decodeStr(d, &r.Code)
		case "order_total":
			seenTotal = true
			return decodeDecimal(d, &r.OrderTotal)
		case "context_id":
			return decodeStr(d, &r.ContextID)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return err
	}
	if !seenTotal {
		return errors.New("order_total is required")
	}
	return nil
}

func (r *RedeemResponse) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(r.Success) })
		e.Field("discount_amount", func(e *jx.Encoder) { e.Str(r.DiscountAmount.StringFixed(2)) })
		e.Field("message", func(e *jx.Encoder) { e.Str(r.Message) })
	})
}

func (r *RedeemResponse) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "success":
			v, err := d.Bool()
			r.Success = v
			return err
		case "discount_amount":
			return decodeDecimal(d, &r.DiscountAmount)
		case "message":
			return decodeStr(d, &r.Message)
		default:
			return d.Skip()
		}
	})
}

func (s *CodeStatus) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(s.Valid) })
		e.Field("message", func(e *jx.Encoder) { e.Str(s.Message) })
		if s.CustomerName != "" {
			e.Field("customer_name", func(e *jx.Encoder) { e.Str(s.CustomerName) })
		}
	})
}

func (s *CodeStatus) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "valid":
			v, err := d.Bool()
			s.Valid = v
			return err
		case "message":
			return decodeStr(d, &s.Message)
		case "customer_name":
			return decodeStr(d, &s.CustomerName)
		default:
			return d.Skip()
		}
	})
}

func (r *Error) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(r.Code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(r.Message) })
	})
}

func (r *Error) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Int()
			r.Code = v
			return err
		case "message":
			return decodeStr(d, &r.Message)
		default:
			return d.Skip()
		}
	})
}

func decodeStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// decodeDecimal accepts "12.50" as well as 12.5.
func decodeDecimal(d *jx.Decoder, dst *decimal.Decimal) error {
	var raw string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		raw = v
	case jx.Number:
		v, err := d.Num()
		if err != nil {
			return err
		}
		raw = string(v)
	default:
		return errors.Errorf("decimal: unexpected %s", d.Next())
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return errors.Wrapf(err, "decimal %q", raw)
	}
	*dst = v
	return nil
}
