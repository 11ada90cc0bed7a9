// Package handler serves the referral authority HTTP API.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/api"
	"github.com/xenking/pos-referral/internal/authority"
	"github.com/xenking/pos-referral/internal/domain/auth"
	"github.com/xenking/pos-referral/internal/domain/referral"
	"github.com/xenking/pos-referral/pkg/httpmiddleware"
)

// maxBody bounds request bodies.
const maxBody = 64 << 10

// Authority is the service behind the API. *authority.Service implements it.
type Authority interface {
	IssueCode(ctx context.Context, req referral.IssueRequest) (*referral.IssuedCode, error)
	ValidateAndPrice(ctx context.Context, code string, total decimal.Decimal, contextID string) (*referral.ValidationResult, error)
	Check(ctx context.Context, code string) (*authority.CodeStatus, error)
}

var _ Authority = (*authority.Service)(nil)

// Handler maps HTTP requests onto an Authority.
type Handler struct {
	svc      Authority
	security *SecurityHandler
}

// NewHandler creates a Handler.
func NewHandler(svc Authority, security *SecurityHandler) *Handler {
	return &Handler{svc: svc, security: security}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, r := range []struct {
		pattern string
		scope   string
		serve   func(w http.ResponseWriter, r *http.Request) error
	}{
		{"POST " + api.PathCodes, auth.ScopeIssue, h.issueCode},
		{"POST " + api.PathRedemptions, auth.ScopeRedeem, h.redeem},
		{"GET " + api.PathCodes + "/{code}", auth.ScopeReadCode, h.checkCode},
	} {
		mux.Handle(r.pattern, httpmiddleware.Route(r.pattern, h.endpoint(r.scope, r.serve)))
	}
}

func (h *Handler) endpoint(scope string, serve func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := h.security.Authenticate(r, scope)
		if err == nil {
			err = serve(w, r.WithContext(ctx))
		}
		if err != nil {
			h.fail(w, r, err)
		}
	})
}

func (h *Handler) issueCode(w http.ResponseWriter, r *http.Request) error {
	var req api.IssueRequest
	if err := decode(w, r, req.Decode); err != nil {
		return err
	}

	issued, err := h.svc.IssueCode(r.Context(), referral.IssueRequest{
		CustomerID:   req.CustomerID,
		Phone:        req.Phone,
		ContextID:    req.ContextID,
		CustomerName: req.CustomerName,
	})
	if err != nil {
		return err
	}

	resp := api.IssueResponse{Code: issued.Code, ReferralID: issued.ReferralID}
	write(w, http.StatusCreated, resp.Encode)
	return nil
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) error {
	var req api.RedeemRequest
	if err := decode(w, r, req.Decode); err != nil {
		return err
	}

	res, err := h.svc.ValidateAndPrice(r.Context(), req.Code, req.OrderTotal, req.ContextID)
	if err != nil {
		return err
	}

	resp := api.RedeemResponse{
		Success:        res.Success,
		DiscountAmount: res.DiscountAmount,
		Message:        res.Message,
	}
	write(w, http.StatusOK, resp.Encode)
	return nil
}

func (h *Handler) checkCode(w http.ResponseWriter, r *http.Request) error {
	st, err := h.svc.Check(r.Context(), r.PathValue("code"))
	if err != nil {
		return err
	}

	resp := api.CodeStatus{Valid: st.Valid, Message: st.Message, CustomerName: st.CustomerName}
	write(w, http.StatusOK, resp.Encode)
	return nil
}

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func decode(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return &badRequestError{err: errors.Wrap(err, "read body")}
	}
	if err := fn(jx.DecodeBytes(body)); err != nil {
		return &badRequestError{err: errors.Wrap(err, "decode body")}
	}
	return nil
}

func write(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rejected *authority.RejectedError
		badReq   *badRequestError
		resp     api.Error
	)
	switch {
	case errors.Is(err, errUnauthorized):
		resp = api.Error{Code: http.StatusUnauthorized, Message: "unauthorized"}
	case errors.Is(err, errForbidden):
		resp = api.Error{Code: http.StatusForbidden, Message: "api key lacks the required scope"}
	case errors.As(err, &badReq):
		resp = api.Error{Code: http.StatusBadRequest, Message: badReq.Error()}
	case errors.As(err, &rejected):
		resp = api.Error{Code: http.StatusUnprocessableEntity, Message: rejected.Message}
	case errors.Is(err, authority.ErrLockNotObtained):
		resp = api.Error{Code: http.StatusConflict, Message: "Referral code is busy, please try again"}
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		resp = api.Error{Code: http.StatusInternalServerError, Message: "internal error"}
	}
	write(w, resp.Code, resp.Encode)
}
