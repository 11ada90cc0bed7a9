// Package client talks to the referral authority over HTTP. It implements
// referral.Issuer and referral.Validator for POS terminals.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/api"
	"github.com/xenking/pos-referral/internal/domain/referral"
)

// maxBody bounds response bodies.
const maxBody = 1 << 20

// APIError is a non-2xx response. Message is the authority's text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authority: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("authority: %d: %s", e.Status, e.Message)
}

// AuthorityMessage returns the message to show to the cashier.
func (e *APIError) AuthorityMessage() string {
	return e.Message
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration

	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client is the authority HTTP client.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	lg     *zap.Logger
}

var (
	_ referral.Issuer    = (*Client)(nil)
	_ referral.Validator = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse authority url")
	}
	if !base.IsAbs() {
		return nil, errors.Errorf("authority url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}

	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		lg:     cfg.Logger,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
	}, nil
}

// IssueCode implements referral.Issuer.
func (c *Client) IssueCode(ctx context.Context, req referral.IssueRequest) (*referral.IssuedCode, error) {
	body := api.IssueRequest{
		CustomerID:   req.CustomerID,
		Phone:        req.Phone,
		ContextID:    req.ContextID,
		CustomerName: req.CustomerName,
	}

	var resp api.IssueResponse
	if err := c.do(ctx, http.MethodPost, api.PathCodes, body.Encode, http.StatusCreated, resp.Decode); err != nil {
		return nil, err
	}
	return &referral.IssuedCode{Code: resp.Code, ReferralID: resp.ReferralID}, nil
}

// ValidateAndPrice implements referral.Validator.
func (c *Client) ValidateAndPrice(ctx context.Context, code string, total decimal.Decimal, contextID string) (*referral.ValidationResult, error) {
	body := api.RedeemRequest{Code: code, OrderTotal: total, ContextID: contextID}

	var resp api.RedeemResponse
	if err := c.do(ctx, http.MethodPost, api.PathRedemptions, body.Encode, http.StatusOK, resp.Decode); err != nil {
		return nil, err
	}
	return &referral.ValidationResult{
		Success:        resp.Success,
		DiscountAmount: resp.DiscountAmount,
		Message:        resp.Message,
	}, nil
}

// Check reports whether code is redeemable without redeeming it.
func (c *Client) Check(ctx context.Context, code string) (*api.CodeStatus, error) {
	var resp api.CodeStatus
	p := path.Join(api.PathCodes, code)
	if err := c.do(ctx, http.MethodGet, p, nil, http.StatusOK, resp.Decode); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(
	ctx context.Context,
	method, p string,
	encode func(e *jx.Encoder),
	want int,
	decode func(d *jx.Decoder) error,
) error {
	u := *c.base
	u.Path = path.Join(c.base.Path, p)
	u.RawPath = ""

	var body io.Reader
	if encode != nil {
		var e jx.Encoder
		encode(&e)
		body = bytes.NewReader(e.Bytes())
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(api.HeaderAPIKey, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, p)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		var e api.Error
		if len(data) > 0 && e.Decode(jx.DecodeBytes(data)) == nil {
			apiErr.Message = e.Message
		}
		c.lg.Warn("Authority request failed",
			zap.String("method", method),
			zap.String("path", p),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return apiErr
	}

	if err := decode(jx.DecodeBytes(data)); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
