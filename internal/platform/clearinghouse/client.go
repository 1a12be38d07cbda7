// Package clearinghouse is the adapter for the billing clearinghouse's
// XML-over-HTTPS partner API: eligibility checks, claim submission and
// remittance polling. Local billing entities are mapped to and from the
// partner shapes here and nowhere else.
package clearinghouse

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mentalspace/ehr/internal/platform/retry"
)

// ErrRejected is returned when the partner processed the request and
// refused it. The message carries the partner's reason.
var ErrRejected = errors.New("clearinghouse rejected request")

type Config struct {
	BaseURL   string
	Username  string
	Password  string
	OfficeKey string
}

// Client talks to the clearinghouse. Network failures and 5xx/429 replies
// are retried with backoff; rejections are not.
type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		policy: retry.DefaultPolicy,
	}
}

// Enabled reports whether a clearinghouse endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.BaseURL != ""
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type envelope struct {
	XMLName   xml.Name `xml:"request"`
	Action    string   `xml:"action,attr"`
	OfficeKey string   `xml:"officekey,attr"`
	Body      any      `xml:",omitempty"`
}

type responseError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type responseHeader struct {
	Status string         `xml:"status,attr"`
	Error  *responseError `xml:"error"`
}

func (h responseHeader) err() error {
	if strings.EqualFold(h.Status, "ok") {
		return nil
	}
	if h.Error != nil {
		return fmt.Errorf("%w: %s %s", ErrRejected, h.Error.Code, strings.TrimSpace(h.Error.Message))
	}
	return fmt.Errorf("%w: status %q", ErrRejected, h.Status)
}

// ---------------------------------------------------------------------------
// Eligibility
// ---------------------------------------------------------------------------

type EligibilityRequest struct {
	XMLName     xml.Name `xml:"eligibility"`
	PayerID     string   `xml:"payer>id"`
	MemberID    string   `xml:"subscriber>memberid"`
	GroupNumber string   `xml:"subscriber>group,omitempty"`
	FirstName   string   `xml:"subscriber>firstname"`
	LastName    string   `xml:"subscriber>lastname"`
	DateOfBirth string   `xml:"subscriber>dob"`
	ServiceDate string   `xml:"servicedate"`
	ProviderNPI string   `xml:"provider>npi,omitempty"`
}

type EligibilityResponse struct {
	XMLName xml.Name `xml:"response"`
	responseHeader
	Active     string `xml:"coverage>active"`
	PlanName   string `xml:"coverage>plan"`
	CopayCents int64  `xml:"coverage>copaycents"`
	Reference  string `xml:"reference"`
}

// IsActive reports whether the payer confirmed active coverage.
func (r *EligibilityResponse) IsActive() bool {
	return strings.EqualFold(r.Active, "y") || strings.EqualFold(r.Active, "yes") || strings.EqualFold(r.Active, "true")
}

func (c *Client) CheckEligibility(ctx context.Context, req EligibilityRequest) (*EligibilityResponse, error) {
	var out EligibilityResponse
	if err := c.post(ctx, "/eligibility", "checkeligibility", req, &out); err != nil {
		return nil, err
	}
	if err := out.err(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

type ClaimLine struct {
	CPTCode     string   `xml:"cpt"`
	Units       int      `xml:"units"`
	ChargeCents int64    `xml:"chargecents"`
	Diagnoses   []string `xml:"diagnoses>icd10"`
}

type ClaimSubmission struct {
	XMLName      xml.Name  `xml:"claim"`
	Reference    string    `xml:"reference,attr"`
	PayerID      string    `xml:"payer>id"`
	MemberID     string    `xml:"subscriber>memberid"`
	GroupNumber  string    `xml:"subscriber>group,omitempty"`
	PatientFirst string    `xml:"patient>firstname"`
	PatientLast  string    `xml:"patient>lastname"`
	PatientDOB   string    `xml:"patient>dob"`
	ProviderNPI  string    `xml:"provider>npi"`
	ServiceDate  string    `xml:"servicedate"`
	PlaceCode    string    `xml:"placeofservice"`
	Line         ClaimLine `xml:"line"`
}

type SubmissionResult struct {
	XMLName xml.Name `xml:"response"`
	responseHeader
	ClaimID string `xml:"claimid"`
}

// SubmitClaim returns the clearinghouse claim id on acceptance.
func (c *Client) SubmitClaim(ctx context.Context, claim ClaimSubmission) (*SubmissionResult, error) {
	var out SubmissionResult
	if err := c.post(ctx, "/claims", "submitclaim", claim, &out); err != nil {
		return nil, err
	}
	if err := out.err(); err != nil {
		return nil, err
	}
	if out.ClaimID == "" {
		return nil, fmt.Errorf("%w: no claim id returned", ErrRejected)
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Remittance
// ---------------------------------------------------------------------------

type Remittance struct {
	ClaimID      string `xml:"claimid"`
	Reference    string `xml:"reference"`
	Status       string `xml:"status"`
	PaidCents    int64  `xml:"paidcents"`
	DenialReason string `xml:"denialreason,omitempty"`
	PaidDate     string `xml:"paiddate"`
}

// Paid reports a paid remittance; anything else with a denial reason is a denial.
func (r Remittance) Paid() bool {
	return strings.EqualFold(r.Status, "paid")
}

type remittanceResponse struct {
	XMLName xml.Name `xml:"response"`
	responseHeader
	Items []Remittance `xml:"remittances>remittance"`
}

// FetchRemittances returns remittances posted since the given time along
// with the raw payload, which callers archive.
func (c *Client) FetchRemittances(ctx context.Context, since time.Time) ([]Remittance, []byte, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	raw, err := c.do(ctx, http.MethodGet, "/remittances?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, err
	}
	var out remittanceResponse
	if err := xml.Unmarshal(raw, &out); err != nil {
		return nil, raw, fmt.Errorf("decode remittance response: %w", err)
	}
	if err := out.err(); err != nil {
		return nil, raw, err
	}
	return out.Items, raw, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) post(ctx context.Context, path, action string, body, out any) error {
	payload, err := xml.Marshal(envelope{Action: action, OfficeKey: c.cfg.OfficeKey, Body: body})
	if err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}
	raw, err := c.do(ctx, http.MethodPost, path, append([]byte(xml.Header), payload...))
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if !c.Enabled() {
		return nil, errors.New("clearinghouse not configured")
	}
	var raw []byte
	err := retry.Do(ctx, c.policy, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		req.Header.Set("X-Office-Key", c.cfg.OfficeKey)
		req.Header.Set("Accept", "application/xml")
		if payload != nil {
			req.Header.Set("Content-Type", "application/xml; charset=utf-8")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.Transient(fmt.Errorf("clearinghouse %s %s: %w", method, path, err))
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return retry.Transient(fmt.Errorf("read clearinghouse response: %w", err))
		}
		if resp.StatusCode >= 300 {
			return retry.StatusError(resp.StatusCode, truncate(string(b), 512))
		}
		raw = b
		return nil
	})
	return raw, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
