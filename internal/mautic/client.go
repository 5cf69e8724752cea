// Package mautic is the HTTP adapter for the Mautic contacts API. Credentials
// are sent as Basic auth and never leave this package.
package mautic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dncproxy/pkg/platform/sentinel"
)

const (
	// DNCReasonUnsubscribed is Mautic's "unsubscribed" reason code.
	DNCReasonUnsubscribed = 1
	DefaultComment        = "Unsubscribed via website"

	maxBodyBytes    = 1 << 20
	maxDetailLength = 200
)

var tracer = otel.Tracer("dncproxy/mautic")

type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client calls the Mautic REST API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping lists one contact to prove the API answers and the credentials work.
// The error text is the reachability detail: "HTTP <code>" or
// "connection error: <msg>".
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "mautic.Ping")
	defer span.End()

	status, _, err := c.do(ctx, http.MethodGet, "/api/contacts", url.Values{"limit": {"1"}}, nil)
	if err != nil {
		return spanError(span, err)
	}
	if status != http.StatusOK {
		return spanError(span, &StatusError{StatusCode: status})
	}
	return nil
}

// SearchCandidates runs an exact email search and returns every contact
// Mautic offered, matching or not.
func (c *Client) SearchCandidates(ctx context.Context, email string) ([]Contact, error) {
	params := url.Values{
		"where[0][col]":  {"email"},
		"where[0][expr]": {"eq"},
		"where[0][val]":  {email},
	}
	status, body, err := c.do(ctx, http.MethodGet, "/api/contacts", params, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{StatusCode: status, Body: truncate(body)}
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode contact search: %w", err)
	}
	candidates, err := resp.candidates()
	if err != nil {
		return nil, fmt.Errorf("decode contact search: %w", err)
	}
	return candidates, nil
}

// FindContact returns the contact whose core email equals email ignoring
// case. The lookup is sent lowercased. Candidates that only resemble the
// address do not count; no exact match yields sentinel.ErrNotFound.
func (c *Client) FindContact(ctx context.Context, email string) (ContactRef, error) {
	ctx, span := tracer.Start(ctx, "mautic.FindContact")
	defer span.End()

	lookup := strings.ToLower(strings.TrimSpace(email))
	candidates, err := c.SearchCandidates(ctx, lookup)
	if err != nil {
		return ContactRef{}, spanError(span, err)
	}
	span.SetAttributes(attribute.Int("mautic.candidates", len(candidates)))

	match, ok := ExactMatch(candidates, lookup)
	if !ok {
		return ContactRef{}, fmt.Errorf("contact lookup: %w", sentinel.ErrNotFound)
	}
	span.SetAttributes(attribute.String("mautic.contact_id", match.ID))
	return ContactRef{ID: match.ID}, nil
}

// ExactMatch picks the candidate whose email equals email ignoring case.
// Several matches resolve to the lowest numeric id.
func ExactMatch(candidates []Contact, email string) (Contact, bool) {
	var matches []Contact
	for _, cand := range candidates {
		if strings.EqualFold(strings.TrimSpace(cand.Email), email) {
			matches = append(matches, cand)
		}
	}
	if len(matches) == 0 {
		return Contact{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i].ID) != len(matches[j].ID) {
			return len(matches[i].ID) < len(matches[j].ID)
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], true
}

// GetContact loads one contact including its doNotContact entries.
func (c *Client) GetContact(ctx context.Context, id string) (*Contact, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/contacts/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("contact %s: %w", id, sentinel.ErrNotFound)
	}
	if status != http.StatusOK {
		return nil, &StatusError{StatusCode: status, Body: truncate(body)}
	}

	var resp contactResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	if resp.Contact == nil {
		var bare contactPayload
		if err := json.Unmarshal(body, &bare); err != nil {
			return nil, fmt.Errorf("decode contact: %w", err)
		}
		resp.Contact = &bare
	}
	contact := resp.Contact.toContact(id)
	return &contact, nil
}

// AddDNC posts an email-channel DNC entry and reports the raw outcome,
// including errors Mautic embeds in a 200 body.
func (c *Client) AddDNC(ctx context.Context, id, comments string) (*DNCResult, error) {
	payload, err := json.Marshal(dncRequest{Reason: DNCReasonUnsubscribed, Comments: comments})
	if err != nil {
		return nil, fmt.Errorf("encode dnc request: %w", err)
	}
	status, body, err := c.do(ctx, http.MethodPost, "/api/contacts/"+url.PathEscape(id)+"/dnc/email/add", nil, payload)
	if err != nil {
		return nil, err
	}
	return &DNCResult{StatusCode: status, Errors: bodyErrors(body), Body: body}, nil
}

// Suppress adds the contact to the email DNC list. Success requires HTTP
// 200/201 and a body without errors.
func (c *Client) Suppress(ctx context.Context, ref ContactRef) error {
	ctx, span := tracer.Start(ctx, "mautic.Suppress", trace.WithAttributes(attribute.String("mautic.contact_id", ref.ID)))
	defer span.End()

	res, err := c.AddDNC(ctx, ref.ID, DefaultComment)
	if err != nil {
		return spanError(span, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))
	if !res.Accepted() {
		detail := res.Errors
		if detail == "" {
			detail = truncate(res.Body)
		}
		return spanError(span, &SuppressionError{StatusCode: res.StatusCode, Errors: detail})
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) (int, []byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, connectionError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, connectionError(err)
	}
	return resp.StatusCode, respBody, nil
}

// bodyErrors extracts a non-empty "errors" or "error" member.
func bodyErrors(body []byte) string {
	var envelope struct {
		Errors json.RawMessage `json:"errors"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	for _, raw := range []json.RawMessage{envelope.Errors, envelope.Error} {
		if s := strings.TrimSpace(string(raw)); s != "" && !isEmptyJSON(s) {
			return truncateString(s)
		}
	}
	return ""
}

func isEmptyJSON(s string) bool {
	switch s {
	case "null", "false", `""`, "[]", "{}", "0":
		return true
	}
	return false
}

func truncate(body []byte) string {
	return truncateString(string(body))
}

// truncateString makes upstream text safe to store: invalid UTF-8 becomes
// U+FFFD, NULs are dropped and the result is cut to maxDetailLength runes.
func truncateString(s string) string {
	s = strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
	n := 0
	for i := range s {
		if n == maxDetailLength {
			return s[:i]
		}
		n++
	}
	return s
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// IsUnavailable reports whether err is a transport failure rather than an
// HTTP answer.
func IsUnavailable(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable)
}
