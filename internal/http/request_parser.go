// Package http serves the saldo JSON API.
//
// This file implements parsing and validation of path, query and body
// parameters shared by the handlers.

package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// maxBodyBytes bounds request bodies; the API only accepts tiny payloads.
const maxBodyBytes = 64 << 10

// ParseUserID returns the {userId} path value after checking it is a UUID.
func ParseUserID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("userId"))
	if err := core.ValidateUserID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ParseAccountID returns the {accountId} path value after checking it is a UUID.
func ParseAccountID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("accountId"))
	if err := core.ValidateAccountID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp, keeping only the
// calendar day as written. An empty value yields the zero date.
func ParseDate(name, value string) (core.Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return core.Date{}, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return core.DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return core.NewDate(t.Year(), int(t.Month()), t.Day()), nil
	}
	return core.Date{}, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC 3339", core.ErrInvalidInput, name)
}

// ParseDateRange reads fromDate and toDate from the query.
func ParseDateRange(query url.Values) (core.DateRange, error) {
	from, err := ParseDate("fromDate", query.Get("fromDate"))
	if err != nil {
		return core.DateRange{}, err
	}
	to, err := ParseDate("toDate", query.Get("toDate"))
	if err != nil {
		return core.DateRange{}, err
	}
	r := core.DateRange{From: from, To: to}
	if err := r.Validate(); err != nil {
		return core.DateRange{}, err
	}
	return r, nil
}

// ParseBaseCurrencyID reads baseCurrencyId. When absent, fallback is used if
// positive and nil is returned otherwise.
func ParseBaseCurrencyID(query url.Values, fallback int64) (*int64, error) {
	v := strings.TrimSpace(query.Get("baseCurrencyId"))
	if v == "" {
		if fallback > 0 {
			return &fallback, nil
		}
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 1 {
		return nil, fmt.Errorf("%w: baseCurrencyId must be a positive integer", core.ErrInvalidInput)
	}
	return &id, nil
}

// ParseDeletedFilter reads includeDeleted as a boolean; absent means exclude.
func ParseDeletedFilter(query url.Values) (core.DeletedFilter, error) {
	v := strings.TrimSpace(query.Get("includeDeleted"))
	if v == "" {
		return core.ExcludeDeleted, nil
	}
	include, err := strconv.ParseBool(v)
	if err != nil {
		return core.ExcludeDeleted, fmt.Errorf("%w: includeDeleted must be a boolean", core.ErrInvalidInput)
	}
	if include {
		return core.IncludeDeleted, nil
	}
	return core.ExcludeDeleted, nil
}

// RequestBodyParser reads a JSON or form-encoded body once and exposes its
// fields as strings. JSON numbers keep their literal text.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser reads at most maxBodyBytes from the request body.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{contentType: r.Header.Get("Content-Type")}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = fmt.Errorf("%w: request body too large", core.ErrInvalidInput)
	}
	return p
}

// Parse decodes the body as JSON when it looks like JSON and as form data otherwise.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		p.jsonData = make(map[string]any)
		if err := dec.Decode(&p.jsonData); err != nil {
			p.jsonData = nil
			p.err = fmt.Errorf("%w: malformed JSON body", core.ErrInvalidInput)
			return p.err
		}
		return nil
	}

	form, err := url.ParseQuery(string(trimmed))
	if err != nil {
		p.err = fmt.Errorf("%w: malformed form body", core.ErrInvalidInput)
		return p.err
	}
	p.formData = form
	return nil
}

// Get returns a trimmed string value from the parsed body.
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return strings.TrimSpace(p.formData.Get(key))
	}
	return ""
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseBalanceBody reads {"balance": ...} given as a JSON string or number, or a
// form field. Negative balances are allowed.
func ParseBalanceBody(r *http.Request) (decimal.Decimal, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return decimal.Zero, err
	}
	raw := p.Get("balance")
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: balance is required", core.ErrInvalidAmount)
	}
	return core.ParseBalance(raw)
}
