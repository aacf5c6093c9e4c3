package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is a single transaction submitted for scoring.
// It is immutable once submitted.
type TransactionRecord struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Merchant    string          `json:"merchant"`
	Category    string          `json:"category,omitempty"`
	Location    string          `json:"location"`
	CardPresent bool            `json:"cardPresent"`
	DeviceID    string          `json:"deviceId,omitempty"`
	CustomerIP  string          `json:"customerIp,omitempty"`

	// Timestamp is zero when the caller did not send one; the engine clock is used instead.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// History holds prior amounts for the same customer, oldest first.
	History []decimal.Decimal `json:"history,omitempty"`
}

// EntityKey identifies who the transaction belongs to for alert de-duplication.
// The merchant is never used: it is shared by unrelated cardholders.
func (t *TransactionRecord) EntityKey() string {
	for _, k := range []string{t.CustomerID, t.DeviceID, t.CustomerIP} {
		if k != "" {
			return k
		}
	}
	return t.ID
}

// Validate checks the record before any model runs.
func (t *TransactionRecord) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	for _, h := range t.History {
		if h.IsNegative() {
			return &ValidationError{Field: "history", Reason: "amounts must not be negative"}
		}
	}
	return nil
}

// TransactionRequest is the API request payload for transaction scoring.
type TransactionRequest struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customerId,omitempty"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Merchant    string            `json:"merchant"`
	Category    string            `json:"category,omitempty"`
	Location    string            `json:"location"`
	CardPresent bool              `json:"cardPresent"`
	DeviceID    string            `json:"deviceId,omitempty"`
	CustomerIP  string            `json:"customerIp,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
	History     []decimal.Decimal `json:"history,omitempty"`
}

// ToRecord converts a request to a validated TransactionRecord.
func (r *TransactionRequest) ToRecord() (*TransactionRecord, error) {
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return nil, err
	}
	rec := &TransactionRecord{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		Amount:      r.Amount,
		Currency:    strings.ToUpper(r.Currency),
		Merchant:    r.Merchant,
		Category:    r.Category,
		Location:    r.Location,
		CardPresent: r.CardPresent,
		DeviceID:    r.DeviceID,
		CustomerIP:  r.CustomerIP,
		Timestamp:   ts,
		History:     r.History,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ParseTimestamp parses an RFC 3339 timestamp. An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: "must be RFC 3339"}
	}
	return ts, nil
}
