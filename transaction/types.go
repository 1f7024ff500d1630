// Package transaction defines the canonical transaction record ingested
// from external sources and processed by the rules pipeline.
package transaction

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProcessingStatus is the lifecycle state of a transaction.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusCompleted  ProcessingStatus = "COMPLETED"
	StatusFailed     ProcessingStatus = "FAILED"
)

// Transaction is one external sales/order record mapped into canonical
// shape. Created by the extraction pipeline, mutated by the processor
// and the retry path.
type Transaction struct {
	ID              string           `db:"id" json:"id"`
	CampaignID      string           `db:"campaign_id" json:"campaignId"`
	ExternalID      string           `db:"external_id" json:"externalId"`
	ExternalType    string           `db:"external_type" json:"externalType"`
	UserID          string           `db:"user_id" json:"userId"`
	Data            FieldMap         `db:"transaction_data" json:"transactionData"`
	Status          ProcessingStatus `db:"processing_status" json:"processingStatus"`
	RetryCount      int              `db:"retry_count" json:"retryCount"`
	MaxRetries      int              `db:"max_retries" json:"maxRetries"`
	PointsAllocated int              `db:"points_allocated" json:"pointsAllocated"`
	ErrorMessage    *string          `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updatedAt"`
	ProcessedAt     *time.Time       `db:"processed_at" json:"processedAt,omitempty"`
}

// FieldMap is the opaque per-transaction field container. Values come
// straight from the mapped source row; evaluators access them through
// the typed accessors below so a type mismatch surfaces as an error
// instead of a silent false.
type FieldMap map[string]any

// Has reports whether the key is present, even with a nil value.
func (m FieldMap) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Get returns the raw value for key.
func (m FieldMap) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// String returns the value for key as a string.
func (m FieldMap) String(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("field %q not present", key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", fmt.Errorf("field %q is null", key)
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// Number returns the value for key coerced to float64. Numeric strings
// are parsed; anything else is a coercion error.
func (m FieldMap) Number(key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("field %q not present", key)
	}
	f, err := CoerceNumber(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return f, nil
}

// Time returns the value for key as a time.Time. RFC 3339 strings and
// bare dates are accepted.
func (m FieldMap) Time(key string) (time.Time, error) {
	v, ok := m[key]
	if !ok {
		return time.Time{}, fmt.Errorf("field %q not present", key)
	}
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("field %q: cannot parse %q as time", key, t)
	default:
		return time.Time{}, fmt.Errorf("field %q: cannot coerce %T to time", key, v)
	}
}

// CoerceNumber converts a raw field value to float64. It is shared by
// the field map accessors and the rule evaluators so both sides of a
// comparison coerce identically.
func CoerceNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to number", n.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to number", v)
	}
}

// Value implements driver.Valuer so the field map persists as JSONB.
func (m FieldMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *FieldMap) Scan(src any) error {
	if src == nil {
		*m = FieldMap{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FieldMap", src)
	}
	return json.Unmarshal(raw, m)
}
