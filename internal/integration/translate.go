package integration

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/reckonhq/reckon/internal/errors"
)

// ParseMinorUnits normalizes a provider monetary amount into integer minor
// units. Providers disagree on representation: Stripe sends integer cents,
// Paddle sends decimal strings like "12.34". JSON numbers arrive as float64
// regardless, so exact integers are detected before converting.
func ParseMinorUnits(value interface{}) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		d := decimal.NewFromFloat(v)
		if !d.IsInteger() {
			// fractional minor units never occur in a valid payload
			return 0, ierr.NewError("amount is not an integer number of minor units").
				WithHint("Monetary amounts must be whole minor units").
				WithReportableDetails(map[string]any{"amount": v}).
				Mark(ierr.ErrValidation)
		}
		return d.IntPart(), nil
	case json.Number:
		return ParseMinorUnits(string(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, ierr.WithError(err).
				WithHint("Monetary amounts must be numeric").
				WithReportableDetails(map[string]any{"amount": s}).
				Mark(ierr.ErrValidation)
		}
		if strings.Contains(s, ".") {
			// decimal major units: scale to minor units exactly
			d = d.Shift(2)
		}
		if !d.IsInteger() {
			return 0, ierr.NewError("amount has sub-minor-unit precision").
				WithHint("Monetary amounts must be whole minor units").
				WithReportableDetails(map[string]any{"amount": s}).
				Mark(ierr.ErrValidation)
		}
		return d.IntPart(), nil
	default:
		return 0, ierr.NewError("unsupported amount type").
			WithHint("Monetary amounts must be numbers or numeric strings").
			WithReportableDetails(map[string]any{"amount": value}).
			Mark(ierr.ErrValidation)
	}
}

// ParseFlexibleTime accepts the timestamp shapes seen across provider
// payloads: RFC3339 strings, unix epoch seconds, and epoch milliseconds.
// Epochs above 1e12 are treated as milliseconds.
func ParseFlexibleTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case float64:
		return fromEpoch(int64(v)), nil
	case int64:
		return fromEpoch(v), nil
	case json.Number:
		return ParseFlexibleTime(string(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, nil
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(epoch), nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, ierr.NewError("unrecognized timestamp format").
			WithHint("Timestamps must be RFC3339 or unix epoch").
			WithReportableDetails(map[string]any{"timestamp": s}).
			Mark(ierr.ErrValidation)
	default:
		return time.Time{}, ierr.NewError("unsupported timestamp type").
			WithHint("Timestamps must be strings or numbers").
			WithReportableDetails(map[string]any{"timestamp": value}).
			Mark(ierr.ErrValidation)
	}
}

func fromEpoch(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	if v > 1_000_000_000_000 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// GetString reads a string field from a decoded JSON object
func GetString(obj map[string]interface{}, key string) string {
	if obj == nil {
		return ""
	}
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

// GetObject reads a nested object field from a decoded JSON object
func GetObject(obj map[string]interface{}, key string) map[string]interface{} {
	if obj == nil {
		return nil
	}
	if m, ok := obj[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// GetArray reads an array field from a decoded JSON object
func GetArray(obj map[string]interface{}, key string) []interface{} {
	if obj == nil {
		return nil
	}
	if a, ok := obj[key].([]interface{}); ok {
		return a
	}
	return nil
}

// GetBool reads a boolean field from a decoded JSON object
func GetBool(obj map[string]interface{}, key string) bool {
	if obj == nil {
		return false
	}
	if b, ok := obj[key].(bool); ok {
		return b
	}
	return false
}
