package formula

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// normalize maps Go numeric kinds and json.Number onto float64 so the evaluator only sees one number type.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	}
	return v
}

// Truthy reports whether a value counts as true in a boolean position.
func Truthy(v interface{}) bool {
	switch t := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case time.Time:
		return !t.IsZero()
	}
	return true
}

// ToNumber coerces a value to float64. Numeric strings and booleans convert; anything else does not.
func ToNumber(v interface{}) (float64, bool) {
	switch t := normalize(v).(type) {
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ToText renders a value the way it reads in a cell.
func ToText(v interface{}) string {
	switch t := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return formatNumber(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Equal compares two values after best-effort coercion. A numeric string equals the number it spells.
func Equal(a, b interface{}) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case float64:
		if bt, ok := b.(time.Time); ok {
			at, _ := ToTime(av)
			return at.Equal(bt)
		}
		if bn, ok := ToNumber(b); ok {
			if _, isBool := b.(bool); !isBool {
				return av == bn
			}
		}
		return false
	case string:
		switch bv := b.(type) {
		case string:
			return av == bv
		case float64:
			an, ok := ToNumber(av)
			return ok && an == bv
		case bool:
			return av == strconv.FormatBool(bv)
		case time.Time:
			at, ok := ToTime(av)
			return ok && at.Equal(bv)
		}
		return false
	case bool:
		switch bv := b.(type) {
		case bool:
			return av == bv
		case string:
			return strconv.FormatBool(av) == bv
		}
		return false
	case time.Time:
		bt, ok := ToTime(b)
		return ok && av.Equal(bt)
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, exists := bv[k]
			if !exists || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToTime accepts time values and ISO-8601 style strings.
func ToTime(v interface{}) (time.Time, bool) {
	switch t := normalize(v).(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	case float64:
		// Unix milliseconds, the form dates take in most exported lead data.
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}
