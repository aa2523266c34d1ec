package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
)

// Coerce converts a raw driver, csv or JSON value to the Go type of the property kind
func Coerce(prop *manifest.Property, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		if prop.Kind == manifest.KindBinary {
			return append([]byte(nil), b...), nil
		}

		v = string(b)
	}

	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			v = i
		} else if f, err := n.Float64(); err == nil {
			v = f
		}
	}

	if v == nil {
		return nil, nil
	}

	s, isString := v.(string)
	if isString && s == "" && prop.Kind != manifest.KindString && prop.Kind != manifest.KindText {
		return nil, nil
	}

	switch prop.Kind { //nolint:exhaustive // Other kinds pass through as read
	case manifest.KindInteger:
		switch val := v.(type) {
		case int64:
			return val, nil
		case int:
			return int64(val), nil
		case float64:
			return int64(val), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not an integer", prop.Name, val)
			}

			return n, nil
		}
	case manifest.KindNumber:
		switch val := v.(type) {
		case float64:
			return val, nil
		case int64:
			return float64(val), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a number", prop.Name, val)
			}

			return f, nil
		}
	case manifest.KindBoolean:
		switch val := v.(type) {
		case bool:
			return val, nil
		case int64:
			return val != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a boolean", prop.Name, val)
			}

			return b, nil
		}
	case manifest.KindDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.DateOnly), nil
		}
	case manifest.KindDatetime:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339Nano), nil
		}
	case manifest.KindTime:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.TimeOnly), nil
		}
	}

	return v, nil
}

// compare orders two key values with nulls after everything else
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}

	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareKeys(a, b []any) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compare(a[i], b[i]); c != 0 {
			return c
		}
	}

	return len(a) - len(b)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
