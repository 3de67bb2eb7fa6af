package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Coerce converts value to the declared connection type, applying the
// cross-type compatibility rules the resolver relies on. A nil error means
// the returned value conforms to ct.
func Coerce(value interface{}, ct ConnectionType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch ct.Kind {
	case KindAny, KindJSON, KindFile:
		return value, nil

	case KindText:
		return coerceText(value)

	case KindNumber:
		return coerceNumber(value)

	case KindBoolean:
		return coerceBoolean(value)

	case KindSecret:
		return coerceSecret(value)

	case KindList:
		items, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", value)
		}
		element := Any()
		if ct.Element != nil {
			element = *ct.Element
		}
		coerced := make([]interface{}, len(items))
		for i, item := range items {
			v, err := Coerce(item, element)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			coerced[i] = v
		}
		return coerced, nil

	case KindMap:
		entries, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected map, got %T", value)
		}
		element := Any()
		if ct.Element != nil {
			element = *ct.Element
		}
		coerced := make(map[string]interface{}, len(entries))
		for k, item := range entries {
			v, err := Coerce(item, element)
			if err != nil {
				return nil, fmt.Errorf("map entry %q: %w", k, err)
			}
			coerced[k] = v
		}
		return coerced, nil

	case KindContract:
		if c, ok := LookupContract(ct.Contract); ok {
			if err := c.Validate(value); err != nil {
				return nil, fmt.Errorf("contract %s: %w", ct.Contract, err)
			}
		}
		return value, nil

	default:
		return nil, fmt.Errorf("unknown connection type %q", ct.Kind)
	}
}

// coerceText stringifies numbers and booleans; everything else must already
// be a string
func coerceText(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("expected text, got %T", value)
	}
}

// coerceNumber parses numeric strings; booleans are rejected as ambiguous
func coerceNumber(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", v.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("expected number, got %T", value)
	}
}

// coerceBoolean accepts bools and the literal strings "true"/"false"
func coerceBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("expected boolean, got %q", v)
	default:
		return nil, fmt.Errorf("expected boolean, got %T", value)
	}
}

// coerceSecret accepts strings and any JSON-serializable value
func coerceSecret(value interface{}) (interface{}, error) {
	if _, ok := value.(string); ok {
		return value, nil
	}
	if _, err := json.Marshal(value); err != nil {
		return nil, fmt.Errorf("secret value is not JSON-serializable: %w", err)
	}
	return value, nil
}
