package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/elementstore/core/internal/schema"
)

// Cast coerces raw into the Go representation for prop's data type (spec
// §4.3 "cast the raw value to the property's data type"). It accepts the
// JSON-decoded shapes (float64, string, bool, map[string]any, []any) that
// arrive over the wire and normalizes numeric strings too, the way a
// schema-driven form submission commonly does.
func Cast(prop schema.PropMeta, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if prop.IsArray {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array for %s", prop.Key)
		}
		out := make([]any, len(items))
		for i, item := range items {
			cast, err := castScalar(prop, item)
			if err != nil {
				return nil, err
			}
			out[i] = cast
		}
		return out, nil
	}
	return castScalar(prop, raw)
}

func castScalar(prop schema.PropMeta, raw any) (any, error) {
	switch prop.DataType {
	case schema.DataTypeString, schema.DataTypeUnique:
		return castString(raw)
	case schema.DataTypeBoolean:
		return castBool(raw)
	case schema.DataTypeInteger:
		return castInt(raw)
	case schema.DataTypeFloat:
		return castFloat(raw)
	case schema.DataTypeObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object for %s", prop.Key)
		}
		return m, nil
	case schema.DataTypeRelation:
		return castRelationRef(raw)
	case schema.DataTypeFunction:
		return castString(raw)
	default:
		return raw, nil
	}
}

func castString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("cannot cast %T to string", raw)
	}
}

func castBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("cannot cast %T to boolean", raw)
	}
}

func castInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("cannot cast %T to integer", raw)
	}
}

func castFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("cannot cast %T to float", raw)
	}
}

// castRelationRef accepts either a bare id (string/number) or an embedded
// object carrying an "id" field, returning the normalized id (spec §4.6
// "a relation value is either an id or an embedded object").
func castRelationRef(raw any) (any, error) {
	switch v := raw.(type) {
	case string, float64:
		return v, nil
	case map[string]any:
		if id, ok := v["id"]; ok {
			return id, nil
		}
		return nil, fmt.Errorf("embedded relation object missing id")
	default:
		return nil, fmt.Errorf("cannot cast %T to relation reference", raw)
	}
}
