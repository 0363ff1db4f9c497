package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
var phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-]{7,20}$`)

// Builtin is a named validator that inspects one already-cast value and
// returns a human-readable message on failure, or "" on success (spec §4.3
// "built-in validators: email, url, phone, length, range, pattern, enum").
type Builtin func(value any, params map[string]any) string

// Builtins is the registry of built-in validator names (spec §4.3).
var Builtins = map[string]Builtin{
	"email":    validateEmail,
	"url":      validateURL,
	"phone":    validatePhone,
	"length":   validateLength,
	"range":    validateRange,
	"pattern":  validatePattern,
	"enum":     validateEnum,
	"integer":  validateIntegerBuiltin,
	"positive": validatePositive,
	"unique":   validateUniquePlaceholder,
}

func validateEmail(value any, _ map[string]any) string {
	s, ok := value.(string)
	if !ok || !emailPattern.MatchString(s) {
		return "must be a valid email address"
	}
	return ""
}

func validateURL(value any, _ map[string]any) string {
	s, ok := value.(string)
	if !ok {
		return "must be a valid url"
	}
	u, err := url.ParseRequestURI(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "must be a valid url"
	}
	return ""
}

func validatePhone(value any, _ map[string]any) string {
	s, ok := value.(string)
	if !ok || !phonePattern.MatchString(s) {
		return "must be a valid phone number"
	}
	return ""
}

func validateLength(value any, params map[string]any) string {
	s, ok := value.(string)
	if !ok {
		return "must be a string"
	}
	length := len([]rune(s))
	if min, ok := asInt(params["min"]); ok && length < min {
		return fmt.Sprintf("must be at least %d characters", min)
	}
	if max, ok := asInt(params["max"]); ok && length > max {
		return fmt.Sprintf("must be at most %d characters", max)
	}
	return ""
}

func validateRange(value any, params map[string]any) string {
	f, ok := asFloat(value)
	if !ok {
		return "must be numeric"
	}
	if min, ok := asFloat(params["min"]); ok && f < min {
		return fmt.Sprintf("must be at least %v", min)
	}
	if max, ok := asFloat(params["max"]); ok && f > max {
		return fmt.Sprintf("must be at most %v", max)
	}
	return ""
}

func validatePattern(value any, params map[string]any) string {
	s, ok := value.(string)
	if !ok {
		return "must be a string"
	}
	expr, _ := params["expr"].(string)
	if expr == "" {
		return ""
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return "invalid pattern configuration"
	}
	if !re.MatchString(s) {
		if msg, ok := params["message"].(string); ok && msg != "" {
			return msg
		}
		return "has invalid format"
	}
	return ""
}

func validateEnum(value any, params map[string]any) string {
	raw, ok := params["values"].([]any)
	if !ok {
		return ""
	}
	want := fmt.Sprint(value)
	for _, v := range raw {
		if fmt.Sprint(v) == want {
			return ""
		}
	}
	allowed := make([]string, len(raw))
	for i, v := range raw {
		allowed[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", "))
}

func validateIntegerBuiltin(value any, _ map[string]any) string {
	switch value.(type) {
	case int64, int:
		return ""
	default:
		return "must be an integer"
	}
}

func validatePositive(value any, _ map[string]any) string {
	f, ok := asFloat(value)
	if !ok || f <= 0 {
		return "must be positive"
	}
	return ""
}

// validateUniquePlaceholder always passes: uniqueness is enforced by the
// engine against the storage backend, not by a stateless built-in (spec
// §4.4 "unique properties are checked against the backend before commit").
func validateUniquePlaceholder(_ any, _ map[string]any) string { return "" }

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
