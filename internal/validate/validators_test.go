package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	assert.Equal(t, "", validateEmail("a@b.com", nil))
	assert.NotEqual(t, "", validateEmail("not-an-email", nil))
}

func TestValidateURL(t *testing.T) {
	assert.Equal(t, "", validateURL("https://example.com/path", nil))
	assert.NotEqual(t, "", validateURL("not a url", nil))
}

func TestValidatePhone(t *testing.T) {
	assert.Equal(t, "", validatePhone("+1 (555) 123-4567", nil))
	assert.NotEqual(t, "", validatePhone("abc", nil))
}

func TestValidateLength(t *testing.T) {
	params := map[string]any{"min": float64(2), "max": float64(5)}
	assert.Equal(t, "", validateLength("abc", params))
	assert.NotEqual(t, "", validateLength("a", params))
	assert.NotEqual(t, "", validateLength("abcdefgh", params))
}

func TestValidateRange(t *testing.T) {
	params := map[string]any{"min": float64(0), "max": float64(100)}
	assert.Equal(t, "", validateRange(int64(50), params))
	assert.NotEqual(t, "", validateRange(int64(-1), params))
	assert.NotEqual(t, "", validateRange(int64(101), params))
}

func TestValidatePattern(t *testing.T) {
	params := map[string]any{"expr": `^[a-z]+$`}
	assert.Equal(t, "", validatePattern("abc", params))
	assert.NotEqual(t, "", validatePattern("ABC", params))
}

func TestValidateEnum(t *testing.T) {
	params := map[string]any{"values": []any{"red", "green", "blue"}}
	assert.Equal(t, "", validateEnum("red", params))
	assert.NotEqual(t, "", validateEnum("purple", params))
}

func TestValidatePositive(t *testing.T) {
	assert.Equal(t, "", validatePositive(int64(5), nil))
	assert.NotEqual(t, "", validatePositive(int64(0), nil))
	assert.NotEqual(t, "", validatePositive(int64(-5), nil))
}

func TestValidateUniquePlaceholder_AlwaysPasses(t *testing.T) {
	assert.Equal(t, "", validateUniquePlaceholder("anything", nil))
}
