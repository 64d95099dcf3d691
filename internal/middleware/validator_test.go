package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateScanID(t *testing.T) {
	assert.NoError(t, ValidateScanID("0b976702-57fe-4b77-9a18-97431b8bb5f7"))
	assert.NoError(t, ValidateScanID("0B976702-57FE-4B77-9A18-97431B8BB5F7"))

	assert.Error(t, ValidateScanID(""))
	assert.Error(t, ValidateScanID("not-a-uuid"))
	assert.Error(t, ValidateScanID("0b976702-57fe-4b77-9a18"))
	assert.Error(t, ValidateScanID("0b976702-57fe-4b77-9a18-97431b8bb5f7x"))
	assert.Error(t, ValidateScanID("../../etc/passwd"))
}

func TestValidateLimit(t *testing.T) {
	assert.Equal(t, 50, ValidateLimit(0))
	assert.Equal(t, 50, ValidateLimit(-5))
	assert.Equal(t, 25, ValidateLimit(25))
	assert.Equal(t, 200, ValidateLimit(200))
	assert.Equal(t, 200, ValidateLimit(10000))
}

func TestValidateDays(t *testing.T) {
	assert.Equal(t, 7, ValidateDays(0))
	assert.Equal(t, 30, ValidateDays(30))
	assert.Equal(t, 365, ValidateDays(400))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "app.jar", SanitizeString("app.jar"))
	assert.Equal(t, "app.jar", SanitizeString("  app.jar  "))
	assert.Equal(t, "appjar", SanitizeString("app\x00jar"))
	assert.Equal(t, "ab", SanitizeString("a\x01\x02b"))
	assert.Equal(t, "a\tb", SanitizeString("a\tb"))
}
