package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(s string) *string { return &s }

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   bool
	}{
		{"ok", "hello", false},
		{"padded", "  hello  ", false},
		{"empty", "", true},
		{"whitespace", " \n\t ", true},
		{"max runes", strings.Repeat("é", MaxMessageLength), false},
		{"too long", strings.Repeat("a", MaxMessageLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateMessage(tt.content)
			assert.Equal(t, tt.field, errs.HasErrors(), errs)
		})
	}
}

func TestValidateProfile(t *testing.T) {
	assert.False(t, ValidateProfile(nil, nil).HasErrors())
	assert.False(t, ValidateProfile(ptr("Ana"), ptr("https://img.example.com/a.png")).HasErrors())
	// clearing the avatar is allowed
	assert.False(t, ValidateProfile(nil, ptr("")).HasErrors())

	errs := ValidateProfile(ptr("   "), ptr("javascript:alert(1)"))
	assert.Contains(t, errs, "name")
	assert.Contains(t, errs, "avatar_url")

	errs = ValidateProfile(ptr(strings.Repeat("n", MaxNameLength+1)), nil)
	assert.Contains(t, errs, "name")
}

func TestValidateNewUser(t *testing.T) {
	assert.False(t, ValidateNewUser("google-1", "012345", "Ana", "ana@example.com", "").HasErrors())

	errs := ValidateNewUser("", "12a456", "", "not-an-email", "ftp://x")
	assert.Len(t, errs, 5)
	for _, field := range []string{"id", "display_id", "name", "email", "avatar_url"} {
		assert.Contains(t, errs, field)
	}

	assert.Contains(t, ValidateNewUser("g", "1234567", "Ana", "ana@example.com", ""), "display_id")
}
