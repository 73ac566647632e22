package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestDetectChange(t *testing.T) {
	tests := []struct {
		name      string
		before    *UserSnapshot
		after     *UserSnapshot
		wantFire  bool
		wantValue string
	}{
		{"unchanged", &UserSnapshot{DisplayName: strPtr("Alice")}, &UserSnapshot{DisplayName: strPtr("Alice")}, false, ""},
		{"renamed", &UserSnapshot{DisplayName: strPtr("Alice")}, &UserSnapshot{DisplayName: strPtr("Alicia")}, true, "Alicia"},
		{"first set", &UserSnapshot{}, &UserSnapshot{DisplayName: strPtr("Alice")}, true, "Alice"},
		{"missing before snapshot", nil, &UserSnapshot{DisplayName: strPtr("Alice")}, true, "Alice"},
		{"absent to empty", &UserSnapshot{}, &UserSnapshot{DisplayName: strPtr("")}, true, "User_abcdef"},
		{"cleared", &UserSnapshot{DisplayName: strPtr("Alice")}, &UserSnapshot{}, true, "User_abcdef"},
		{"both absent", &UserSnapshot{}, &UserSnapshot{}, false, ""},
		{"deleted", &UserSnapshot{DisplayName: strPtr("Alice")}, nil, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig, ok := DetectChange("abcdefgh", tt.before, tt.after)
			assert.Equal(t, tt.wantFire, ok)
			if tt.wantFire {
				assert.Equal(t, "abcdefgh", trig.UserID)
				assert.Equal(t, tt.wantValue, trig.DisplayName)
			}
		})
	}
}

func TestCanonicalDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", CanonicalDisplayName("u1234567", "Alice"))
	assert.Equal(t, "User_u12345", CanonicalDisplayName("u1234567", ""))
	assert.Equal(t, "User_u1", CanonicalDisplayName("u1", ""))
	assert.Equal(t, " ", CanonicalDisplayName("u1", " "))
}
