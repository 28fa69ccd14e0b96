package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHighResPhotoURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "empty", url: "", want: DefaultPhotoURL},
		{name: "google with size", url: "https://lh3.googleusercontent.com/a/abc=s64-c", want: "https://lh3.googleusercontent.com/a/abc=s96-c"},
		{name: "google without size", url: "https://lh3.googleusercontent.com/a/abc", want: "https://lh3.googleusercontent.com/a/abc=s96-c"},
		{name: "other host", url: "https://example.com/me.png?s=1", want: "https://example.com/me.png?s=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HighResPhotoURL(tt.url))
		})
	}
}

func TestAuthMessage(t *testing.T) {
	assert.Equal(t, "Incorrect password", AuthMessage(CodeWrongPassword))
	assert.Equal(t, "No account found with this email", ErrUserNotFound.Error())
	assert.Equal(t, "An error occurred. Please try again", AuthMessage("auth/lol"))
}
