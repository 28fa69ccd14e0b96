package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())
	usr := UserSnapshot{UID: "u1", Email: "ada@test.cd", DisplayName: "Ada Lovelace"}

	// sign in with remember me
	sess, err := m.SignIn(ctx, "", usr, true)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.True(t, sess.SignedIn("u1"))
	assert.Equal(t, "ada@test.cd", sess.RememberedEmail)

	// theme survives sign-out, as does the remembered email
	dark := ThemeDark
	_, err = m.SetPreferences(ctx, sess.ID, Preferences{Theme: &dark})
	require.NoError(t, err)
	require.NoError(t, m.SignOut(ctx, sess.ID))

	sess, err = m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, sess.User)
	assert.False(t, sess.SignedIn("u1"))
	assert.Equal(t, ThemeDark, sess.Theme)
	assert.Equal(t, "ada@test.cd", sess.RememberedEmail)

	// sign in again on the same session without remember me
	again, err := m.SignIn(ctx, sess.ID, usr, false)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, "", again.RememberedEmail)
	assert.Equal(t, ThemeDark, again.Theme)
}

func TestManager_SetPreferences(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())
	bad := "neon"
	email := "ada@test.cd"

	tests := []struct {
		name    string
		prefs   Preferences
		wantErr error
	}{
		{name: "invalid theme", prefs: Preferences{Theme: &bad}, wantErr: ErrInvalidTheme},
		{name: "remembered email", prefs: Preferences{RememberedEmail: &email}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := m.SetPreferences(ctx, "", tt.prefs)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, email, sess.RememberedEmail)
		})
	}
}

func TestManager_GetUnknown(t *testing.T) {
	m := NewManager(NewMemoryStore())
	_, err := m.Get(context.Background(), "nope")
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, ErrNotFound, m.SignOut(context.Background(), ""))
}
