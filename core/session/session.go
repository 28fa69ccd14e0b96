// Package session persists per-device client state: the signed-in user snapshot, the remembered email
// and the theme.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const ThemeDark = "dark-theme"

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidTheme = errors.New("invalid theme")
)

// UserSnapshot is the minimal signed-in user state kept client side.
type UserSnapshot struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

type Session struct {
	ID              string        `json:"id"`
	User            *UserSnapshot `json:"user"`
	RememberedEmail string        `json:"rememberedEmail"`
	Theme           string        `json:"theme"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// SignedIn reports whether the session holds uid's snapshot.
func (s Session) SignedIn(uid string) bool {
	return s.User != nil && s.User.UID == uid
}

// Preferences are the parts of a session that survive sign-out.
type Preferences struct {
	RememberedEmail *string `json:"rememberedEmail"`
	Theme           *string `json:"theme"`
}

func ValidTheme(theme string) bool {
	return theme == "" || theme == ThemeDark
}

// Store persists sessions by ID.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}

// Manager applies the session lifecycle on top of a Store.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrNotFound
	}
	return m.store.Get(ctx, id)
}

// SignIn stores usr in the session `id` (kept when it exists) and records the remembered email: set when
// rememberMe, cleared otherwise.
func (m *Manager) SignIn(ctx context.Context, id string, usr UserSnapshot, rememberMe bool) (Session, error) {
	now := time.Now().UTC()
	sess, err := m.Get(ctx, id)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return Session{}, errors.Wrap(err, "getting session")
		}
		sess = Session{ID: uuid.NewString(), CreatedAt: now}
	}
	sess.User = &usr
	if rememberMe {
		sess.RememberedEmail = usr.Email
	} else {
		sess.RememberedEmail = ""
	}
	sess.UpdatedAt = now
	if err := m.store.Save(ctx, sess); err != nil {
		return Session{}, errors.Wrap(err, "saving session")
	}
	return sess, nil
}

// SignOut clears the user snapshot only.
func (m *Manager) SignOut(ctx context.Context, id string) error {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.User = nil
	sess.UpdatedAt = time.Now().UTC()
	return m.store.Save(ctx, sess)
}

// UpdateUser refreshes the snapshot of a signed-in session.
func (m *Manager) UpdateUser(ctx context.Context, id string, usr UserSnapshot) (Session, error) {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.SignedIn(usr.UID) {
		return sess, nil
	}
	sess.User = &usr
	sess.UpdatedAt = time.Now().UTC()
	return sess, m.store.Save(ctx, sess)
}

// SetPreferences changes the remembered email and/or the theme; a missing id opens a new session.
func (m *Manager) SetPreferences(ctx context.Context, id string, prefs Preferences) (Session, error) {
	if prefs.Theme != nil && !ValidTheme(*prefs.Theme) {
		return Session{}, ErrInvalidTheme
	}
	now := time.Now().UTC()
	sess, err := m.Get(ctx, id)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return Session{}, errors.Wrap(err, "getting session")
		}
		sess = Session{ID: uuid.NewString(), CreatedAt: now}
	}
	if prefs.RememberedEmail != nil {
		sess.RememberedEmail = *prefs.RememberedEmail
	}
	if prefs.Theme != nil {
		sess.Theme = *prefs.Theme
	}
	sess.UpdatedAt = now
	if err := m.store.Save(ctx, sess); err != nil {
		return Session{}, errors.Wrap(err, "saving session")
	}
	return sess, nil
}
