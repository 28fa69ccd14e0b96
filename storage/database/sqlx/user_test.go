package sqlxrepos

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/user"
)

var userCols = []string{"id", "name", "email", "photo_url", "provider", "is_active", "is_admin", "password_hash", "created_at", "updated_at", "last_login"}

func TestUserRepository_GetUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM "user" WHERE email = \$1`).
		WithArgs("ada@test.cd").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "Ada", "ada@test.cd", nil, user.ProviderPassword, true, false, []byte("hash"), now, now, nil))
	mock.ExpectQuery(`SELECT (.+) FROM "user" WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	usr, err := repo.GetUser(context.Background(), user.GetFilter{Email: "ada@test.cd"})
	require.NoError(t, err)
	assert.Equal(t, "u1", usr.ID)
	assert.Equal(t, "Ada", usr.Name)
	assert.Equal(t, "", usr.PhotoURL)
	assert.Equal(t, []byte("hash"), usr.PasswordHash)
	assert.True(t, usr.LastLogin.IsZero())

	_, err = repo.GetUser(context.Background(), user.GetFilter{ID: "nope"})
	assert.Equal(t, user.ErrNotFound, err)

	_, err = repo.GetUser(context.Background(), user.GetFilter{})
	assert.Equal(t, user.ErrNotFound, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	now := time.Now().UTC()
	usr := user.User{ID: "u1", Name: "Ada", Email: "ada@test.cd", Provider: user.ProviderPassword, IsActive: true, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(`INSERT INTO "user"`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "user"`).WillReturnError(&pq.Error{Code: pqUniqueViolation})

	created, err := repo.CreateUser(context.Background(), usr)
	require.NoError(t, err)
	assert.Equal(t, usr.Email, created.Email)

	_, err = repo.CreateUser(context.Background(), usr)
	assert.Equal(t, user.ErrEmailExists, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CheckEmailUniqueness(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("ada@test.cd").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS(.+)id NOT IN`).WithArgs("ada@test.cd", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	assert.Equal(t, user.ErrEmailExists, repo.CheckEmailUniqueness(context.Background(), "ada@test.cd"))
	assert.NoError(t, repo.CheckEmailUniqueness(context.Background(), "ada@test.cd", user.User{ID: "u1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
