package user_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/storage/database/inmem"
	"github.com/trezcool/darasa/tests"
)

const pwd = "Str0ng!Pass#"

type fakeVerifier struct {
	ident user.Identity
}

func (fakeVerifier) Provider() string { return user.ProviderGoogle }

func (v fakeVerifier) Verify(_ context.Context, token string) (user.Identity, error) {
	if token != "ok" {
		return user.Identity{}, user.ErrIdentityRejected
	}
	return v.ident, nil
}

type fixture struct {
	repo    user.Repository
	mailSvc *emailsvc.ConsoleServiceMock
	svc     *user.Service
}

func newFixture(t *testing.T, ident user.Identity) fixture {
	t.Helper()
	conf := core.NewTestConfig()
	testutil.LoadAssets(conf)

	repo := inmemdb.NewUserRepository(inmemdb.Open())
	mailSvc := emailsvc.NewConsoleServiceMock(conf, testutil.NopLogger{})
	return fixture{
		repo:    repo,
		mailSvc: mailSvc,
		svc:     user.NewService(repo, mailSvc, conf, fakeVerifier{ident: ident}),
	}
}

func TestService_SignUp(t *testing.T) {
	f := newFixture(t, user.Identity{})
	ctx := context.Background()

	nu := user.NewUser{FirstName: "John", LastName: "Doe", Email: "john@test.cd", Password: pwd, PasswordConfirm: pwd}
	usr, err := f.svc.SignUp(ctx, nu)
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.Equal(t, "John Doe", usr.Name)
	assert.Equal(t, user.ProviderPassword, usr.Provider)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword(pwd))

	_, err = f.svc.SignUp(ctx, nu)
	assert.Equal(t, user.ErrEmailAlreadyInUse, errors.Cause(err))
}

func TestService_SignIn(t *testing.T) {
	f := newFixture(t, user.Identity{})
	ctx := context.Background()
	usr := testutil.CreateUser(t, f.repo, "Jane", "jane@test.cd", pwd, true)
	testutil.CreateUser(t, f.repo, "Gone", "gone@test.cd", pwd, false)
	testutil.CreateUser(t, f.repo, "Oauth", "oauth@test.cd", "", true)

	tests := []struct {
		name    string
		email   string
		pwd     string
		wantErr error
	}{
		{name: "unknown email", email: "nobody@test.cd", pwd: pwd, wantErr: user.ErrUserNotFound},
		{name: "wrong password", email: "jane@test.cd", pwd: "nope", wantErr: user.ErrWrongPassword},
		{name: "no password set", email: "oauth@test.cd", pwd: pwd, wantErr: user.ErrWrongPassword},
		{name: "disabled", email: "gone@test.cd", pwd: pwd, wantErr: user.ErrUserDisabled},
		{name: "success", email: " JANE@test.cd ", pwd: pwd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.SignIn(ctx, tt.email, tt.pwd)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, usr.ID, got.ID)
			assert.True(t, got.LastLogin.After(usr.LastLogin))
		})
	}
}

func TestService_SignInWithProvider(t *testing.T) {
	ctx := context.Background()
	ident := user.Identity{
		Subject: "g-1", Email: "gina@gmail.com", EmailVerified: true, Name: "Gina", PhotoURL: "https://lh3.googleusercontent.com/a/g",
	}

	t.Run("provider errors", func(t *testing.T) {
		f := newFixture(t, ident)
		_, err := f.svc.SignInWithProvider(ctx, "myspace", "ok")
		assert.Equal(t, user.ErrOperationNotAllowed, errors.Cause(err))
		_, err = f.svc.SignInWithProvider(ctx, user.ProviderGoogle, "forged")
		assert.Equal(t, user.ErrInvalidCredential, errors.Cause(err))
	})

	t.Run("provider without verifier is disabled", func(t *testing.T) {
		conf := core.NewTestConfig()
		repo := inmemdb.NewUserRepository(inmemdb.Open())
		svc := user.NewService(repo, emailsvc.NewConsoleServiceMock(conf, testutil.NopLogger{}), conf)

		_, err := svc.SignInWithProvider(ctx, user.ProviderGoogle, "ok")
		assert.Equal(t, user.ErrOperationNotAllowed, errors.Cause(err))
	})

	t.Run("first sign-in creates the account", func(t *testing.T) {
		f := newFixture(t, ident)
		usr, err := f.svc.SignInWithProvider(ctx, user.ProviderGoogle, "ok")
		require.NoError(t, err)
		assert.Equal(t, "gina@gmail.com", usr.Email)
		assert.Equal(t, user.ProviderGoogle, usr.Provider)
		assert.Empty(t, usr.PasswordHash)

		again, err := f.svc.SignInWithProvider(ctx, user.ProviderGoogle, "ok")
		require.NoError(t, err)
		assert.Equal(t, usr.ID, again.ID)
	})

	t.Run("existing password account gets the photo", func(t *testing.T) {
		f := newFixture(t, ident)
		existing := testutil.CreateUser(t, f.repo, "Gina Pwd", "gina@gmail.com", pwd, true)
		usr, err := f.svc.SignInWithProvider(ctx, user.ProviderGoogle, "ok")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, usr.ID)
		assert.Equal(t, "Gina Pwd", usr.Name)
		assert.Equal(t, ident.PhotoURL, usr.PhotoURL)
	})

	t.Run("unverified email cannot take over", func(t *testing.T) {
		unverified := ident
		unverified.EmailVerified = false
		f := newFixture(t, unverified)
		testutil.CreateUser(t, f.repo, "Gina Pwd", "gina@gmail.com", pwd, true)
		_, err := f.svc.SignInWithProvider(ctx, user.ProviderGoogle, "ok")
		assert.Equal(t, user.ErrAccountExists, errors.Cause(err))
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, ident)
		testutil.CreateUser(t, f.repo, "Gina", "gina@gmail.com", "", false)
		_, err := f.svc.SignInWithProvider(ctx, user.ProviderGoogle, "ok")
		assert.Equal(t, user.ErrUserDisabled, errors.Cause(err))
	})
}

func TestService_UpdateProfile(t *testing.T) {
	f := newFixture(t, user.Identity{})
	ctx := context.Background()
	usr := testutil.CreateUser(t, f.repo, "Jane", "jane@test.cd", pwd, true)

	got, err := f.svc.UpdateProfile(ctx, usr.ID, user.UpdateProfile{PhotoURL: "https://example.com/me.png"})
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Name)
	assert.Equal(t, "https://example.com/me.png", got.PhotoURL)

	got, err = f.svc.UpdateProfile(ctx, usr.ID, user.UpdateProfile{Name: "Jane D"})
	require.NoError(t, err)
	assert.Equal(t, "Jane D", got.Name)
	assert.Equal(t, "https://example.com/me.png", got.PhotoURL)

	_, err = f.svc.UpdateProfile(ctx, "nope", user.UpdateProfile{Name: "x"})
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
}

func TestService_PasswordReset(t *testing.T) {
	f := newFixture(t, user.Identity{})
	ctx := context.Background()
	usr := testutil.CreateUser(t, f.repo, "Jane", "jane@test.cd", pwd, true)
	testutil.CreateUser(t, f.repo, "Gone", "gone@test.cd", pwd, false)

	assert.Equal(t, user.ErrNotFound, errors.Cause(f.svc.RequestPasswordReset(ctx, "nobody@test.cd")))
	assert.Equal(t, user.ErrNotFound, errors.Cause(f.svc.RequestPasswordReset(ctx, "gone@test.cd")))
	assert.Empty(t, f.mailSvc.SentMessages())

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "jane@test.cd"))
	sent := f.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	match := regexp.MustCompile(`uid=([^&\s]+)&token=(\S+)`).FindStringSubmatch(sent[0].TextContent)
	require.Len(t, match, 3, sent[0].TextContent)
	assert.Equal(t, user.EncodeUID(usr), match[1])

	newPwd := "N3w!Secret"
	bad := user.ResetUserPassword{UID: match[1], Token: match[2] + "x", Password: newPwd, PasswordConfirm: newPwd}
	var vErr *core.ValidationError
	require.True(t, errors.As(f.svc.ResetPassword(ctx, bad), &vErr))

	unknown := user.ResetUserPassword{UID: "!!", Token: match[2], Password: newPwd, PasswordConfirm: newPwd}
	require.True(t, errors.As(f.svc.ResetPassword(ctx, unknown), &vErr))

	good := user.ResetUserPassword{UID: match[1], Token: match[2], Password: newPwd, PasswordConfirm: newPwd}
	require.NoError(t, f.svc.ResetPassword(ctx, good))

	_, err := f.svc.SignIn(ctx, usr.Email, newPwd)
	require.NoError(t, err)

	// the token dies with the old password
	assert.Error(t, f.svc.ResetPassword(ctx, good))
}
