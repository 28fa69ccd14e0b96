package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("a user with this email already exists")
)

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// UpdateUser saves every field of usr but ID & CreatedAt.
		UpdateUser(ctx context.Context, usr User) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo      Repository
		mailSvc   core.EmailService
		tokens    tokenGenerator
		verifiers map[string]IdentityVerifier
	}
)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config, verifiers ...IdentityVerifier) *Service {
	svc := &Service{
		repo:      repo,
		mailSvc:   mailSvc,
		tokens:    tokenGenerator{secretKey: []byte(conf.SecretKey), timeout: conf.PasswordResetTimeoutDelta},
		verifiers: make(map[string]IdentityVerifier, len(verifiers)),
	}
	for _, v := range verifiers {
		svc.verifiers[v.Provider()] = v
	}
	return svc
}

// SignUp creates an email/password account; nu must have been validated.
func (svc *Service) SignUp(ctx context.Context, nu NewUser) (User, error) {
	if err := svc.repo.CheckEmailUniqueness(ctx, nu.Email); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return User{}, ErrEmailAlreadyInUse
		}
		return User{}, errors.Wrap(err, "checking email uniqueness")
	}

	now := time.Now().UTC()
	usr := User{
		ID:        uuid.NewString(),
		Name:      nu.Name(),
		Email:     nu.Email,
		Provider:  ProviderPassword,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return User{}, ErrEmailAlreadyInUse
		}
		return User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

// SignIn authenticates with email and password.
func (svc *Service) SignIn(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrUserNotFound
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if len(usr.PasswordHash) == 0 || usr.CheckPassword(pwd) != nil {
		return User{}, ErrWrongPassword
	}
	if !usr.IsActive {
		return User{}, ErrUserDisabled
	}
	return svc.SetLastLogin(ctx, usr)
}

// SignInWithProvider authenticates with an OAuth provider token; first sign-ins create the account.
func (svc *Service) SignInWithProvider(ctx context.Context, provider, token string) (User, error) {
	verifier, ok := svc.verifiers[provider]
	if !ok {
		return User{}, ErrOperationNotAllowed
	}
	ident, err := verifier.Verify(ctx, token)
	if err != nil {
		if errors.Cause(err) == ErrIdentityRejected {
			return User{}, ErrInvalidCredential
		}
		return User{}, errors.Wrap(err, "verifying identity")
	}

	usr, err := svc.GetByEmail(ctx, ident.Email)
	switch {
	case err == nil:
		if !usr.IsActive {
			return User{}, ErrUserDisabled
		}
		if usr.Provider == ProviderPassword && !ident.EmailVerified {
			return User{}, ErrAccountExists
		}
		if usr.PhotoURL == "" && ident.PhotoURL != "" {
			usr.PhotoURL = ident.PhotoURL
		}
		if usr.Name == "" {
			usr.Name = ident.Name
		}
		return svc.SetLastLogin(ctx, usr)
	case errors.Cause(err) == ErrNotFound:
		now := time.Now().UTC()
		return svc.repo.CreateUser(ctx, User{
			ID:        uuid.NewString(),
			Name:      ident.Name,
			Email:     ident.Email,
			PhotoURL:  ident.PhotoURL,
			Provider:  provider,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
			LastLogin: now,
		})
	default:
		return User{}, errors.Wrap(err, "finding user by email")
	}
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// UpdateProfile changes the display name and/or photo; empty fields are left untouched.
func (svc *Service) UpdateProfile(ctx context.Context, id string, up UpdateProfile) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if up.Name != "" {
		usr.Name = up.Name
	}
	if up.PhotoURL != "" {
		usr.PhotoURL = up.PhotoURL
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// RequestPasswordReset mails a reset link to the account owner, if any.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *Service) sendPasswordResetMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: passwordResetData{
			Name:  usr.DisplayName(),
			UID:   EncodeUID(usr),
			Token: svc.tokens.makeToken(usr),
		},
	})
}

func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalidErr := core.NewValidationError(errInvalidToken)

	id, err := decodeUID(data.UID)
	if err != nil {
		return invalidErr
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return invalidErr
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err := svc.tokens.verifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(err)
	}

	if err := usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	if _, err := svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "updating user")
	}
	return nil
}
