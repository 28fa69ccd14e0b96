package echoapi

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads `?ordering=field,-other`; a leading "-" sorts descending.
func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

type (
	SignUpRequest struct {
		user.NewUser
		SessionID  string `json:"sessionId"`
		RememberMe bool   `json:"rememberMe"`
	}

	LoginRequest struct {
		Email      string `json:"email" validate:"required,email"`
		Password   string `json:"password" validate:"required"`
		SessionID  string `json:"sessionId"`
		RememberMe bool   `json:"rememberMe"`
	}

	OAuthRequest struct {
		IDToken    string `json:"idToken" validate:"required"`
		SessionID  string `json:"sessionId"`
		RememberMe bool   `json:"rememberMe"`
	}

	LoginResponse struct {
		Token   string          `json:"token"`
		Session session.Session `json:"session"`
		User    Profile         `json:"user"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	// Profile is the signed-in user as the browser sees it; AvatarURL is always displayable.
	Profile struct {
		user.User
		AvatarURL string `json:"avatarURL"`
	}

	ClassCodeResponse struct {
		ClassCode string `json:"classCode"`
	}
)

func newProfile(usr user.User) Profile {
	return Profile{User: usr, AvatarURL: user.HighResPhotoURL(usr.PhotoURL)}
}

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

func (or *OAuthRequest) Validate(validate *validator.Validate) error {
	or.IDToken = strings.TrimSpace(or.IDToken)
	return validate.Struct(or)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
