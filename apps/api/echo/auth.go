package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

const (
	contextTokenKey   = "userToken"
	contextSessionKey = "session"
	contextUserKey    = "user"
	jwtAudience       = "Classroom"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	SessionID    string `json:"sid,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
}

// UserClaims returns the claims of usr signed in through the session `sessionID`.
func (s *Server) UserClaims(usr user.User, sessionID string, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    s.deps.Conf.AppName,
			Subject:   usr.ID,
			Audience:  jwtAudience,
			ExpiresAt: now.Add(s.deps.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		SessionID:    sessionID,
		Name:         usr.Name,
		Email:        usr.Email,
		IsAdmin:      usr.IsAdmin,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func (s *Server) GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(s.jwtConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(s.jwtConfig.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextSession(ctx echo.Context) (session.Session, error) {
	if sess, ok := ctx.Get(contextSessionKey).(session.Session); ok {
		return sess, nil
	}
	return session.Session{}, errUnauthorized
}

func (s *Server) getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, errors.Wrap(err, "getting context claims")
	}
	usr, err := s.deps.UserSvc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return user.User{}, errAccountDeactivated
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

// getContextCaller returns the classroom identity of the authenticated user.
func (s *Server) getContextCaller(ctx echo.Context) (classroom.Caller, error) {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return classroom.Caller{}, err
	}
	return classroom.Caller{
		UID:      usr.ID,
		Name:     usr.Name,
		Email:    usr.Email,
		PhotoURL: usr.PhotoURL,
	}, nil
}

// signIn opens (or reuses) the device session for usr and issues its token.
func (s *Server) signIn(ctx echo.Context, usr user.User, sessionID string, rememberMe bool) (LoginResponse, error) {
	sess, err := s.deps.Sessions.SignIn(ctx.Request().Context(), sessionID, snapshot(usr), rememberMe)
	if err != nil {
		return LoginResponse{}, errors.Wrap(err, "signing in session")
	}
	token, err := s.GenerateToken(s.UserClaims(usr, sess.ID))
	if err != nil {
		return LoginResponse{}, errors.Wrap(err, "generating token")
	}
	return LoginResponse{Token: token, Session: sess, User: newProfile(usr)}, nil
}

func (s *Server) refreshToken(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	// also checks that the user is still active
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(s.deps.Conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := s.GenerateToken(s.UserClaims(usr, claims.SessionID, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}

func snapshot(usr user.User) session.UserSnapshot {
	return session.UserSnapshot{
		UID:         usr.ID,
		Email:       usr.Email,
		DisplayName: usr.DisplayName(),
		PhotoURL:    user.HighResPhotoURL(usr.PhotoURL),
	}
}
