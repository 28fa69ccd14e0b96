package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

// ErrIdentityRejected is returned by verifiers for tokens the provider does not vouch for.
var ErrIdentityRejected = errors.New("identity token rejected")

// Identity is what an OAuth provider vouches for once a token is verified.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	PhotoURL      string
}

// IdentityVerifier turns a provider token into a verified Identity.
type IdentityVerifier interface {
	Provider() string
	Verify(ctx context.Context, token string) (Identity, error)
}

type googleVerifier struct {
	clientID string
	endpoint string
	client   *http.Client
}

var _ IdentityVerifier = (*googleVerifier)(nil)

// NewGoogleVerifier validates Google ID tokens against the tokeninfo endpoint.
func NewGoogleVerifier(conf core.GoogleConfig, client *http.Client) IdentityVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &googleVerifier{clientID: conf.ClientID, endpoint: conf.TokenInfoURL, client: client}
}

func (v *googleVerifier) Provider() string { return ProviderGoogle }

type googleTokenInfo struct {
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (v *googleVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	// without a client id any app's token would pass the audience check
	if token == "" || v.clientID == "" {
		return Identity{}, ErrIdentityRejected
	}
	u := v.endpoint + "?" + url.Values{"id_token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Identity{}, errors.Wrap(err, "building tokeninfo request")
	}
	res, err := v.client.Do(req)
	if err != nil {
		return Identity{}, errors.Wrap(err, "calling tokeninfo")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return Identity{}, ErrIdentityRejected
	}
	var info googleTokenInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return Identity{}, errors.Wrap(err, "decoding tokeninfo")
	}
	if info.Sub == "" || info.Email == "" || info.Aud != v.clientID {
		return Identity{}, ErrIdentityRejected
	}
	return Identity{
		Subject:       info.Sub,
		Email:         core.CleanString(info.Email, true /* lower */),
		EmailVerified: info.EmailVerified == "true",
		Name:          info.Name,
		PhotoURL:      info.Picture,
	}, nil
}
