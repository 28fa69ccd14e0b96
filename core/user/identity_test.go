package user

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
)

func TestGoogleVerifier_Verify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("id_token") {
		case "good":
			_, _ = w.Write([]byte(`{"aud": "client-1", "sub": "42", "email": "Gina@Gmail.com", "email_verified": "true",
				"name": "Gina G", "picture": "https://lh3.googleusercontent.com/a/p=s64"}`))
		case "other-app":
			_, _ = w.Write([]byte(`{"aud": "client-2", "sub": "42", "email": "gina@gmail.com"}`))
		case "no-email":
			_, _ = w.Write([]byte(`{"aud": "client-1", "sub": "42"}`))
		case "garbage":
			_, _ = w.Write([]byte(`{`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_token"}`))
		}
	}))
	defer srv.Close()

	v := NewGoogleVerifier(core.GoogleConfig{ClientID: "client-1", TokenInfoURL: srv.URL}, srv.Client())
	assert.Equal(t, ProviderGoogle, v.Provider())

	tests := []struct {
		name     string
		token    string
		want     Identity
		wantErr  error
		otherErr bool
	}{
		{
			name:  "valid",
			token: "good",
			want: Identity{
				Subject: "42", Email: "gina@gmail.com", EmailVerified: true,
				Name: "Gina G", PhotoURL: "https://lh3.googleusercontent.com/a/p=s64",
			},
		},
		{name: "empty", token: "", wantErr: ErrIdentityRejected},
		{name: "rejected by provider", token: "expired", wantErr: ErrIdentityRejected},
		{name: "issued to another client", token: "other-app", wantErr: ErrIdentityRejected},
		{name: "missing email", token: "no-email", wantErr: ErrIdentityRejected},
		{name: "bad payload", token: "garbage", otherErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(context.Background(), tt.token)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.otherErr:
				require.Error(t, err)
				assert.NotEqual(t, ErrIdentityRejected, errors.Cause(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGoogleVerifier_VerifyWithoutClientID(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"aud": "someone-elses-app", "sub": "1", "email": "victim@example.com", "email_verified": "true"}`))
	}))
	defer srv.Close()

	conf := core.NewTestConfig()
	conf.Google.ClientID = ""
	conf.Google.TokenInfoURL = srv.URL
	v := NewGoogleVerifier(conf.Google, srv.Client())

	got, err := v.Verify(context.Background(), "foreign-token")
	assert.Equal(t, ErrIdentityRejected, errors.Cause(err))
	assert.Equal(t, Identity{}, got)
	assert.Zero(t, calls)
}
