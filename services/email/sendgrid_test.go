package emailsvc

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"testing"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	testutil "github.com/trezcool/darasa/tests"
)

type sgPayload struct {
	Personalizations []struct {
		To      []struct{ Email string } `json:"to"`
		Subject string                   `json:"subject"`
	} `json:"personalizations"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
	Categories []string `json:"categories"`
}

// errLogger counts reported errors.
type errLogger struct {
	testutil.NopLogger
	errors int
}

func (l *errLogger) Error(string, ...interface{}) { l.errors++ }

// newTestSendgrid answers sendgrid calls with status; 0 fails the call at the network level.
func newTestSendgrid(status int) (*sendgridService, *errLogger, *int) {
	logger := &errLogger{}
	svc := NewSendgridService(core.NewTestConfig(), logger)

	calls := new(int)
	svc.api = func(req rest.Request) (*rest.Response, error) {
		*calls++
		if req.Method != http.MethodPost || req.BaseURL != sendgridHost+sendgridEndpoint {
			return nil, errors.Errorf("unexpected request %s %s", req.Method, req.BaseURL)
		}
		if status == 0 {
			return nil, errors.New("connection reset")
		}
		return &rest.Response{StatusCode: status}, nil
	}
	return svc, logger, calls
}

func gradeMessage() core.EmailMessage {
	return core.EmailMessage{
		To:           []mail.Address{{Name: "Student", Address: "student@test.com"}},
		Subject:      "Grade Posted",
		TemplateName: "grade_notification",
		TextContent:  "You got 17/20",
	}
}

func TestSendgridService_prepare(t *testing.T) {
	svc, _, _ := newTestSendgrid(http.StatusAccepted)

	var payload sgPayload
	require.NoError(t, json.Unmarshal(sgmailBody(svc, gradeMessage()), &payload))

	require.Len(t, payload.Personalizations, 1)
	assert.Equal(t, svc.subjPrefix+"Grade Posted", payload.Personalizations[0].Subject)
	require.Len(t, payload.Personalizations[0].To, 1)
	assert.Equal(t, "student@test.com", payload.Personalizations[0].To[0].Email)

	// no html template rendered: only the text part is sent
	require.Len(t, payload.Content, 1)
	assert.Equal(t, "text/plain", payload.Content[0].Type)
	assert.Equal(t, []string{"grade_notification"}, payload.Categories)
}

func TestSendgridService_send(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErrors int
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "rejected payload", status: http.StatusBadRequest, wantErrors: 1},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErrors: 1},
		{name: "server error", status: http.StatusBadGateway, wantErrors: 1},
		{name: "network error", status: 0, wantErrors: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, logger, calls := newTestSendgrid(tt.status)
			svc.send(gradeMessage())

			// failures are logged, never retried
			assert.Equal(t, 1, *calls)
			assert.Equal(t, tt.wantErrors, logger.errors)
		})
	}
}

func sgmailBody(svc *sendgridService, msg core.EmailMessage) []byte {
	return sgmail.GetRequestBody(svc.prepare(msg))
}
