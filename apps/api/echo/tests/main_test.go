package tests

import (
	"context"
	"os"
	"testing"

	. "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/inflight"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/services/pubsub"
	"github.com/trezcool/darasa/storage/database/inmem"
	"github.com/trezcool/darasa/tests"
)

const googleToken = "google-token"

var (
	db       *inmemdb.DB
	app      *Server
	usrRepo  user.Repository
	sessions *session.Manager
	mailSvc  *emailsvc.ConsoleServiceMock

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

// fakeGoogle vouches for googleToken only.
type fakeGoogle struct{}

func (fakeGoogle) Provider() string { return user.ProviderGoogle }

func (fakeGoogle) Verify(_ context.Context, token string) (user.Identity, error) {
	if token != googleToken {
		return user.Identity{}, user.ErrIdentityRejected
	}
	return user.Identity{
		Subject:       "g-123",
		Email:         "gina@gmail.com",
		EmailVerified: true,
		Name:          "Gina G",
		PhotoURL:      "https://lh3.googleusercontent.com/a/photo=s64",
	}, nil
}

func TestMain(m *testing.M) {
	conf := core.NewTestConfig()
	logger := testutil.NopLogger{}
	testutil.LoadAssets(conf)
	validate, translator := testutil.NewValidator()

	// set up DB & repos
	db = inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)

	// set up services
	mailSvc = emailsvc.NewConsoleServiceMock(conf, logger)
	broker := pubsub.NewMemoryBroker(logger)
	sessions = session.NewManager(session.NewMemoryStore())
	usrSvc := user.NewService(usrRepo, mailSvc, conf, fakeGoogle{})
	classSvc := classroom.NewService(
		inmemdb.NewClassroomRepository(db),
		broker,
		inflight.NewMemoryGuard(),
		mailSvc,
		validate,
		logger,
	)

	// set up server
	app = NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		UserSvc:    usrSvc,
		ClassSvc:   classSvc,
		Sessions:   sessions,
		Broker:     broker,
	})

	// run tests
	code := m.Run()

	// clean up
	_ = app.Close()
	_ = broker.Close()

	os.Exit(code)
}

// resetDB empties every table and the mailbox.
func resetDB(t *testing.T) {
	t.Helper()
	db.Reset()
	mailSvc.Reset()
}
