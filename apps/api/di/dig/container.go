package dig_container

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/classview"
	"github.com/trezcool/darasa/core/inflight"
	"github.com/trezcool/darasa/core/realtime"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	appfs "github.com/trezcool/darasa/fs"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/services/pubsub"
	"github.com/trezcool/darasa/storage/database"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

const googleTimeout = 10 * time.Second

// DBLoggerParam is the logger dedicated to database setup.
type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Backends are the stores shared between API instances: redis backed when configured, in-process otherwise.
type Backends struct {
	dig.Out
	Broker       realtime.Broker
	SessionStore session.Store
	Guard        inflight.Guard
}

// ServerParams gathers everything the API server needs.
type ServerParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	UserSvc    *user.Service
	ClassSvc   *classroom.Service
	Sessions   *session.Manager
	Broker     realtime.Broker
}

func newZapLogger(conf *core.Config) (*zap.Logger, error) {
	return logsvc.NewZapLogger(conf)
}

func newLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(zl.Named("db"), conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newBackends(conf *core.Config, logger core.Logger) Backends {
	if conf.Redis.Addr == "" {
		return Backends{
			Broker:       pubsub.NewMemoryBroker(logger),
			SessionStore: session.NewMemoryStore(),
			Guard:        inflight.NewMemoryGuard(),
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	return Backends{
		Broker:       pubsub.NewRedisBroker(client, logger),
		SessionStore: session.NewRedisStore(client, conf.Server.SessionTTL),
		Guard:        inflight.NewRedisGuard(client, conf.InflightTTL),
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// newValidator registers every custom validator along the way.
func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	classroom.InitValidators(validate, translator)
	classview.InitValidators(validate, translator)
	return validate
}

func newUserService(repo user.Repository, mailSvc core.EmailService, conf *core.Config, logger core.Logger) *user.Service {
	core.ParseEmailTemplates(appfs.FS, conf, logger)
	user.LoadCommonPasswords(appfs.FS, logger)

	// google sign-in stays disabled (auth/operation-not-allowed) until a client id is configured
	var verifiers []user.IdentityVerifier
	if conf.Google.ClientID != "" {
		verifiers = append(verifiers, user.NewGoogleVerifier(conf.Google, &http.Client{Timeout: googleTimeout}))
	} else {
		logger.Warn("googleClientID not set: google sign-in disabled")
	}
	return user.NewService(repo, mailSvc, conf, verifiers...)
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		UserSvc:    p.UserSvc,
		ClassSvc:   p.ClassSvc,
		Sessions:   p.Sessions,
		Broker:     p.Broker,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZapLogger))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(newBackends))
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewClassroomRepository, dig.As(new(classroom.Repository))))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newUserService))
	must(c.Provide(classroom.NewService))
	must(c.Provide(session.NewManager))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
