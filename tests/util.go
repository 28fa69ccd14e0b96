package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/classview"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/fs"
)

// NopLogger discards everything.
type NopLogger struct{}

var _ core.Logger = NopLogger{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}

// NewValidator returns a validator with every custom validator registered, and its translator.
func NewValidator() (*validator.Validate, ut.Translator) {
	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	classroom.InitValidators(validate, translator)
	classview.InitValidators(validate, translator)
	return validate, translator
}

// LoadAssets parses the email templates and the common passwords list.
func LoadAssets(conf *core.Config) {
	core.ParseEmailTemplates(appfs.FS, conf, NopLogger{})
	user.LoadCommonPasswords(appfs.FS, NopLogger{})
}

func CreateUser(t *testing.T, repo user.Repository, name, email, pwd string, isActive bool, createdAt ...time.Time) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Provider:  user.ProviderPassword,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
		LastLogin: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser(): %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

// Caller returns the classroom identity of usr.
func Caller(usr user.User) classroom.Caller {
	return classroom.Caller{UID: usr.ID, Name: usr.Name, Email: usr.Email, PhotoURL: usr.PhotoURL}
}
