package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		SessionTTL                time.Duration
		DisableReqLogs            bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
		MaxIdleConns  int
		ConnMaxLife   time.Duration
	}

	// RedisConfig configures the shared redis instance; an empty Addr selects in-process implementations.
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	EmailConfig struct {
		DefaultFromName  string
		DefaultFromEmail string
		SendgridApiKey   string
	}

	GoogleConfig struct {
		ClientID     string
		TokenInfoURL string
	}

	Config struct {
		Env             string
		Build           string
		Debug           bool
		TestMode        bool
		AppName         string
		SecretKey       string
		FrontendBaseURL string
		WorkDir         string
		RollbarToken    string

		PasswordResetTimeoutDelta time.Duration
		InflightTTL               time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Email    EmailConfig
		Google   GoogleConfig
	}
)

func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.Email.DefaultFromName, Address: c.Email.DefaultFromEmail}
}

// NewConfig reads the configuration from the environment (prefixed with the ENV name) and an optional
// config/.env.<env> file.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Darasa")
	v.SetDefault("secretKey", "w7r!k2#n@q9&zt-lm5vx0p$eh4^yb1(c8)uo3jd6_gs=fa")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("inflightTTL", 30*time.Second)

	v.SetDefault("serverHost", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("serverJWTExpirationDelta", 7*24*time.Hour)
	v.SetDefault("serverJWTRefreshExpirationDelta", 30*24*time.Hour)
	v.SetDefault("serverSessionTTL", 90*24*time.Hour)
	v.SetDefault("serverDisableReqLogs", false)

	v.SetDefault("databaseEngine", "postgres")
	v.SetDefault("databaseHost", "localhost")
	v.SetDefault("databasePort", 5432)
	v.SetDefault("databaseName", "darasa")
	v.SetDefault("databaseUser", "darasa")
	v.SetDefault("databasePassword", "")
	v.SetDefault("databaseAdminUser", "postgres")
	v.SetDefault("databaseAdminPassword", "")
	v.SetDefault("databaseDisableTLS", true)
	v.SetDefault("databaseMaxOpenConns", 20)
	v.SetDefault("databaseMaxIdleConns", 5)
	v.SetDefault("databaseConnMaxLife", 30*time.Minute)

	v.SetDefault("redisAddr", "")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDB", 0)

	v.SetDefault("emailDefaultFromName", "Darasa")
	v.SetDefault("emailDefaultFromEmail", "noreply@localhost")
	v.SetDefault("emailSendgridApiKey", "")

	v.SetDefault("googleClientID", "")
	v.SetDefault("googleTokenInfoURL", "https://oauth2.googleapis.com/tokeninfo")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	v.SetDefault("workDir", wd)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		AppName:         v.GetString("appName"),
		SecretKey:       v.GetString("secretKey"),
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		WorkDir:         v.GetString("workDir"),
		RollbarToken:    v.GetString("rollbarToken"),

		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		InflightTTL:               v.GetDuration("inflightTTL"),

		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			DebugHost:                 v.GetString("serverDebugHost"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("serverJWTExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("serverJWTRefreshExpirationDelta"),
			SessionTTL:                v.GetDuration("serverSessionTTL"),
			DisableReqLogs:            v.GetBool("serverDisableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("databaseEngine"),
			Host:          v.GetString("databaseHost"),
			Port:          v.GetInt("databasePort"),
			Name:          v.GetString("databaseName"),
			User:          v.GetString("databaseUser"),
			Password:      v.GetString("databasePassword"),
			AdminUser:     v.GetString("databaseAdminUser"),
			AdminPassword: v.GetString("databaseAdminPassword"),
			DisableTLS:    v.GetBool("databaseDisableTLS"),
			MaxOpenConns:  v.GetInt("databaseMaxOpenConns"),
			MaxIdleConns:  v.GetInt("databaseMaxIdleConns"),
			ConnMaxLife:   v.GetDuration("databaseConnMaxLife"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redisAddr"),
			Password: v.GetString("redisPassword"),
			DB:       v.GetInt("redisDB"),
		},
		Email: EmailConfig{
			DefaultFromName:  v.GetString("emailDefaultFromName"),
			DefaultFromEmail: v.GetString("emailDefaultFromEmail"),
			SendgridApiKey:   v.GetString("emailSendgridApiKey"),
		},
		Google: GoogleConfig{
			ClientID:     v.GetString("googleClientID"),
			TokenInfoURL: v.GetString("googleTokenInfoURL"),
		},
	}
}

// NewTestConfig returns the configuration used by tests: no external services, debug off.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.Env = "TEST"
	conf.Debug = false
	conf.TestMode = true
	conf.SecretKey = "test-secret"
	conf.Server.DisableReqLogs = true
	conf.Redis.Addr = ""
	return conf
}
