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

// Conf holds the app configuration; populated from defaults, config/.env.<env> and environment variables.
var Conf *Config

type (
	ServerConfig struct {
		Host string
		Addr string

		// Sessions are short-lived and silently renewed while in use,
		// up to SessionRefreshDelta after original issuance.
		SessionExpirationDelta time.Duration
		SessionRefreshDelta    time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Timeout       time.Duration
	}

	LoginThrottleConfig struct {
		Attempts int
		Window   time.Duration
	}

	Config struct {
		Debug    bool
		TestMode bool
		Env      string
		AppName  string
		Build    string
		WorkDir  string

		SecretKey []byte

		// tenant routing
		BaseDomain     string // <routing-key>.<BaseDomain> hosts
		PreviewDomain  string // <routing-key>---<branch>.<PreviewDomain> hosts
		TenantCacheTTL time.Duration

		// external grants override; empty means the embedded default matrix
		GrantsPath string

		SecondFactorTimeoutDelta  time.Duration
		PasswordResetTimeoutDelta time.Duration

		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string

		Server        ServerConfig
		Database      DatabaseConfig
		LoginThrottle LoginThrottleConfig
	}
)

func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func init() {
	Conf = NewConfig()
}

// NewConfig loads the configuration for the current ENV (DEV by default).
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Shule")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "q0w(e$rt-yu2io&p!a5sd^fgh*jk7lz=xc#vb0nm4qw+erty")
	v.SetDefault("baseDomain", "shule.local")
	v.SetDefault("previewDomain", "preview.shule.local")
	v.SetDefault("tenantCacheTTL", 30*time.Second)
	v.SetDefault("grantsPath", "")
	v.SetDefault("secondFactorTimeoutDelta", 10*time.Minute)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8000")
	v.SetDefault("sessionExpirationDelta", 2*time.Hour)
	v.SetDefault("sessionRefreshDelta", 24*time.Hour)
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbName", "shule")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbUser", "shule")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("dbTimeout", 5*time.Second)
	v.SetDefault("loginThrottleAttempts", 5)
	v.SetDefault("loginThrottleWindow", 15*time.Minute)

	var testMode bool
	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
	}
	v.SetEnvPrefix(env)

	wd := Getwd()

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
		Debug:                     v.GetBool("debug"),
		TestMode:                  testMode,
		Env:                       env,
		AppName:                   v.GetString("appName"),
		Build:                     v.GetString("build"),
		WorkDir:                   wd,
		SecretKey:                 []byte(v.GetString("secretKey")),
		BaseDomain:                v.GetString("baseDomain"),
		PreviewDomain:             v.GetString("previewDomain"),
		TenantCacheTTL:            v.GetDuration("tenantCacheTTL"),
		GrantsPath:                v.GetString("grantsPath"),
		SecondFactorTimeoutDelta:  v.GetDuration("secondFactorTimeoutDelta"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromEmail:          mail.Address{Address: v.GetString("defaultFromEmail")},
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		RollbarToken:              v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                   v.GetString("serverHost"),
			Addr:                   v.GetString("serverAddr"),
			SessionExpirationDelta: v.GetDuration("sessionExpirationDelta"),
			SessionRefreshDelta:    v.GetDuration("sessionRefreshDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Name:          v.GetString("dbName"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
			Timeout:       v.GetDuration("dbTimeout"),
		},
		LoginThrottle: LoginThrottleConfig{
			Attempts: v.GetInt("loginThrottleAttempts"),
			Window:   v.GetDuration("loginThrottleWindow"),
		},
	}
}
