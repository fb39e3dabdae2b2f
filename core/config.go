package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string

		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Tenant   TenantConfig
		Redis    RedisConfig
		Paystack PaystackConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string // platform database
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
		MaxIdleConns  int
	}

	TenantConfig struct {
		DBPrefix       string
		MaxOpenSchools int // max cached school connections
		MaxOpenConns   int // per school
		MaxIdleConns   int // per school
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
		TTL      time.Duration
	}

	PaystackConfig struct {
		SecretKey string
	}
)

// NewConfig loads the configuration of the current environment.
// Values are read from environment variables prefixed with the environment name (eg. DEV_SECRET_KEY);
// a `config/.env.<env>` file is loaded first when it exists.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	setDefaults(v, env)
	v.AutomaticEnv()

	return &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("test_mode"),
		AppName:                   v.GetString("app_name"),
		SecretKey:                 v.GetString("secret_key"),
		FrontendBaseURL:           v.GetString("frontend_base_url"),
		RollbarToken:              v.GetString("rollbar_token"),
		SendgridApiKey:            v.GetString("sendgrid_api_key"),
		defaultFromEmail:          v.GetString("default_from_email"),
		PasswordResetTimeoutDelta: v.GetDuration("password_reset_timeout_delta"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debug_host"),
			ShutdownTimeout:           v.GetDuration("server.shutdown_timeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwt_expiration_delta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwt_refresh_expiration_delta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.admin_user"),
			AdminPassword: v.GetString("database.admin_password"),
			DisableTLS:    v.GetBool("database.disable_tls"),
			MaxOpenConns:  v.GetInt("database.max_open_conns"),
			MaxIdleConns:  v.GetInt("database.max_idle_conns"),
		},
		Tenant: TenantConfig{
			DBPrefix:       v.GetString("tenant.db_prefix"),
			MaxOpenSchools: v.GetInt("tenant.max_open_schools"),
			MaxOpenConns:   v.GetInt("tenant.max_open_conns"),
			MaxIdleConns:   v.GetInt("tenant.max_idle_conns"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		Paystack: PaystackConfig{
			SecretKey: v.GetString("paystack.secret_key"),
		},
	}
}

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("test_mode", env == "TEST")
	v.SetDefault("app_name", "Masomo")
	v.SetDefault("secret_key", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontend_base_url", "http://localhost:8080")
	v.SetDefault("rollbar_token", "")
	v.SetDefault("sendgrid_api_key", "")
	v.SetDefault("default_from_email", "Masomo <noreply@localhost>")
	v.SetDefault("password_reset_timeout_delta", 3*24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debug_host", ":4000")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.jwt_expiration_delta", 7*24*time.Hour)
	v.SetDefault("server.jwt_refresh_expiration_delta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "masomo")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "masomo")
	v.SetDefault("database.admin_user", "postgres")
	v.SetDefault("database.admin_password", "postgres")
	v.SetDefault("database.disable_tls", env == "DEV" || env == "TEST")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("tenant.db_prefix", "masomo_school_")
	v.SetDefault("tenant.max_open_schools", 64)
	v.SetDefault("tenant.max_open_conns", 5)
	v.SetDefault("tenant.max_idle_conns", 2)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("paystack.secret_key", "")
}

// DefaultFromEmail parses the configured sender address.
func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

// SetDefaultFromEmail is used by tests.
func (c *Config) SetDefaultFromEmail(addr string) {
	c.defaultFromEmail = addr
}

// Address returns the host:port of the database server.
func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}
