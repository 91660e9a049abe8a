// Package config loads process configuration from .env files and RC_*
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	Log        LogConfig
	Store      StoreConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Email      EmailConfig
	NATS       NATSConfig
	Inventory  InventoryConfig
	Jobs       JobsConfig
	Connectors ConnectorsConfig
	Fixtures   FixturesConfig
	TaxCloud   EndpointConfig
	Avalara    EndpointConfig
	AuthNet    EndpointConfig
	Shopify    ShopifyConfig
}

type AppConfig struct {
	Env     string
	Port    string
	BaseURL string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type StoreConfig struct {
	Driver string // mongo, memory
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Addr     string // empty disables redis
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type EmailConfig struct {
	Provider      string // postmark, sendgrid, none
	PostmarkToken string
	SendgridKey   string
	Sender        string
}

type NATSConfig struct {
	URL           string // empty disables forwarding
	SubjectPrefix string
}

type InventoryConfig struct {
	ReservationTTL time.Duration
}

type JobsConfig struct {
	ReservationSweep string
}

type ConnectorsConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

type FixturesConfig struct {
	Path string
}

type EndpointConfig struct {
	URL string
}

type ShopifyConfig struct {
	APIVersion string
}

// Development reports whether the app runs in the development environment.
func (c *Config) Development() bool {
	return c.App.Env == "development"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8000")
	v.SetDefault("app.base_url", "http://localhost:8000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "reaction")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("email.provider", "none")
	v.SetDefault("email.sender", "no-reply@localhost")
	v.SetDefault("nats.subject_prefix", "reaction")
	v.SetDefault("inventory.reservation_ttl", 30*time.Minute)
	v.SetDefault("jobs.reservation_sweep", "@every 1m")
	v.SetDefault("connectors.timeout", 10*time.Second)
	v.SetDefault("connectors.max_retries", 3)
	v.SetDefault("fixtures.path", "fixtures/shops.yaml")
	v.SetDefault("taxcloud.url", "https://api.taxcloud.net")
	v.SetDefault("avalara.url", "https://sandbox-rest.avatax.com")
	v.SetDefault("authnet.url", "https://apitest.authorize.net/xml/v1/request.api")
	v.SetDefault("shopify.api_version", "2024-01")
}

// Load reads .env (when present) and the environment. Keys map to
// variables as RC_<SECTION>_<KEY>, e.g. RC_MONGO_URI.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			BaseURL: v.GetString("app.base_url"),
		},
		Log:   LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")},
		Store: StoreConfig{Driver: v.GetString("store.driver")},
		Mongo: MongoConfig{URI: v.GetString("mongo.uri"), Database: v.GetString("mongo.database")},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{Secret: v.GetString("jwt.secret"), TTL: v.GetDuration("jwt.ttl")},
		Email: EmailConfig{
			Provider:      v.GetString("email.provider"),
			PostmarkToken: v.GetString("email.postmark_token"),
			SendgridKey:   v.GetString("email.sendgrid_key"),
			Sender:        v.GetString("email.sender"),
		},
		NATS:       NATSConfig{URL: v.GetString("nats.url"), SubjectPrefix: v.GetString("nats.subject_prefix")},
		Inventory:  InventoryConfig{ReservationTTL: v.GetDuration("inventory.reservation_ttl")},
		Jobs:       JobsConfig{ReservationSweep: v.GetString("jobs.reservation_sweep")},
		Connectors: ConnectorsConfig{Timeout: v.GetDuration("connectors.timeout"), MaxRetries: v.GetInt("connectors.max_retries")},
		Fixtures:   FixturesConfig{Path: v.GetString("fixtures.path")},
		TaxCloud:   EndpointConfig{URL: v.GetString("taxcloud.url")},
		Avalara:    EndpointConfig{URL: v.GetString("avalara.url")},
		AuthNet:    EndpointConfig{URL: v.GetString("authnet.url")},
		Shopify:    ShopifyConfig{APIVersion: v.GetString("shopify.api_version")},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "mongo", "memory":
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Email.Provider {
	case "postmark":
		if c.Email.PostmarkToken == "" {
			return errors.New("email.postmark_token is required for the postmark provider")
		}
	case "sendgrid":
		if c.Email.SendgridKey == "" {
			return errors.New("email.sendgrid_key is required for the sendgrid provider")
		}
	case "none", "":
	default:
		return errors.Errorf("unknown email provider %q", c.Email.Provider)
	}
	if c.JWT.Secret == "" {
		if !c.Development() {
			return errors.New("jwt.secret is required outside development")
		}
		c.JWT.Secret = "development-secret"
	}
	if c.Inventory.ReservationTTL <= 0 {
		return errors.New("inventory.reservation_ttl must be positive")
	}
	return nil
}
