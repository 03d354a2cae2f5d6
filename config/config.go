// Package config loads process configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// DefaultAPIURL is the Silverback x402 API.
const DefaultAPIURL = "https://x402.silverbackdefi.app"

// Config is built once at startup and passed to the components that need it.
type Config struct {
	APIURL          string `env:"SILVERBACK_API_URL" validate:"required,url"`
	PrivateKey      string `env:"PRIVATE_KEY" validate:"required"`
	LogLevel        string `env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	MaxPaymentUSDC  string `env:"MAX_PAYMENT_USDC" validate:"omitempty,numeric"`
	CDPAPIKey       string `env:"CDP_API_KEY" validate:"required_with=CDPAPIKeySecret"`
	CDPAPIKeySecret string `env:"CDP_API_KEY_SECRET" validate:"required_with=CDPAPIKey"`
}

// String hides the private key and API secret.
func (c Config) String() string {
	return fmt.Sprintf("Config{APIURL:%s LogLevel:%s MaxPaymentUSDC:%s CDP:%t}",
		c.APIURL, c.LogLevel, c.MaxPaymentUSDC, c.CDPAPIKey != "")
}

// GoString hides secrets in %#v as well.
func (c Config) GoString() string {
	return c.String()
}

// MaxPayment returns the per-call spending cap in the token's smallest unit, or nil when unset.
func (c Config) MaxPayment(decimals int32) (*big.Int, error) {
	if c.MaxPaymentUSDC == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(c.MaxPaymentUSDC)
	if err != nil {
		return nil, fmt.Errorf("MAX_PAYMENT_USDC: %w", err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("MAX_PAYMENT_USDC must be positive, got %s", c.MaxPaymentUSDC)
	}
	atomic := d.Shift(decimals).Floor()
	if !atomic.IsPositive() {
		return nil, fmt.Errorf("MAX_PAYMENT_USDC %s is below the smallest unit (1e-%d)", c.MaxPaymentUSDC, decimals)
	}
	return atomic.BigInt(), nil
}

// Load reads envFile (or ./.env when envFile is empty and the file exists) into the process
// environment, then builds and validates the Config. Variables already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup and validates it.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	cfg := &Config{
		APIURL:          strings.TrimRight(get("SILVERBACK_API_URL"), "/"),
		PrivateKey:      get("PRIVATE_KEY"),
		LogLevel:        get("LOG_LEVEL"),
		MaxPaymentUSDC:  get("MAX_PAYMENT_USDC"),
		CDPAPIKey:       get("CDP_API_KEY"),
		CDPAPIKeySecret: get("CDP_API_KEY_SECRET"),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("env"); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

// Validate checks the struct tags and the spending cap.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.MaxPayment(6); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", fe.Field(), envName(fe.Param()))
	case "url":
		return fmt.Sprintf("%s must be a URL", fe.Field())
	case "numeric":
		return fmt.Sprintf("%s must be a decimal number", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of debug, info, warn, error", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func envName(field string) string {
	if f, ok := reflect.TypeOf(Config{}).FieldByName(field); ok {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
	}
	return field
}
