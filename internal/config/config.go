// Package config loads the relay's runtime configuration, grounded on
// the teacher's cleanenv + validator/v10 idiom (env tags, env-default,
// struct-tag validation) but restructured around this system's own
// components instead of the teacher's Telegram/SMTP sender pair.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

var ErrConfigPathNotSet = errors.New("config path not set")

type (
	Config struct {
		App        App        `env-prefix:"APP_"`
		Logger     Logger     `env-prefix:"LOGGER_"`
		Database   Database   `env-prefix:"DATABASE_"`
		Cache      Cache      `env-prefix:"REDIS_"`
		Queue      Queue      `env-prefix:"QUEUE_"`
		Provider   Provider   `env-prefix:"PROVIDER_"`
		RateLimit  RateLimit  `env-prefix:"RATE_LIMIT_"`
		Worker     Worker     `env-prefix:"WORKER_"`
		Scheduler  Scheduler  `env-prefix:"SCHEDULER_"`
		Webhook    Webhook    `env-prefix:"WEBHOOK_"`
		HTTP       HTTP       `env-prefix:"HTTP_"`
		Metrics    Metrics    `env-prefix:"METRICS_"`
		Email      Email      `env-prefix:"EMAIL_"`
		Env        string     `env:"ENV" env-default:"local" validate:"oneof=local dev staging prod"`
	}

	App struct {
		Name    string `env:"NAME"    env-default:"notifyrelay" validate:"required"`
		Version string `env:"VERSION" env-default:"dev"         validate:"required"`
	}

	Logger struct {
		Level      string `env:"LEVEL"       env-default:"info"                 validate:"oneof=debug info warn error"`
		Filename   string `env:"FILENAME"    env-default:"./logs/notifyrelay.log"`
		MaxSize    int    `env:"MAX_SIZE"    env-default:"100" validate:"min=1,max=1000"`
		MaxBackups int    `env:"MAX_BACKUPS" env-default:"3"   validate:"min=0,max=20"`
		MaxAge     int    `env:"MAX_AGE"     env-default:"28"  validate:"min=1,max=365"`
	}

	// Database mirrors DATABASE_URL from spec.md §6, expanded with the
	// pool-tuning knobs pgxdriver.New already exposes.
	Database struct {
		DSN            string        `env:"URL"               validate:"required"`
		PoolMax        int           `env:"POOL_MAX"          env-default:"20"  validate:"min=1,max=200"`
		ConnAttempts   int           `env:"CONN_ATTEMPTS"     env-default:"5"   validate:"min=1,max=20"`
		BaseRetryDelay time.Duration `env:"BASE_RETRY_DELAY"  env-default:"200ms"`
		MaxRetryDelay  time.Duration `env:"MAX_RETRY_DELAY"   env-default:"5s"`
	}

	Cache struct {
		Addr     string `env:"ADDR"     validate:"required"`
		Password string `env:"PASSWORD"`
	}

	// Queue covers QUEUE_URL / QUEUE_DLQ_URL from spec.md §6; the DLQ URL
	// is accepted for interface parity but the RabbitMQ adapter derives
	// its own dead-letter topology from Exchange/Queue rather than a
	// second broker URL.
	Queue struct {
		URL            string        `env:"URL"             validate:"required"`
		DLQURL         string        `env:"DLQ_URL"`
		ConnectionName string        `env:"CONNECTION_NAME" env-default:"notifyrelay"`
		ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" env-default:"5s"`
		Heartbeat      time.Duration `env:"HEARTBEAT"       env-default:"10s"`
		Exchange       string        `env:"EXCHANGE"        env-default:"notifications"`
		Queue          string        `env:"QUEUE"           env-default:"notifications"`
		ContentType    string        `env:"CONTENT_TYPE"    env-default:"application/json"`
		PrefetchCount  int           `env:"PREFETCH_COUNT"  env-default:"20" validate:"min=1,max=1000"`
	}

	Provider struct {
		BaseURL          string        `env:"BASE_URL"           env-default:"https://graph.facebook.com"`
		APIVersion       string        `env:"API_VERSION"        env-default:"v19.0"`
		PhoneNumberID    string        `env:"PHONE_NUMBER_ID"    validate:"required"`
		AccessToken      string        `env:"ACCESS_TOKEN"       validate:"required"`
		TimeoutMS        int           `env:"TIMEOUT_MS"         env-default:"30000" validate:"min=1000,max=120000"`
		RequestsPerSec   float64       `env:"REQUESTS_PER_SEC"   env-default:"10"`
		BurstSize        int           `env:"BURST_SIZE"         env-default:"20"`
		BreakerInterval  time.Duration `env:"BREAKER_INTERVAL"   env-default:"60s"`
		BreakerTimeout   time.Duration `env:"BREAKER_TIMEOUT"    env-default:"30s"`
	}

	// RateLimit covers RATE_LIMIT_RECIPIENT_PER_HOUR and
	// RATE_LIMIT_TENANT_PER_MINUTE from spec.md §6; the latter is
	// enforced in front of C2 at the HTTP layer (per-tenant, not
	// per-recipient), since C2's store is keyed by recipient only.
	RateLimit struct {
		RecipientPerHour int `env:"RECIPIENT_PER_HOUR" env-default:"10"  validate:"min=1"`
		TenantPerMinute  int `env:"TENANT_PER_MINUTE"  env-default:"100" validate:"min=1"`
	}

	Worker struct {
		Concurrency         int           `env:"CONCURRENCY"          env-default:"10" validate:"min=1,max=500"`
		WaitSeconds         int           `env:"WAIT_SECONDS"         env-default:"20" validate:"min=1,max=20"`
		VisibilityTimeoutS  int           `env:"VISIBILITY_TIMEOUT_S" env-default:"30" validate:"min=1"`
		ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" env-default:"30s"`
	}

	Scheduler struct {
		RetrySweepIntervalMS     int    `env:"RETRY_SWEEP_INTERVAL_MS"     env-default:"60000" validate:"min=1000"`
		ScheduledSweepIntervalMS int    `env:"SCHEDULED_SWEEP_INTERVAL_MS" env-default:"30000" validate:"min=1000"`
		JanitorCron              string `env:"JANITOR_CRON"                env-default:"@every 1h"`
		JanitorRetention         time.Duration `env:"JANITOR_RETENTION"   env-default:"24h"`
		ReconcileGrace           time.Duration `env:"RECONCILE_GRACE"     env-default:"5m"`
	}

	Webhook struct {
		VerifyToken string `env:"VERIFY_TOKEN" validate:"required"`
		AppSecret   string `env:"APP_SECRET"`
	}

	HTTP struct {
		Host              string        `env:"HOST"                env-default:"0.0.0.0"`
		Port              string        `env:"PORT"                env-default:"8080" validate:"required"`
		ReadTimeout       time.Duration `env:"READ_TIMEOUT"        env-default:"5s"`
		WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"       env-default:"5s"`
		IdleTimeout       time.Duration `env:"IDLE_TIMEOUT"        env-default:"60s"`
		ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"    env-default:"10s"`
		ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" env-default:"5s"`
	}

	Metrics struct {
		Host string `env:"HOST" env-default:"0.0.0.0"`
		Port string `env:"PORT" env-default:"9090" validate:"required"`
	}

	// Email is the optional escalation sender (SPEC_FULL.md DOMAIN
	// STACK), disabled unless Enabled is set; kept from the teacher's
	// SMTP struct shape.
	Email struct {
		Enabled   bool   `env:"ENABLED"  env-default:"false"`
		Host      string `env:"HOST"`
		Port      int    `env:"PORT"`
		Username  string `env:"USERNAME"`
		Password  string `env:"PASSWORD"`
		Sender    string `env:"SENDER"`
		Recipient string `env:"RECIPIENT"`
	}
)

func Load() (*Config, error) {
	path := fetchConfigPath()
	if path == "" {
		return loadFromEnv()
	}
	return LoadPath(path)
}

func LoadPath(configPath string) (*Config, error) {
	const op = "config.LoadPath"

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	} else if err != nil {
		return nil, fmt.Errorf("%s: checking config file: %w", op, err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: read config: %w", op, err)
	}
	return validate(&cfg, op)
}

func loadFromEnv() (*Config, error) {
	const op = "config.loadFromEnv"

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%s: read env: %w", op, err)
	}
	return validate(&cfg, op)
}

func validate(cfg *Config, op string) (*Config, error) {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			var msgs []string
			for _, ve := range validationErrs {
				msgs = append(msgs, fmt.Sprintf("%s=%v must satisfy '%s'", ve.Field(), ve.Value(), ve.Tag()))
			}
			return nil, fmt.Errorf("%s: config validation: %s", op, strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("%s: config validation: %w", op, err)
	}
	return cfg, nil
}

func fetchConfigPath() string {
	var path string
	flag.StringVar(&path, "config", "", "Path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}
