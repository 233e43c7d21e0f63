// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// QR providers.
const (
	QRProviderHTTP  = "http"
	QRProviderLocal = "local"
)

// Config holds every environment setting of the service.
type Config struct {
	StorageType      string `env:"STORAGE_TYPE"       envDefault:"memory"`
	LocalStoragePath string `env:"LOCAL_STORAGE_PATH" envDefault:"./data"`
	DataSourceName   string `env:"DATA_SOURCE_NAME"   envDefault:"invitecanvas.db"`
	S3BucketName     string `env:"S3_BUCKET_NAME"`

	JWTSecret string `env:"JWT_SECRET"`
	DevTokens bool   `env:"DEV_TOKENS" envDefault:"false"`

	QRProvider   string `env:"QR_PROVIDER"    envDefault:"http"`
	QRServiceURL string `env:"QR_SERVICE_URL" envDefault:"https://api.qrserver.com/v1/create-qr-code/"`
	QRSize       int    `env:"QR_SIZE"        envDefault:"200"`

	AssetTimeout     time.Duration `env:"ASSET_TIMEOUT"     envDefault:"15s"`
	AssetCacheSize   int           `env:"ASSET_CACHE_SIZE"  envDefault:"64"`
	AssetConcurrency int           `env:"ASSET_CONCURRENCY" envDefault:"8"`

	ExportFolder string        `env:"EXPORT_FOLDER" envDefault:"invitations"`
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"30m"`
	SessionIdle  time.Duration `env:"SESSION_IDLE"  envDefault:"1h"`
	MailSubject  string        `env:"MAIL_SUBJECT"  envDefault:"You're invited, {guest_name}!"`
}

// Load reads an optional .env file and parses the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		logrus.Info("No .env file found")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	switch c.QRProvider {
	case QRProviderHTTP, QRProviderLocal:
	default:
		return fmt.Errorf("QR_PROVIDER must be %q or %q, got %q", QRProviderHTTP, QRProviderLocal, c.QRProvider)
	}
	if c.StorageType == "s3" && c.S3BucketName == "" {
		return fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage type")
	}
	if c.QRSize <= 0 || c.AssetCacheSize < 0 || c.AssetConcurrency <= 0 {
		return fmt.Errorf("QR_SIZE and ASSET_CONCURRENCY must be positive, ASSET_CACHE_SIZE not negative")
	}
	if c.JobRetention <= 0 || c.SessionIdle <= 0 {
		return fmt.Errorf("JOB_RETENTION and SESSION_IDLE must be positive")
	}
	return nil
}
