package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where aster stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Secret signs and verifies the access tokens of the HTTP surface
	Secret string
	// Version is the current version of server
	Version string

	// Model backend configuration
	ModelBaseURL string // ASTER_MODEL_BASE_URL (default: https://api.openai.com/v1)
	ModelAPIKey  string // ASTER_MODEL_API_KEY
	ModelName    string // ASTER_MODEL_NAME (default: gpt-4o-mini)

	// Timezone is the IANA zone used for the first-interaction-of-day check
	Timezone string // ASTER_TIMEZONE (default: UTC)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsModelEnabled returns true if a model backend is configured.
func (p *Profile) IsModelEnabled() bool {
	return p.ModelAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads the model backend configuration from environment variables.
func (p *Profile) FromEnv() {
	p.ModelBaseURL = getEnvOrDefault("ASTER_MODEL_BASE_URL", "https://api.openai.com/v1")
	p.ModelAPIKey = os.Getenv("ASTER_MODEL_API_KEY")
	p.ModelName = getEnvOrDefault("ASTER_MODEL_NAME", "gpt-4o-mini")
	p.Timezone = getEnvOrDefault("ASTER_TIMEZONE", "UTC")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Driver == "" {
		p.Driver = "sqlite"
	}

	if p.Timezone == "" {
		p.Timezone = "UTC"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("aster_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	return nil
}
