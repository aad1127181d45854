package profile

import (
	"os"
	"testing"
)

func TestModelDefaults(t *testing.T) {
	clearModelEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"ModelBaseURL default", "https://api.openai.com/v1", profile.ModelBaseURL},
		{"ModelName default", "gpt-4o-mini", profile.ModelName},
		{"ModelAPIKey empty by default", "", profile.ModelAPIKey},
		{"Timezone default", "UTC", profile.Timezone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}
}

func TestModelFromEnv(t *testing.T) {
	clearModelEnvVars()

	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "ASTER_MODEL_BASE_URL",
			envVar:   "ASTER_MODEL_BASE_URL",
			envValue: "https://custom.openai.proxy/v1",
			field:    func(p *Profile) string { return p.ModelBaseURL },
			expected: "https://custom.openai.proxy/v1",
		},
		{
			name:     "ASTER_MODEL_API_KEY",
			envVar:   "ASTER_MODEL_API_KEY",
			envValue: "test-key-123",
			field:    func(p *Profile) string { return p.ModelAPIKey },
			expected: "test-key-123",
		},
		{
			name:     "ASTER_MODEL_NAME",
			envVar:   "ASTER_MODEL_NAME",
			envValue: "gpt-4o",
			field:    func(p *Profile) string { return p.ModelName },
			expected: "gpt-4o",
		},
		{
			name:     "ASTER_TIMEZONE",
			envVar:   "ASTER_TIMEZONE",
			envValue: "Europe/Berlin",
			field:    func(p *Profile) string { return p.Timezone },
			expected: "Europe/Berlin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearModelEnvVars()
			os.Setenv(tt.envVar, tt.envValue)

			profile := &Profile{}
			profile.FromEnv()

			if actual := tt.field(profile); actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestIsModelEnabled(t *testing.T) {
	p := &Profile{}
	if p.IsModelEnabled() {
		t.Error("IsModelEnabled(): expected false without an API key")
	}
	p.ModelAPIKey = "test-key"
	if !p.IsModelEnabled() {
		t.Error("IsModelEnabled(): expected true with an API key")
	}
}

func TestValidateDefaults(t *testing.T) {
	clearModelEnvVars()

	dir := t.TempDir()
	p := &Profile{Mode: "bogus", Data: dir}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate(): unexpected error: %v", err)
	}
	if p.Mode != "dev" {
		t.Errorf("Mode: expected %q, got %q", "dev", p.Mode)
	}
	if p.Driver != "sqlite" {
		t.Errorf("Driver: expected %q, got %q", "sqlite", p.Driver)
	}
	if p.DSN == "" {
		t.Error("DSN: expected a generated sqlite path")
	}
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "prod", Data: dir, Driver: "postgres"}
	if err := p.Validate(); err == nil {
		t.Error("Validate(): expected error for postgres without DSN")
	}
}

func clearModelEnvVars() {
	for _, envVar := range []string{
		"ASTER_MODEL_BASE_URL",
		"ASTER_MODEL_API_KEY",
		"ASTER_MODEL_NAME",
		"ASTER_TIMEZONE",
	} {
		os.Unsetenv(envVar)
	}
}
