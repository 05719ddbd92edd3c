// Package config loads branch and manager-wide configuration from a
// YAML file. Branch credentials are never stored in the file directly:
// a credential user or password of the form "$ENV_VAR" is resolved
// against the process environment at load time. Other fields are used
// as written.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceCredentials are the Login (93) handshake credentials for one
// branch, when the branch requires authentication.
type ServiceCredentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// VendorProfile captures per-vendor quirks the connection manager
// must accommodate during login.
type VendorProfile struct {
	// RequirePostLoginStatus requests an additional SC Status (99)
	// round-trip immediately after a successful Login.
	RequirePostLoginStatus bool `yaml:"requirePostLoginStatus"`
}

// Branch is the static configuration for one LMS endpoint.
type Branch struct {
	ID                 string              `yaml:"id"`
	Host               string              `yaml:"host"`
	Port               int                 `yaml:"port"`
	InstitutionID      string              `yaml:"institutionId"`
	UseTLS             bool                `yaml:"useTLS"`
	InsecureSkipVerify bool                `yaml:"insecureSkipVerify"`
	ConnectTimeout     time.Duration       `yaml:"connectTimeout"`
	RequestTimeout     time.Duration       `yaml:"requestTimeout"`
	ChecksumRequired   bool                `yaml:"checksumRequired"`
	LocationCode       string              `yaml:"locationCode"`
	Credentials        *ServiceCredentials `yaml:"credentials"`
	VendorProfile      *VendorProfile      `yaml:"vendorProfile"`
}

// Manager holds manager-wide settings plus the list of branches.
type Manager struct {
	LocationCode     string          `yaml:"locationCode"`
	MasterKeyEnv     string          `yaml:"masterKeyEnv"`
	BreakerThreshold int             `yaml:"breakerThreshold"`
	BackoffSchedule  []time.Duration `yaml:"backoffSchedule"`
	Branches         []Branch        `yaml:"branches"`
}

// resolveEnvString returns the named environment variable's value when
// s has the form "$ENV_VAR", and s unchanged otherwise.
func resolveEnvString(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	name := strings.TrimPrefix(s, "$")
	return os.Getenv(name)
}

// Load reads and parses a branch configuration file from path,
// resolving $ENV_VAR secret references.
func Load(path string) (*Manager, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Manager
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	for i := range cfg.Branches {
		b := &cfg.Branches[i]
		if b.Credentials != nil {
			b.Credentials.User = resolveEnvString(b.Credentials.User)
			b.Credentials.Password = resolveEnvString(b.Credentials.Password)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) validate() error {
	seen := make(map[string]bool, len(m.Branches))
	for _, b := range m.Branches {
		if b.ID == "" {
			return fmt.Errorf("config: branch missing id")
		}
		if seen[b.ID] {
			return fmt.Errorf("config: duplicate branch id %q", b.ID)
		}
		seen[b.ID] = true
		if b.Host == "" || b.Port == 0 {
			return fmt.Errorf("config: branch %q missing host/port", b.ID)
		}
	}
	return nil
}

// MasterKey resolves the master HMAC key from the environment
// variable named by MasterKeyEnv.
func (m *Manager) MasterKey() string {
	if m.MasterKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.MasterKeyEnv)
}

// Branch looks up a single branch by id.
func (m *Manager) Branch(id string) (Branch, bool) {
	for _, b := range m.Branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}
