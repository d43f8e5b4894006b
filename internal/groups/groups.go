// Package groups loads the static speaker-group and branding
// configuration file a deployment can ship alongside the binary: named
// sync groups the browser extension's UI can offer as one-click START_PLAYBACK
// targets, plus cosmetic branding. Grounded on the teacher pack's YAML
// config loader (Raikerian-go-discord-chatgpt's internal/config).
package groups

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Group struct {
	Name       string   `yaml:"name"`
	SpeakerIPs []string `yaml:"speaker_ips"`
}

type Branding struct {
	AppName   string `yaml:"app_name"`
	LogoURL   string `yaml:"logo_url"`
	AccentHex string `yaml:"accent_hex"`
}

type Config struct {
	Branding Branding `yaml:"branding"`
	Groups   []Group  `yaml:"groups"`
}

// LoadFile reads path and parses it as a groups Config. A missing file
// is not an error: groups config is optional and the UI falls back to
// manual per-speaker selection when none is configured.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
