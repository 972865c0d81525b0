package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Wrapper holds the agent-side wrapper configuration. Values come from
// ~/.omnara/config.yaml first, then the environment; the environment wins.
type Wrapper struct {
	APIKey    string
	APIURL    string
	RelayURL  string
	SessionID string
	Disabled  bool // OMNARA_RELAY_DISABLED: run locally, skip the relay
}

type wrapperFile struct {
	APIKey   string `yaml:"api_key"`
	RelayURL string `yaml:"relay_url"`
}

// LoadWrapper resolves wrapper configuration. A missing API key is an error:
// the wrapper cannot identify its owner without one.
func LoadWrapper() (Wrapper, error) {
	var file wrapperFile
	if home, err := os.UserHomeDir(); err == nil {
		if data, err := os.ReadFile(filepath.Join(home, ".omnara", "config.yaml")); err == nil {
			// A malformed config file is ignored rather than fatal; env vars
			// still work.
			_ = yaml.Unmarshal(data, &file)
		}
	}

	cfg := Wrapper{
		APIKey:    envStr("OMNARA_API_KEY", file.APIKey),
		APIURL:    envStr("OMNARA_API_URL", "https://agent.omnara.com"),
		SessionID: os.Getenv("OMNARA_SESSION_ID"),
		Disabled:  envBool("OMNARA_RELAY_DISABLED"),
	}

	relayURL := file.RelayURL
	if host := os.Getenv("OMNARA_RELAY_HOST"); host != "" {
		port := envStr("OMNARA_RELAY_WS_PORT", "8787")
		scheme := "wss"
		if host == "localhost" || host == "127.0.0.1" {
			scheme = "ws"
		}
		relayURL = fmt.Sprintf("%s://%s:%s", scheme, host, port)
	}
	if relayURL == "" {
		relayURL = "wss://relay.omnara.com"
	}
	cfg.RelayURL = relayURL

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.APIKey == "" {
		return cfg, fmt.Errorf("OMNARA_API_KEY is not set (and no api_key in ~/.omnara/config.yaml)")
	}
	return cfg, nil
}
