package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment keys understood for platform access. The process environment
// wins over secrets.env.
const (
	envSecurityContext = "DX_SECURITY_CONTEXT"
	envAuthToken       = "DX_AUTH_TOKEN"
	envAPIProtocol     = "DX_APISERVER_PROTOCOL"
	envAPIHost         = "DX_APISERVER_HOST"
	envAPIPort         = "DX_APISERVER_PORT"
)

// LoadSecretsEnv reads KEY=VALUE pairs from path. A missing file yields an empty map.
func LoadSecretsEnv(path string) (map[string]string, error) {
	out, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets %s: %w", path, err)
	}
	return out, nil
}

func applyPlatformEnv(cfg *Config, secrets map[string]string) error {
	for _, k := range []string{envSecurityContext, envAuthToken, envAPIProtocol, envAPIHost, envAPIPort} {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}

	if v := secrets[envSecurityContext]; v != "" {
		var sc struct {
			AuthTokenType string `json:"auth_token_type"`
			AuthToken     string `json:"auth_token"`
		}
		if err := json.Unmarshal([]byte(v), &sc); err != nil {
			return fmt.Errorf("parse %s: %w", envSecurityContext, err)
		}
		cfg.Platform.Token = sc.AuthToken
	}
	if v := secrets[envAuthToken]; v != "" {
		cfg.Platform.Token = v
	}

	if host := secrets[envAPIHost]; host != "" {
		proto := secrets[envAPIProtocol]
		if proto == "" {
			proto = "https"
		}
		server := proto + "://" + host
		if port := secrets[envAPIPort]; port != "" {
			server += ":" + port
		}
		cfg.Platform.APIServer = server
	}
	return nil
}
