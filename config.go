package gtdlog

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LocalConfig is local.conf.json: the replica id this
// installation owns and the shared secret the UI transport's optional
// auth challenge is keyed on.
type LocalConfig struct {
	AppID     string `json:"app_id"`
	LocalAuth string `json:"local_auth"`
}

// SyncConfig is sync.conf.json: where the sync client reaches
// the server and the token that authenticates it there.
type SyncConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	SyncAuth string `json:"sync_auth"`
}

// LoadLocalConfig reads local.conf.json from dir, creating it with a fresh
// replica id and auth token (user-only permissions) if absent.
func LoadLocalConfig(dir string, replicaIDLen int) (*LocalConfig, error) {
	path := filepath.Join(dir, "local.conf.json")
	var cfg LocalConfig
	if err := loadOrInit(path, &cfg, func() error {
		appID, err := randomToken(replicaIDLen)
		if err != nil {
			return err
		}
		auth, err := randomToken(32)
		if err != nil {
			return err
		}
		cfg = LocalConfig{AppID: appID, LocalAuth: auth}
		return nil
	}); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSyncConfig reads sync.conf.json from dir. Unlike local.conf.json it
// is not self-initializing: host/port/token are operator-supplied.
func LoadSyncConfig(dir string) (*SyncConfig, error) {
	path := filepath.Join(dir, "sync.conf.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gtdlog: read sync config: %w", err)
	}
	var cfg SyncConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("gtdlog: %w: parse sync config: %v", ErrParse, err)
	}
	return &cfg, nil
}

func loadOrInit(path string, out any, init func() error) error {
	data, err := os.ReadFile(path)
	if err == nil {
		return json.Unmarshal(data, out)
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("gtdlog: read %s: %w", path, err)
	}

	if err := init(); err != nil {
		return err
	}
	data, err = json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("gtdlog: encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("gtdlog: create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("gtdlog: write %s: %w", path, err)
	}
	return nil
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomToken returns a random alphanumeric string of length n, suitable
// for a replica id or an opaque auth token.
func randomToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("gtdlog: generate random token: %w", err)
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}

// hexToken is a convenience for callers that want a hex-encoded random
// value instead of the alphanumeric replica-id alphabet (e.g. sync_auth).
func hexToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("gtdlog: generate random token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
