package app

import (
	"fmt"
	"strings"

	"github.com/passq/passq/pkg/crypto"
)

const masterSecretBytes = 48

// ApplyRuntimeDefaults ensures key material is populated even when no
// configuration file is supplied. A generated master secret means the three
// purpose keys are derived fresh each start, so tokens and audit tags do not
// survive a restart; production deployments are expected to configure keys.
// It returns a map describing which keys were generated so callers can log
// the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.ToLower(strings.TrimSpace(cfg.Keys.Provider)) == "vault" {
		return generated, nil
	}

	explicit := cfg.Keys.EncryptionKey != "" && cfg.Keys.SigningKey != "" && cfg.Keys.AuditKey != ""
	if explicit || strings.TrimSpace(cfg.Keys.MasterSecret) != "" {
		return generated, nil
	}

	secret, err := crypto.GenerateToken(masterSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}
	cfg.Keys.MasterSecret = secret
	generated["keys.master_secret"] = true

	return generated, nil
}
