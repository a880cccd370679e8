// Package secrets resolves feed credentials. When Vault is configured,
// credential references are looked up in the KV mount; otherwise they fall
// back to environment variables.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"github.com/quantumlayerhq/aetim/pkg/config"
	"github.com/quantumlayerhq/aetim/pkg/logger"
)

// Store resolves credential references to secret values.
type Store interface {
	// Resolve turns a credential reference (e.g. "nvd/api_key") into the
	// secret value it points at.
	Resolve(ctx context.Context, ref string) (string, error)
}

// New builds a store from configuration: Vault-backed when enabled, env
// fallback otherwise.
func New(cfg config.VaultConfig, log *logger.Logger) (Store, error) {
	if !cfg.Enabled {
		return &EnvStore{}, nil
	}

	vc := vault.DefaultConfig()
	vc.Address = cfg.Address

	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &VaultStore{
		client:    client,
		mountPath: cfg.MountPath,
		log:       log.WithComponent("secrets"),
	}, nil
}

// VaultStore resolves references from a Vault KV v2 mount.
type VaultStore struct {
	client    *vault.Client
	mountPath string
	log       *logger.Logger
}

// Resolve looks up "path/field" under the configured mount.
func (s *VaultStore) Resolve(ctx context.Context, ref string) (string, error) {
	idx := strings.LastIndex(ref, "/")
	if idx <= 0 || idx == len(ref)-1 {
		return "", fmt.Errorf("malformed credential ref %q, want path/field", ref)
	}
	path, field := ref[:idx], ref[idx+1:]

	secret, err := s.client.KVv2(s.mountPath).Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret %s: %w", path, err)
	}

	value, ok := secret.Data[field].(string)
	if !ok {
		return "", fmt.Errorf("secret %s has no string field %q", path, field)
	}

	return value, nil
}

// EnvStore resolves references from environment variables: "nvd/api_key"
// becomes NVD_API_KEY.
type EnvStore struct{}

// Resolve maps the reference to an environment variable name.
func (s *EnvStore) Resolve(ctx context.Context, ref string) (string, error) {
	name := strings.ToUpper(strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(ref))
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("credential %s not set in environment (%s)", ref, name)
	}
	return value, nil
}
