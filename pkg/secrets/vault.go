// Copyright 2026 chat-platform authors
// HashiCorp Vault secret store (KV v2)

package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"

	apperrors "chat-platform/pkg/errors"
)

// VaultConfig Vault 配置
type VaultConfig struct {
	Address    string `yaml:"address"`     // Vault server 地址，如 http://vault:8200
	Token      string `yaml:"token"`       // Vault token
	PathPrefix string `yaml:"path_prefix"` // KV mount 前缀，默认 "secret"
}

type vaultStore struct {
	client *vault.Client
	mount  string
}

// NewVaultStore 创建 Vault secret store
func NewVaultStore(config VaultConfig) (Store, error) {
	cfg := vault.DefaultConfig()
	if config.Address != "" {
		cfg.Address = config.Address
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if config.Token != "" {
		client.SetToken(config.Token)
	}

	if _, err := client.Sys().Health(); err != nil {
		return nil, fmt.Errorf("failed to connect to vault: %w", err)
	}

	mount := config.PathPrefix
	if mount == "" {
		mount = "secret"
	}
	return &vaultStore{client: client, mount: mount}, nil
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	secret, err := v.client.KVv2(v.mount).Get(ctx, key)
	if err != nil {
		if strings.Contains(err.Error(), "secret not found") {
			return "", apperrors.Wrapf(apperrors.ErrNotFound, "secret %s", key)
		}
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}

	if val, ok := secret.Data["value"].(string); ok {
		return val, nil
	}
	// 无 "value" 字段时取第一个字符串值
	for _, raw := range secret.Data {
		if s, ok := raw.(string); ok {
			return s, nil
		}
	}
	return "", apperrors.Wrapf(apperrors.ErrNotFound, "secret %s has no string value", key)
}

func (v *vaultStore) Set(ctx context.Context, key string, value string) error {
	_, err := v.client.KVv2(v.mount).Put(ctx, key, map[string]interface{}{
		"value": value,
	})
	if err != nil {
		return fmt.Errorf("failed to write secret to vault: %w", err)
	}
	return nil
}

func (v *vaultStore) Delete(ctx context.Context, key string) error {
	if err := v.client.KVv2(v.mount).DeleteMetadata(ctx, key); err != nil {
		return fmt.Errorf("failed to delete secret from vault: %w", err)
	}
	return nil
}

func (v *vaultStore) List(ctx context.Context, prefix string) ([]string, error) {
	listPath := fmt.Sprintf("%s/metadata/%s", v.mount, prefix)
	secret, err := v.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets from vault: %w", err)
	}
	if secret == nil {
		return nil, nil
	}

	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	var keys []string
	for _, k := range raw {
		if s, ok := k.(string); ok {
			if prefix != "" && !strings.HasPrefix(s, prefix) {
				s = prefix + "/" + s
			}
			keys = append(keys, s)
		}
	}
	return keys, nil
}
