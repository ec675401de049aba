package secrets

import (
	"context"
	"fmt"
	"os"

	onepassword "github.com/1password/onepassword-sdk-go"
)

// OnePasswordSDKBackend implements OnePasswordBackend against the real
// 1Password SDK, grounded on toolhive's pkg/secrets OnePasswordManager
// (same env var, same "missing token" failure mode, same secret-reference
// passthrough to client.Secrets().Resolve).
type OnePasswordSDKBackend struct {
	client *onepassword.Client
}

const onePasswordTokenEnvVar = "OP_SERVICE_ACCOUNT_TOKEN"

// NewOnePasswordSDKBackend authenticates a 1Password SDK client using the
// service-account token from the environment, per spec.md §4.2's op://
// backend. Returns an error if the token is not set, matching the
// fail-closed-on-reload rule for missing secret backends.
func NewOnePasswordSDKBackend(ctx context.Context, integrationName, integrationVersion string) (*OnePasswordSDKBackend, error) {
	token := os.Getenv(onePasswordTokenEnvVar)
	if token == "" {
		return nil, fmt.Errorf("%s is not set", onePasswordTokenEnvVar)
	}

	client, err := onepassword.NewClient(ctx,
		onepassword.WithServiceAccountToken(token),
		onepassword.WithIntegrationInfo(integrationName, integrationVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create 1Password client: %w", err)
	}

	return &OnePasswordSDKBackend{client: client}, nil
}

// Resolve looks up a "op://vault/item/field" secret reference.
func (b *OnePasswordSDKBackend) Resolve(ctx context.Context, ref string) (string, error) {
	value, err := b.client.Secrets().Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve 1Password reference %q: %w", ref, err)
	}
	return value, nil
}
