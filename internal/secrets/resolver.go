// Package secrets implements the SecretResolver leaf of spec.md §4.2: it
// turns reference strings embedded in a configuration tree into resolved
// literal values. The resolver is re-run once per reload generation
// (internal/reload wires a fresh instance into each ReloadGeneration); results
// are never shared across generations.
package secrets

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/mxerr"
)

// VaultBackend resolves a "vault://path#key" reference against an external
// secret store. The corpus this project was grounded on does not carry a
// concrete HashiCorp Vault client (toolhive integrates 1Password and OS
// keyrings, not Vault), so Vault itself is modeled only by this interface;
// see DESIGN.md for the per-dependency note. A deployment wires a concrete
// implementation (HTTP KV-v2 client, etc.) via WithVaultBackend.
type VaultBackend interface {
	Read(ctx context.Context, path, key string) (string, error)
}

// OnePasswordBackend resolves an "op://vault/item/field" reference. The
// production implementation wraps github.com/1password/onepassword-sdk-go;
// it is abstracted here so tests can substitute a fake without a live
// service account token.
type OnePasswordBackend interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Resolver implements spec.md §4.2's reference-string expansion. It is pure
// and safe for concurrent use; construct a fresh Resolver per reload
// generation via New.
type Resolver struct {
	vault  VaultBackend
	onepw  OnePasswordBackend
	getenv func(string) string
	readFile func(string) ([]byte, error)
	backoff backoff.BackOff
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithVaultBackend(v VaultBackend) Option { return func(r *Resolver) { r.vault = v } }
func WithOnePasswordBackend(o OnePasswordBackend) Option {
	return func(r *Resolver) { r.onepw = o }
}

// New constructs a Resolver. Backends are optional: a configuration tree
// that never references vault:// or op:// works with a bare New().
func New(opts ...Option) *Resolver {
	r := &Resolver{
		getenv:   os.Getenv,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve expands a single reference string. Strings that match none of the
// recognized prefixes are returned unchanged (they are literals already).
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "${") && strings.HasSuffix(ref, "}"):
		name := ref[2 : len(ref)-1]
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", mxerr.Newf(mxerr.ReloadError, nil, "secret: environment variable %q is not set", name)
		}
		return val, nil

	case strings.HasPrefix(ref, "vault://"):
		return r.resolveVault(ctx, ref)

	case strings.HasPrefix(ref, "op://"):
		return r.resolveOnePassword(ctx, ref)

	case strings.HasPrefix(ref, "file://"):
		return r.resolveFile(ref)

	default:
		return ref, nil
	}
}

func (r *Resolver) resolveVault(ctx context.Context, ref string) (string, error) {
	if r.vault == nil {
		return "", mxerr.Newf(mxerr.ReloadError, nil, "secret: %q references vault but no vault backend is configured", ref)
	}
	rest := strings.TrimPrefix(ref, "vault://")
	path, key, ok := strings.Cut(rest, "#")
	if !ok {
		return "", mxerr.Newf(mxerr.ReloadError, nil, "secret: malformed vault reference %q, expected vault://path#key", ref)
	}

	op := func() (string, error) {
		v, err := r.vault.Read(ctx, path, key)
		if err != nil {
			logger.Warnw("vault read failed, will retry", "path", path, "error", err)
		}
		return v, err
	}

	val, err := backoff.Retry(ctx, op, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return "", mxerr.Newf(mxerr.ReloadError, err, "secret: vault read failed for %q", ref)
	}
	return val, nil
}

func (r *Resolver) resolveOnePassword(ctx context.Context, ref string) (string, error) {
	if r.onepw == nil {
		return "", mxerr.Newf(mxerr.ReloadError, nil, "secret: %q references 1Password but no backend is configured", ref)
	}
	if _, err := url.Parse(ref); err != nil {
		return "", mxerr.Newf(mxerr.ReloadError, err, "secret: malformed 1Password reference %q", ref)
	}
	val, err := r.onepw.Resolve(ctx, ref)
	if err != nil {
		return "", mxerr.Newf(mxerr.ReloadError, err, "secret: 1Password lookup failed for %q", ref)
	}
	return val, nil
}

func (r *Resolver) resolveFile(ref string) (string, error) {
	path := strings.TrimPrefix(ref, "file://")
	data, err := r.readFile(path)
	if err != nil {
		return "", mxerr.Newf(mxerr.ReloadError, err, "secret: failed to read file %q", path)
	}
	return strings.TrimRight(string(data), " \t\r\n"), nil
}

// ResolveTree walks a tree of strings (as produced by decoding a YAML/JSON
// configuration document into map[string]any / []any / string / ...) and
// returns a deep copy with every string value passed through Resolve. Only
// string leaves are treated as potential references; other scalar types
// pass through unchanged.
func (r *Resolver) ResolveTree(ctx context.Context, tree any) (any, error) {
	switch t := tree.(type) {
	case string:
		return r.Resolve(ctx, t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			rv, err := r.ResolveTree(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			rv, err := r.ResolveTree(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = rv
		}
		return out, nil
	default:
		return tree, nil
	}
}

// SecretMap is the fully-resolved output of a reload generation's
// SecretResolver pass: every reference in the project/user config trees
// replaced with a literal.
type SecretMap struct {
	resolved map[string]string
	at       time.Time
}

func NewSecretMap(resolved map[string]string) *SecretMap {
	return &SecretMap{resolved: resolved, at: time.Now()}
}

func (m *SecretMap) Get(name string) (string, bool) {
	v, ok := m.resolved[name]
	return v, ok
}

func (m *SecretMap) ResolvedAt() time.Time { return m.at }
