// Package secrets supplies answer provider credentials. Credentials are read
// on demand and never persisted by the engine.
package secrets

import (
	"errors"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when no source holds the named credential.
var ErrNotFound = eris.New("secrets: not found")

// Provider looks up a credential by name.
type Provider interface {
	Get(name string) (string, error)
}

// KeyringProvider reads credentials from the OS keychain.
type KeyringProvider struct {
	service string
}

// NewKeyringProvider returns a provider scoped to the keychain service.
func NewKeyringProvider(service string) *KeyringProvider {
	return &KeyringProvider{service: service}
}

// Get implements Provider.
func (k *KeyringProvider) Get(name string) (string, error) {
	secret, err := keyring.Get(k.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", eris.Wrapf(ErrNotFound, "keyring %s/%s", k.service, name)
	}
	if err != nil {
		return "", eris.Wrapf(err, "secrets: keyring get %s", name)
	}
	return secret, nil
}

// EnvProvider reads credentials from environment variables named
// PREFIX_NAME, upper-cased.
type EnvProvider struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvProvider returns a provider reading variables with the given prefix.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix, lookup: os.LookupEnv}
}

// Get implements Provider.
func (e *EnvProvider) Get(name string) (string, error) {
	key := strings.ToUpper(name)
	if e.prefix != "" {
		key = strings.ToUpper(e.prefix) + "_" + key
	}
	if v, ok := e.lookup(key); ok && v != "" {
		return v, nil
	}
	return "", eris.Wrapf(ErrNotFound, "env %s", key)
}

// Chain tries each provider in order and returns the first hit.
type Chain []Provider

// Get implements Provider.
func (c Chain) Get(name string) (string, error) {
	for _, p := range c {
		v, err := p.Get(name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", eris.Wrapf(ErrNotFound, "secrets: %s", name)
}

// New builds the default chain: environment first, then the keychain when
// enabled.
func New(service string, useKeyring bool) Provider {
	chain := Chain{NewEnvProvider(service)}
	if useKeyring {
		chain = append(chain, NewKeyringProvider(service))
	}
	return chain
}
