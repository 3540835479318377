// Package llm is the provider adapter: it resolves the active LLM provider,
// sends chat requests through the reliability pipeline, and normalizes the
// responses of every provider into one [AIResponse] shape.
package llm

import (
	"fmt"
	"strings"

	errx "github.com/procura-agent/server/internal/core/error"
)

// Provider identifies a supported LLM backend. The set is closed.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Providers lists every supported provider in resolution order.
var Providers = []Provider{ProviderOpenAI, ProviderGemini}

func (p Provider) String() string { return string(p) }

// CredentialEnv names the environment variable holding the provider's API key.
func (p Provider) CredentialEnv() string {
	return strings.ToUpper(string(p)) + "_API_KEY"
}

// ParseProvider maps a configuration value onto a [Provider].
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Credentials maps each provider to its API key. Empty keys count as absent.
type Credentials map[Provider]string

// ResolveProvider picks the active provider: the explicit override when set,
// otherwise the first provider with a credential. Failure is a
// *errx.ConfigurationError naming the variables that would fix it.
func ResolveProvider(override string, creds Credentials) (Provider, error) {
	if strings.TrimSpace(override) != "" {
		p, err := ParseProvider(override)
		if err != nil {
			return "", &errx.ConfigurationError{Reason: fmt.Sprintf("LLM_PROVIDER: %v", err)}
		}
		if strings.TrimSpace(creds[p]) == "" {
			return "", &errx.ConfigurationError{
				Missing: []string{p.CredentialEnv()},
				Reason:  fmt.Sprintf("LLM_PROVIDER=%s has no credential", p),
			}
		}
		return p, nil
	}

	missing := make([]string, 0, len(Providers))
	for _, p := range Providers {
		if strings.TrimSpace(creds[p]) != "" {
			return p, nil
		}
		missing = append(missing, p.CredentialEnv())
	}
	return "", &errx.ConfigurationError{Missing: missing, Reason: "no LLM provider credential configured"}
}
