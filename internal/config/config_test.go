package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	errx "github.com/procura-agent/server/internal/core/error"
	"github.com/procura-agent/server/internal/llm"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LLM_PROVIDER", "OPENAI_API_KEY", "GEMINI_API_KEY", "OPENAI_MODEL", "GEMINI_MODEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reliability.BreakerThreshold != 5 || cfg.Reliability.BreakerCooldown != 30*time.Second {
		t.Errorf("breaker = %+v", cfg.Reliability)
	}
	if cfg.Reliability.RetryMaxAttempts != 3 || cfg.Reliability.CallTimeout != 30*time.Second {
		t.Errorf("retry = %+v", cfg.Reliability)
	}
	if cfg.Conversation.TTL != 24*time.Hour || cfg.Conversation.ToolMaxCalls != 10 {
		t.Errorf("conversation = %+v", cfg.Conversation)
	}
	if cfg.Redis.Enabled() || cfg.Postgres.Enabled() {
		t.Error("infrastructure should be disabled without URLs")
	}

	pc, err := cfg.ResolveProvider()
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if pc.Provider != llm.ProviderOpenAI || pc.Model != "gpt-4o-mini" {
		t.Errorf("provider config = %+v", pc)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("BREAKER_THRESHOLD", "")
	os.Unsetenv("BREAKER_THRESHOLD")

	path := filepath.Join(t.TempDir(), ".env")
	body := "GEMINI_API_KEY=g-test\nBREAKER_THRESHOLD=7\nLLM_CALL_TIMEOUT=12s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("GEMINI_API_KEY")
		os.Unsetenv("BREAKER_THRESHOLD")
		os.Unsetenv("LLM_CALL_TIMEOUT")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reliability.BreakerThreshold != 7 || cfg.Reliability.CallTimeout != 12*time.Second {
		t.Errorf("reliability = %+v", cfg.Reliability)
	}
	pc, err := cfg.ResolveProvider()
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if pc.Provider != llm.ProviderGemini || pc.Model != "gemini-2.5-flash" {
		t.Errorf("provider config = %+v", pc)
	}
}

func TestResolveProvider_NoCredentials(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = cfg.ResolveProvider()

	var cfgErr *errx.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	if want := []string{"OPENAI_API_KEY", "GEMINI_API_KEY"}; !reflect.DeepEqual(cfgErr.Missing, want) {
		t.Errorf("missing = %v, want %v", cfgErr.Missing, want)
	}
}

func TestValidate(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")

	_, err := Load()
	var cfgErr *errx.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Missing[0] != "RETRY_MAX_ATTEMPTS" {
		t.Fatalf("err = %v, want ConfigurationError naming RETRY_MAX_ATTEMPTS", err)
	}
}

func TestAccounting_Framing(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("TOKENS_GEMINI_PER_MESSAGE", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	acc := cfg.Accounting()
	if acc.Framing["gemini"].PerMessage != 5 || acc.Framing["openai"].PerMessage != 3 {
		t.Errorf("framing = %+v", acc.Framing)
	}
}
