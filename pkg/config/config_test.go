package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
models:
  gpt-4:
    backends:
      - endpoint: https://east.openai.azure.com
        api_key: backend-key-1
        deployment: gpt-4-deploy
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.Timeout.Std() != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Retry.Timeout.Std())
	}
	if cfg.Auth.Type != "none" {
		t.Errorf("Auth.Type = %q, want %q", cfg.Auth.Type, "none")
	}
	if cfg.Usage.Type != "memory" {
		t.Errorf("Usage.Type = %q, want %q", cfg.Usage.Type, "memory")
	}
	if !cfg.Observability.Metrics.Enabled || cfg.Observability.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /metrics", cfg.Observability.Metrics)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9000
  read_timeout: 15s
  shutdown_timeout: 5s
models:
  gpt-4:
    backends:
      - endpoint: https://east.openai.azure.com
        api_key: key-east
        deployment: gpt-4-east
        api_version: 2024-06-01
      - endpoint: https://west.openai.azure.com
        api_key: key-west
        deployment: gpt-4-west
  text-embedding-ada-002:
    backends:
      - endpoint: https://east.openai.azure.com
        api_key: key-east
        deployment: ada-002
retry:
  max_attempts: 2
  timeout: 45s
auth:
  type: apikey
  api_keys:
    - name: team-a
      key: sk-team-a
usage:
  type: none
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout.Std() != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout.Std())
	}

	backends := cfg.BackendsForModel("gpt-4")
	if len(backends) != 2 {
		t.Fatalf("len(backends) = %d, want 2", len(backends))
	}
	if backends[0].APIVersion != "2024-06-01" {
		t.Errorf("APIVersion = %q, want %q", backends[0].APIVersion, "2024-06-01")
	}
	if backends[1].Deployment != "gpt-4-west" {
		t.Errorf("Deployment = %q, want %q", backends[1].Deployment, "gpt-4-west")
	}

	if got := cfg.BackendsForModel("unknown"); got != nil {
		t.Errorf("BackendsForModel(unknown) = %v, want nil", got)
	}

	if cfg.Retry.Timeout.Std() != 45*time.Second {
		t.Errorf("Retry.Timeout = %v, want 45s", cfg.Retry.Timeout.Std())
	}
	if cfg.Auth.Type != "apikey" || len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Name != "team-a" {
		t.Errorf("Auth = %+v, want one apikey entry named team-a", cfg.Auth)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want time.Duration
	}{
		{"string seconds", "timeout: 30s", 30 * time.Second},
		{"string minutes", "timeout: 2m", 2 * time.Minute},
		{"integer seconds", "timeout: 45", 45 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, minimalYAML+"\nretry:\n  "+tt.yaml+"\n")
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Retry.Timeout.Std() != tt.want {
				t.Errorf("Timeout = %v, want %v", cfg.Retry.Timeout.Std(), tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VERMITTLER_PORT", "8181")
	t.Setenv("VERMITTLER_AUTH_TYPE", "apikey")
	t.Setenv("VERMITTLER_API_KEYS", `[{"name":"ops","key":"sk-ops"}]`)

	cfg, err := Load(writeTempConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8181 {
		t.Errorf("Port = %d, want 8181", cfg.Server.Port)
	}
	if cfg.Auth.Type != "apikey" {
		t.Errorf("Auth.Type = %q, want apikey", cfg.Auth.Type)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Key != "sk-ops" {
		t.Errorf("APIKeys = %+v, want one key sk-ops", cfg.Auth.APIKeys)
	}
}

func TestConfigDiscoveryViaEnv(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("VERMITTLER_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Models) != 1 {
		t.Errorf("len(Models) = %d, want 1", len(cfg.Models))
	}
}

func TestFileReferenceResolution(t *testing.T) {
	dir := t.TempDir()

	backendKeyFile := filepath.Join(dir, "backend.key")
	if err := os.WriteFile(backendKeyFile, []byte("backend-secret\n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	clientKeyFile := filepath.Join(dir, "client.key")
	if err := os.WriteFile(clientKeyFile, []byte("  sk-client-secret  "), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	path := writeTempConfig(t, `
models:
  gpt-4:
    backends:
      - endpoint: https://east.openai.azure.com
        api_key_file: `+backendKeyFile+`
        deployment: gpt-4-deploy
auth:
  type: apikey
  api_keys:
    - name: client
      key_file: `+clientKeyFile+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Models["gpt-4"].Backends[0].APIKey; got != "backend-secret" {
		t.Errorf("backend APIKey = %q, want %q", got, "backend-secret")
	}
	if got := cfg.Auth.APIKeys[0].Key; got != "sk-client-secret" {
		t.Errorf("client key = %q, want %q (whitespace trimmed)", got, "sk-client-secret")
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no models",
			yaml:    "server:\n  port: 3000\n",
			wantErr: "at least one model",
		},
		{
			name: "backend missing endpoint",
			yaml: `
models:
  gpt-4:
    backends:
      - deployment: d1
`,
			wantErr: "endpoint is required",
		},
		{
			name: "backend missing deployment",
			yaml: `
models:
  gpt-4:
    backends:
      - endpoint: https://east.openai.azure.com
`,
			wantErr: "deployment is required",
		},
		{
			name:    "bad auth type",
			yaml:    minimalYAML + "\nauth:\n  type: oauth\n",
			wantErr: "auth.type",
		},
		{
			name:    "apikey without keys",
			yaml:    minimalYAML + "\nauth:\n  type: apikey\n",
			wantErr: "no auth.api_keys",
		},
		{
			name:    "postgres without dsn",
			yaml:    minimalYAML + "\nusage:\n  type: postgres\n",
			wantErr: "usage.postgres.dsn",
		},
		{
			name:    "bad usage type",
			yaml:    minimalYAML + "\nusage:\n  type: redis\n",
			wantErr: "usage.type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
