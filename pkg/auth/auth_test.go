package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubAuthenticator returns a fixed result and records whether it was called.
type stubAuthenticator struct {
	result Result
	called bool
}

func (s *stubAuthenticator) Authenticate(_ context.Context, _ *http.Request) Result {
	s.called = true
	return s.result
}

func TestChainVoting(t *testing.T) {
	yes := Result{Decision: Yes, Identity: &Identity{Subject: "alice"}}
	no := Result{Decision: No, Err: ErrUnauthenticated}
	abstain := Result{Decision: Abstain}

	tests := []struct {
		name            string
		results         []Result
		defaultDecision Decision
		wantDecision    Decision
		wantSubject     string
		wantCalls       int
	}{
		{"first yes stops chain", []Result{yes, no}, No, Yes, "alice", 1},
		{"first no stops chain", []Result{no, yes}, No, No, "", 1},
		{"abstain falls through to yes", []Result{abstain, yes}, No, Yes, "alice", 2},
		{"abstain falls through to no", []Result{abstain, no}, No, No, "", 2},
		{"all abstain default no", []Result{abstain, abstain}, No, No, "", 2},
		{"all abstain default yes", []Result{abstain, abstain}, Yes, Yes, "anonymous", 2},
		{"empty chain default yes", nil, Yes, Yes, "anonymous", 0},
		{"empty chain default no", nil, No, No, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stubs []*stubAuthenticator
			chain := &Chain{DefaultDecision: tt.defaultDecision}
			for _, res := range tt.results {
				stub := &stubAuthenticator{result: res}
				stubs = append(stubs, stub)
				chain.Authenticators = append(chain.Authenticators, stub)
			}

			r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
			result := chain.Authenticate(context.Background(), r)

			if result.Decision != tt.wantDecision {
				t.Fatalf("Decision = %d, want %d", result.Decision, tt.wantDecision)
			}
			if tt.wantSubject != "" {
				if result.Identity == nil || result.Identity.Subject != tt.wantSubject {
					t.Errorf("Identity = %+v, want Subject %q", result.Identity, tt.wantSubject)
				}
			}

			calls := 0
			for _, stub := range stubs {
				if stub.called {
					calls++
				}
			}
			if calls != tt.wantCalls {
				t.Errorf("authenticators called = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer sk-test-123"}, "sk-test-123"},
		{"api-key header", map[string]string{"api-key": "sk-azure-456"}, "sk-azure-456"},
		{"x-api-key header", map[string]string{"x-api-key": "sk-generic-789"}, "sk-generic-789"},
		{"bearer wins over api-key", map[string]string{
			"Authorization": "Bearer sk-bearer",
			"api-key":       "sk-azure",
		}, "sk-bearer"},
		{"api-key wins over x-api-key", map[string]string{
			"api-key":   "sk-azure",
			"x-api-key": "sk-generic",
		}, "sk-azure"},
		{"non-bearer authorization falls back", map[string]string{
			"Authorization": "Basic dXNlcjpwYXNz",
			"api-key":       "sk-azure",
		}, "sk-azure"},
		{"empty bearer ignored", map[string]string{"Authorization": "Bearer "}, ""},
		{"no credentials", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			if got := ExtractAPIKey(r); got != tt.want {
				t.Errorf("ExtractAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "***"},
		{"short", "***"},
		{"12345678", "***"},
		{"sk-abcdef1234567890", "sk-abcde***"},
	}

	for _, tt := range tests {
		if got := MaskKey(tt.key); got != tt.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestIdentityContext(t *testing.T) {
	if got := IdentityFromContext(context.Background()); got != nil {
		t.Fatalf("IdentityFromContext on empty context = %+v, want nil", got)
	}

	id := &Identity{Subject: "team-a", Scopes: []string{"read"}}
	ctx := SetIdentity(context.Background(), id)

	got := IdentityFromContext(ctx)
	if got == nil || got.Subject != "team-a" {
		t.Errorf("IdentityFromContext = %+v, want %+v", got, id)
	}
}
