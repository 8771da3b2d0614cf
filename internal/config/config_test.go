package config

import "testing"

func TestResolveEndpointPrecedence(t *testing.T) {
	tests := []struct {
		name string
		cfg  RunnerConfig
		want string
	}{
		{
			name: "explicit endpoint wins over everything",
			cfg: RunnerConfig{
				Endpoint: "https://runner.internal/run-tests",
				BaseURL:  "http://ignored:1234",
				Path:     "/ignored",
			},
			want: "https://runner.internal/run-tests",
		},
		{
			name: "base plus custom path",
			cfg:  RunnerConfig{BaseURL: "http://runner:9090/", Path: "custom/run"},
			want: "http://runner:9090/custom/run",
		},
		{
			name: "base plus default path",
			cfg:  RunnerConfig{BaseURL: "http://runner:9090"},
			want: "http://runner:9090/api/v1/run",
		},
		{
			name: "built-in default",
			cfg:  RunnerConfig{},
			want: "http://localhost:9090/api/v1/run",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolveEndpoint(); got != tt.want {
				t.Errorf("ResolveEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure for port 0")
	}

	cfg.Server.Port = 8080
	cfg.Session.MaxTTL = cfg.Session.DefaultTTL / 2
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure for max TTL below default")
	}
}
