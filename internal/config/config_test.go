package config

import "testing"

func TestLoadDebugDefaults(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"dev", true},
		{"test", true},
		{"prod", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", tt.env)
			t.Setenv("DEBUG", "")
			if got := Load().Debug; got != tt.want {
				t.Errorf("Debug in %s = %v, want %v", tt.env, got, tt.want)
			}
		})
	}
}

func TestLoadDebugOverride(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("DEBUG", "true")
	if !Load().Debug {
		t.Error("DEBUG=true not honored in prod")
	}
}
