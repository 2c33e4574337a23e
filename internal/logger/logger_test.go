package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		env, level string
		wantErr    bool
		enabled    zapcore.Level
	}{
		{env: "prod", enabled: zapcore.InfoLevel},
		{env: "dev", enabled: zapcore.DebugLevel},
		{env: "", level: "warn", enabled: zapcore.WarnLevel},
		{env: "staging", wantErr: true},
		{env: "prod", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		l, err := NewLogger(tt.env, tt.level)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewLogger(%q, %q): expected error", tt.env, tt.level)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewLogger(%q, %q): %v", tt.env, tt.level, err)
		}
		if !l.Core().Enabled(tt.enabled) {
			t.Errorf("NewLogger(%q, %q): level %v disabled", tt.env, tt.level, tt.enabled)
		}
		if tt.enabled > zapcore.DebugLevel && l.Core().Enabled(tt.enabled-1) {
			t.Errorf("NewLogger(%q, %q): level below %v enabled", tt.env, tt.level, tt.enabled)
		}
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected nop logger")
	}
	l := zap.NewExample()
	if got := FromContext(ContextWithLogger(context.Background(), l)); got != l {
		t.Error("logger not returned from context")
	}
}
