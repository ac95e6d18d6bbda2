// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", "debug", zapcore.DebugLevel, false},
		{"upper case", "WARN", zapcore.WarnLevel, false},
		{"padded", " error ", zapcore.ErrorLevel, false},
		{"unknown", "chatty", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("test", "debug")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Desugar().Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}

	if _, err := NewLogger("test", "nope"); err == nil {
		t.Error("expected error for invalid level")
	}
}
