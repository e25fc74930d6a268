package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/LeventeLantos/careops/internal/config"
)

func TestNewLogger_FormatAndLevel(t *testing.T) {
	cases := []struct {
		name   string
		cfg    config.LogConfig
		want   string
		hidden bool
	}{
		{"json info", config.LogConfig{Level: slog.LevelInfo, Format: "json"}, `"msg":"hello"`, false},
		{"text info", config.LogConfig{Level: slog.LevelInfo, Format: "text"}, `msg=hello`, false},
		{"warn hides info", config.LogConfig{Level: slog.LevelWarn, Format: "json"}, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			newLogger(&buf, tc.cfg).Info("hello")

			if tc.hidden {
				if buf.Len() != 0 {
					t.Fatalf("expected no output, got %q", buf.String())
				}
				return
			}
			if !strings.Contains(buf.String(), tc.want) {
				t.Fatalf("expected output to contain %q, got %q", tc.want, buf.String())
			}
		})
	}
}
