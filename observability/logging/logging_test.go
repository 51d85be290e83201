package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWithRotatingFile(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	path := filepath.Join(t.TempDir(), "vaultd.log")
	logger, closer := SetupWithOptions("vaultd", "test", Options{
		Level: slog.LevelWarn,
		File:  FileConfig{Path: path, MaxSizeMB: 1},
	})
	logger.Info("dropped below level")
	logger.Warn("vault: shutdown", "vault", "0xaa")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["service"] != "vaultd" || entry["env"] != "test" {
		t.Fatalf("missing identity: %+v", entry)
	}
	if entry["severity"] != "WARN" || entry["message"] != "vault: shutdown" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("reason", "secret").Value.String(); got != RedactedValue {
		t.Fatalf("expected redaction, got %s", got)
	}
	if got := MaskField("token", "").Value.String(); got != "" {
		t.Fatalf("empty values stay empty, got %s", got)
	}
}

func TestSensitiveKeysRedactedAutomatically(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	path := filepath.Join(t.TempDir(), "vaultd.log")
	logger, closer := SetupWithOptions("vaultd", "", Options{File: FileConfig{Path: path}})
	logger.Info("auth", "hmac_secret", "s3cr3t", "refresh_token", "abc", "actor", "0x01")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["hmac_secret"] != RedactedValue || entry["refresh_token"] != RedactedValue {
		t.Fatalf("secrets leaked: %+v", entry)
	}
	if entry["actor"] != "0x01" {
		t.Fatalf("actor should pass through: %+v", entry)
	}
	if !IsSensitive(" Authorization ") || IsSensitive("vault") {
		t.Fatalf("unexpected sensitivity classification")
	}
}
