package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-to-sheets/model"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	if err := RegisterFlags(cmd); err != nil {
		t.Fatalf("RegisterFlags() error = %v", err)
	}
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd
}

func TestLoadConfig_Defaults(t *testing.T) {
	cmd := newCommand(t, "--spreadsheet-id", "abc")
	cfg, err := LoadConfig(cmd, nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Source != SourceGmail || cfg.Sink != SinkSheets {
		t.Errorf("source/sink = %s/%s", cfg.Source, cfg.Sink)
	}
	if cfg.SheetName != "Sheet1" || cfg.BatchSize != 5 || cfg.MaxRows != 10000 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.GmailQuery != "in:inbox is:unread" {
		t.Errorf("GmailQuery = %q", cfg.GmailQuery)
	}
	if !strings.HasSuffix(cfg.StateFile, filepath.Join(".inbox-to-sheets", "state.json")) {
		t.Errorf("StateFile = %q", cfg.StateFile)
	}
	if !cfg.UsesGoogle() {
		t.Error("UsesGoogle() = false")
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("INBOX_TO_SHEETS_SPREADSHEET_ID", "from-env")
	t.Setenv("INBOX_TO_SHEETS_BATCH_SIZE", "20")
	t.Setenv("INBOX_TO_SHEETS_LOG_LEVEL", "WARNING")

	cfg, err := LoadConfig(newCommand(t, "--batch-size", "7"), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SpreadsheetID != "from-env" {
		t.Errorf("SpreadsheetID = %q, want env value", cfg.SpreadsheetID)
	}
	if cfg.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want explicit flag to win", cfg.BatchSize)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "source: mbox\nmbox: /tmp/inbox.mbox\nsink: sqlite\nsqlite-path: /tmp/rows.db\nsheet-name: Mail\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(newCommand(t, "--config", path), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Source != SourceMbox || cfg.MboxPath != "/tmp/inbox.mbox" || cfg.Sink != SinkSQLite || cfg.SheetName != "Mail" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.UsesGoogle() {
		t.Error("UsesGoogle() = true for mbox to sqlite")
	}
}

func TestLoadConfig_IMAPPasswordFallbacks(t *testing.T) {
	args := []string{"--source", "imap", "--imap-host", "imap.example.com", "--imap-user", "me", "--sink", "sqlite", "--sqlite-path", "x.db"}

	t.Run("env", func(t *testing.T) {
		t.Setenv("IMAP_PASS", "from-env")
		cfg, err := LoadConfig(newCommand(t, args...), nil)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.IMAPPass != "from-env" {
			t.Errorf("IMAPPass = %q", cfg.IMAPPass)
		}
	})

	t.Run("keyring", func(t *testing.T) {
		t.Setenv("IMAP_PASS", "")
		secrets := func(user, host string) (string, error) {
			if user != "me" || host != "imap.example.com" {
				t.Errorf("secrets(%q, %q)", user, host)
			}
			return "from-keyring", nil
		}
		cfg, err := LoadConfig(newCommand(t, args...), secrets)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.IMAPPass != "from-keyring" {
			t.Errorf("IMAPPass = %q", cfg.IMAPPass)
		}
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv("IMAP_PASS", "")
		secrets := func(string, string) (string, error) { return "", errors.New("not found") }
		if _, err := LoadConfig(newCommand(t, args...), secrets); !errors.Is(err, model.ErrConfiguration) {
			t.Errorf("LoadConfig() error = %v, want ErrConfiguration", err)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := Config{
		Source: SourceGmail, Sink: SinkSheets, SpreadsheetID: "abc", SheetName: "Sheet1",
		CredentialsFile: "credentials.json", BatchSize: 5, MaxRows: 10000, LogLevel: "info",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing spreadsheet id", func(c *Config) { c.SpreadsheetID = "" }},
		{"unknown source", func(c *Config) { c.Source = "pop3" }},
		{"unknown sink", func(c *Config) { c.Sink = "csv" }},
		{"sqlite without path", func(c *Config) { c.Sink = SinkSQLite }},
		{"mbox without path", func(c *Config) { c.Source = SourceMbox }},
		{"batch too small", func(c *Config) { c.BatchSize = 0 }},
		{"batch too large", func(c *Config) { c.BatchSize = 501 }},
		{"no max rows", func(c *Config) { c.MaxRows = 0 }},
		{"blank sheet", func(c *Config) { c.SheetName = " " }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"imap without host", func(c *Config) { c.Source = SourceIMAP; c.IMAPUser = "u"; c.IMAPPass = "p"; c.IMAPPort = 993 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, model.ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/x/state.json"); got != filepath.Join(home, "x", "state.json") {
		t.Errorf("expandHome() = %q", got)
	}
	if got := expandHome("rel/path"); got != "rel/path" {
		t.Errorf("expandHome() = %q", got)
	}
}
