package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/inbox-to-sheets/model"
)

const (
	EnvPrefix = "INBOX_TO_SHEETS"

	SourceGmail = "gmail"
	SourceIMAP  = "imap"
	SourceMbox  = "mbox"

	SinkSheets = "sheets"
	SinkSQLite = "sqlite"

	maxBatchSize = 500
)

// Config captures every option of a sync run, after flags, environment and
// config file have been merged.
type Config struct {
	Source string
	Sink   string

	SpreadsheetID string
	SheetName     string
	SQLitePath    string

	CredentialsFile string
	TokenFile       string
	GmailQuery      string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPFolder         string

	MboxPath string

	StateFile string
	BatchSize int
	MaxRows   int
	DryRun    bool

	LogLevel string
	LogDir   string
	Progress bool
}

// SecretFunc looks up the stored IMAP password of user on host.
type SecretFunc func(user, host string) (string, error)

// RegisterFlags attaches all CLI flags to cmd as persistent flags so that
// subcommands share them.
func RegisterFlags(cmd *cobra.Command) error {
	stateFile, err := defaultStateFile()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file (yaml, json or toml)")
	flags.String("source", SourceGmail, "Mail source: gmail, imap, mbox")
	flags.String("sink", SinkSheets, "Table sink: sheets, sqlite")
	flags.String("spreadsheet-id", "", "Target Google spreadsheet id")
	flags.String("sheet-name", "Sheet1", "Sheet (or SQLite table set) receiving rows")
	flags.String("sqlite-path", "", "SQLite database file for the sqlite sink")
	flags.String("credentials-file", filepath.Join("credentials", "credentials.json"), "Google OAuth client credentials")
	flags.String("token-file", "token.json", "Cached Google OAuth token")
	flags.String("gmail-query", "in:inbox is:unread", "Gmail search query selecting unread mail")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var, then the OS keyring)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "INBOX", "IMAP folder to read")
	flags.String("mbox", "", "Path to the .mbox file for the mbox source")
	flags.String("state-file", stateFile, "File recording processed message ids")
	flags.Int("batch-size", 5, "Maximum unread messages handled per pass (1-500)")
	flags.Int("max-rows", 10000, "Maximum existing rows read for duplicate detection")
	flags.Bool("dry-run", false, "Fetch and deduplicate, but write nothing")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.Bool("progress", false, "Show a progress bar instead of info logs")

	return nil
}

// Load merges flags, environment (INBOX_TO_SHEETS_<FLAG>) and the optional
// config file without validating the result. Explicit flags win.
func Load(cmd *cobra.Command, secrets SecretFunc) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("%w: bind flags: %w", model.ErrConfiguration, err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config file %s: %w", model.ErrConfiguration, file, err)
		}
	}

	cfg := Config{
		Source:             strings.ToLower(strings.TrimSpace(v.GetString("source"))),
		Sink:               strings.ToLower(strings.TrimSpace(v.GetString("sink"))),
		SpreadsheetID:      strings.TrimSpace(v.GetString("spreadsheet-id")),
		SheetName:          v.GetString("sheet-name"),
		SQLitePath:         expandHome(v.GetString("sqlite-path")),
		CredentialsFile:    expandHome(v.GetString("credentials-file")),
		TokenFile:          expandHome(v.GetString("token-file")),
		GmailQuery:         v.GetString("gmail-query"),
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		IMAPFolder:         v.GetString("imap-folder"),
		MboxPath:           expandHome(v.GetString("mbox")),
		StateFile:          expandHome(v.GetString("state-file")),
		BatchSize:          v.GetInt("batch-size"),
		MaxRows:            v.GetInt("max-rows"),
		DryRun:             v.GetBool("dry-run"),
		LogLevel:           strings.ToLower(v.GetString("log-level")),
		LogDir:             expandHome(v.GetString("log-dir")),
		Progress:           v.GetBool("progress"),
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.StateFile == "" {
		stateFile, err := defaultStateFile()
		if err != nil {
			return Config{}, err
		}
		cfg.StateFile = stateFile
	}
	cfg.StateFile = filepath.Clean(cfg.StateFile)

	if cfg.Source == SourceIMAP && cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.Source == SourceIMAP && cfg.IMAPPass == "" && secrets != nil && cfg.IMAPUser != "" {
		pass, err := secrets(cfg.IMAPUser, cfg.IMAPHost)
		if err == nil {
			cfg.IMAPPass = pass
		}
	}

	return cfg, nil
}

// LoadConfig is Load followed by Validate.
func LoadConfig(cmd *cobra.Command, secrets SecretFunc) (Config, error) {
	cfg, err := Load(cmd, secrets)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, each wrapping model.ErrConfiguration.
func (cfg Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{model.ErrConfiguration}, args...)...))
	}

	switch cfg.Source {
	case SourceGmail:
		if cfg.CredentialsFile == "" {
			fail("--credentials-file is required for the gmail source")
		}
	case SourceIMAP:
		if cfg.IMAPHost == "" {
			fail("--imap-host is required for the imap source")
		}
		if cfg.IMAPUser == "" {
			fail("--imap-user is required for the imap source")
		}
		if cfg.IMAPPass == "" {
			fail("IMAP password must be provided via --imap-pass, IMAP_PASS env var, or the keyring")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			fail("--imap-port must be between 1 and 65535")
		}
	case SourceMbox:
		if cfg.MboxPath == "" {
			fail("--mbox is required for the mbox source")
		}
	default:
		fail("invalid --source: %q", cfg.Source)
	}

	switch cfg.Sink {
	case SinkSheets:
		if cfg.SpreadsheetID == "" {
			fail("--spreadsheet-id is required for the sheets sink")
		}
		if cfg.CredentialsFile == "" {
			fail("--credentials-file is required for the sheets sink")
		}
	case SinkSQLite:
		if cfg.SQLitePath == "" {
			fail("--sqlite-path is required for the sqlite sink")
		}
	default:
		fail("invalid --sink: %q", cfg.Sink)
	}

	if strings.TrimSpace(cfg.SheetName) == "" {
		fail("--sheet-name must not be empty")
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > maxBatchSize {
		fail("--batch-size must be between 1 and %d", maxBatchSize)
	}
	if cfg.MaxRows < 1 {
		fail("--max-rows must be positive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		fail("invalid --log-level: %s", cfg.LogLevel)
	}

	return errors.Join(errs...)
}

// UsesGoogle reports whether either side of the sync talks to Google APIs.
func (cfg Config) UsesGoogle() bool {
	return cfg.Source == SourceGmail || cfg.Sink == SinkSheets
}

func defaultStateFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".inbox-to-sheets", "state.json"), nil
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
