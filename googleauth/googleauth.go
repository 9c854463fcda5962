// Package googleauth provides the OAuth2 session shared by the Gmail source
// and the Sheets sink: installed-app credentials, a cached token file, and a
// loopback browser flow when no token exists yet.
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/dhcgn/inbox-to-sheets/model"
)

var ErrNoToken = errors.New("no cached oauth token")

// Scopes grants reading and relabeling mail plus editing spreadsheets.
var Scopes = []string{gmailapi.GmailModifyScope, sheetsapi.SpreadsheetsScope}

type Options struct {
	CredentialsFile string
	TokenFile       string
	// Interactive allows the browser flow when no token is cached.
	Interactive bool
	// Prompt shows the consent URL to the user. Defaults to writing it to
	// Output.
	Prompt func(authURL string)
	Output io.Writer
}

// Session lazily builds one authorized HTTP client and hands it to every
// caller.
type Session struct {
	opts   Options
	logger *slog.Logger
	tokens *TokenFile

	mu     sync.Mutex
	config *oauth2.Config
	client *http.Client
}

func NewSession(opts Options, logger *slog.Logger) (*Session, error) {
	if strings.TrimSpace(opts.CredentialsFile) == "" {
		return nil, fmt.Errorf("%w: credentials file is empty", model.ErrConfiguration)
	}
	if strings.TrimSpace(opts.TokenFile) == "" {
		return nil, fmt.Errorf("%w: token file is empty", model.ErrConfiguration)
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{opts: opts, logger: logger, tokens: NewTokenFile(opts.TokenFile)}, nil
}

// LoadConfig reads installed-app (or web) client credentials.
func LoadConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials %s: %w", model.ErrConfiguration, path, err)
	}
	cfg, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials %s: %w", model.ErrConfiguration, path, err)
	}
	return cfg, nil
}

func (s *Session) oauthConfig() (*oauth2.Config, error) {
	if s.config != nil {
		return s.config, nil
	}
	cfg, err := LoadConfig(s.opts.CredentialsFile)
	if err != nil {
		return nil, err
	}
	s.config = cfg
	return cfg, nil
}

// Client returns the authorized client, creating it on first use. Refreshed
// tokens are written back to the token file.
func (s *Session) Client(ctx context.Context) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	cfg, err := s.oauthConfig()
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.Load()
	if errors.Is(err, ErrNoToken) && s.opts.Interactive {
		tok, err = s.login(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	src := newPersistingSource(cfg.TokenSource(context.WithoutCancel(ctx), tok), tok, s.tokens, s.logger)
	s.client = oauth2.NewClient(context.WithoutCancel(ctx), src)
	return s.client, nil
}

// Login runs the browser flow unconditionally and caches the new token.
func (s *Session) Login(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.oauthConfig()
	if err != nil {
		return nil, err
	}
	s.client = nil
	return s.login(ctx, cfg)
}

func (s *Session) login(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	prompt := s.opts.Prompt
	if prompt == nil {
		prompt = func(authURL string) {
			fmt.Fprintf(s.opts.Output, "Open this URL in your browser to authorize access:\n\n  %s\n\n", authURL)
		}
	}

	tok, err := LoopbackFlow(ctx, cfg, prompt)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Save(tok); err != nil {
		return nil, err
	}
	s.logger.Info("oauth token saved", "path", s.tokens.Path())
	return tok, nil
}

// persistingSource writes every newly minted token to disk.
type persistingSource struct {
	base   oauth2.TokenSource
	file   *TokenFile
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func newPersistingSource(base oauth2.TokenSource, initial *oauth2.Token, file *TokenFile, logger *slog.Logger) *persistingSource {
	ps := &persistingSource{base: base, file: file, logger: logger}
	if initial != nil {
		ps.last = initial.AccessToken
	}
	return ps
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.file.Save(tok); err != nil {
			p.logger.Warn("caching refreshed token failed", "err", err)
		} else {
			p.logger.Debug("refreshed token cached", "expiry", tok.Expiry)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
