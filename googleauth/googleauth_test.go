package googleauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/dhcgn/inbox-to-sheets/model"
)

func TestTokenFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	f := NewTokenFile(path)

	if _, err := f.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Load() on missing file error = %v, want ErrNoToken", err)
	}

	want := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := f.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}

	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestTokenFile_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenFile(path).Load(); !errors.Is(err, ErrNoToken) {
		t.Errorf("Load() error = %v, want ErrNoToken", err)
	}
}

type sequenceSource struct {
	tokens []*oauth2.Token
	n      int
}

func (s *sequenceSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[min(s.n, len(s.tokens)-1)]
	s.n++
	return tok, nil
}

func TestPersistingSource_SavesRefreshedTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	file := NewTokenFile(path)
	initial := &oauth2.Token{AccessToken: "old", RefreshToken: "rt"}
	if err := file.Save(initial); err != nil {
		t.Fatal(err)
	}

	base := &sequenceSource{tokens: []*oauth2.Token{initial, {AccessToken: "new", RefreshToken: "rt"}}}
	ps := newPersistingSource(base, initial, file, discardLogger())

	if _, err := ps.Token(); err != nil {
		t.Fatal(err)
	}
	if got, _ := file.Load(); got.AccessToken != "old" {
		t.Errorf("unchanged token rewritten as %q", got.AccessToken)
	}

	if _, err := ps.Token(); err != nil {
		t.Fatal(err)
	}
	if got, _ := file.Load(); got.AccessToken != "new" {
		t.Errorf("cached token = %q, want new", got.AccessToken)
	}
}

const credentialsJSON = `{"installed":{"client_id":"cid.apps.googleusercontent.com","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(credentialsJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ClientID != "cid.apps.googleusercontent.com" || len(cfg.Scopes) != 2 {
		t.Errorf("LoadConfig() = %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("LoadConfig(missing) error = %v, want ErrConfiguration", err)
	}
}

func TestLoopbackFlow(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.PostForm.Get("code") != "the-code" || r.PostForm.Get("code_verifier") == "" {
			t.Errorf("token request form = %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at","token_type":"Bearer","refresh_token":"rt","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	cfg := &oauth2.Config{
		ClientID: "cid",
		Endpoint: oauth2.Endpoint{AuthURL: "https://auth.example.com/auth", TokenURL: tokenSrv.URL},
		Scopes:   Scopes,
	}

	redirectErr := make(chan error, 1)
	prompt := func(authURL string) {
		u, err := url.Parse(authURL)
		if err != nil {
			redirectErr <- err
			return
		}
		q := u.Query()
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?state=" + url.QueryEscape(q.Get("state")) + "&code=the-code")
			if err == nil {
				resp.Body.Close()
			}
			redirectErr <- err
		}()
	}

	tok, err := LoopbackFlow(context.Background(), cfg, prompt)
	if err != nil {
		t.Fatalf("LoopbackFlow() error = %v", err)
	}
	if tok.AccessToken != "at" || tok.RefreshToken != "rt" {
		t.Errorf("token = %+v", tok)
	}
	if err := <-redirectErr; err != nil {
		t.Errorf("redirect request error = %v", err)
	}
}

func TestSession_NonInteractiveWithoutToken(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(creds, []byte(credentialsJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := NewSession(Options{CredentialsFile: creds, TokenFile: filepath.Join(dir, "token.json")}, nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if _, err := s.Client(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("Client() error = %v, want ErrNoToken", err)
	}
}

func TestSession_ReusesClient(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(creds, []byte(credentialsJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	tokPath := filepath.Join(dir, "token.json")
	if err := NewTokenFile(tokPath).Save(&oauth2.Token{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	s, err := NewSession(Options{CredentialsFile: creds, TokenFile: tokPath}, nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	a, err := s.Client(context.Background())
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	b, err := s.Client(context.Background())
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	if a != b {
		t.Error("Client() built a second client")
	}
}

func TestNewSession_Validation(t *testing.T) {
	if _, err := NewSession(Options{TokenFile: "token.json"}, nil); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("NewSession() error = %v, want ErrConfiguration", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
