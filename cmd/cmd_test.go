package cmd

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-to-sheets/config"
	"github.com/dhcgn/inbox-to-sheets/credential"
	"github.com/dhcgn/inbox-to-sheets/state"
)

func newRoot(t *testing.T, sub ...*cobra.Command) *cobra.Command {
	t.Helper()
	root := &cobra.Command{Use: "inbox-to-sheets", SilenceUsage: true, SilenceErrors: true}
	if err := config.RegisterFlags(root); err != nil {
		t.Fatalf("RegisterFlags() error = %v", err)
	}
	root.AddCommand(sub...)
	return root
}

func execute(t *testing.T, root *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStateShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := state.NewFileStore(path, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	st := store.Load()
	st.MarkProcessed("m1")
	st.MarkProcessed("m2")
	st.TouchLastRun(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out, err := execute(t, newRoot(t, NewStateCmd()), "", "state", "show", "--state-file", path, "--ids")
	if err != nil {
		t.Fatalf("state show error = %v", err)
	}
	for _, want := range []string{"Processed messages:  2", "2024-03-01T12:00:00Z", "m1\n", "m2\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStateShow_NoState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	out, err := execute(t, newRoot(t, NewStateCmd()), "", "state", "show", "--state-file", path)
	if err != nil {
		t.Fatalf("state show error = %v", err)
	}
	if !strings.Contains(out, "Processed messages:  0") || !strings.Contains(out, "never") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestCredentialSetAndDelete(t *testing.T) {
	store := credential.NewWithConfig(keyring.Config{
		ServiceName:      credential.ServiceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          t.TempDir(),
		FilePasswordFunc: keyring.FixedStringPrompt("test"),
	})
	args := []string{"--imap-host", "imap.example.com", "--imap-user", "me"}

	out, err := execute(t, newRoot(t, NewCredentialCmd(store)), "s3cret\n", append([]string{"credential", "set"}, args...)...)
	if err != nil {
		t.Fatalf("credential set error = %v", err)
	}
	if !strings.Contains(out, "Password stored.") {
		t.Errorf("output = %q", out)
	}

	got, err := store.Get(credential.IMAPKey("me", "imap.example.com"))
	if err != nil || got != "s3cret" {
		t.Fatalf("Get() = %q, %v", got, err)
	}

	if _, err := execute(t, newRoot(t, NewCredentialCmd(store)), "", append([]string{"credential", "delete"}, args...)...); err != nil {
		t.Fatalf("credential delete error = %v", err)
	}
	if _, err := store.Get(credential.IMAPKey("me", "imap.example.com")); err == nil {
		t.Error("password still present after delete")
	}
}

func TestCredentialSet_RequiresUserAndHost(t *testing.T) {
	store := credential.NewWithConfig(keyring.Config{
		ServiceName:      credential.ServiceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          t.TempDir(),
		FilePasswordFunc: keyring.FixedStringPrompt("test"),
	})
	if _, err := execute(t, newRoot(t, NewCredentialCmd(store)), "x\n", "credential", "set"); err == nil {
		t.Fatal("expected error without --imap-host/--imap-user")
	}
}

func TestAuth_MissingCredentials(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, newRoot(t, NewAuthCmd()), "", "auth",
		"--credentials-file", filepath.Join(dir, "nope.json"),
		"--token-file", filepath.Join(dir, "token.json"))
	if err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}
