package googleauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

var ErrConsentDenied = errors.New("oauth consent was not granted")

const loopbackTimeout = 5 * time.Minute

// LoopbackFlow performs the installed-app authorization code flow with PKCE.
// It listens on a random localhost port, shows the consent URL through
// prompt, and exchanges the code delivered to the redirect.
func LoopbackFlow(ctx context.Context, cfg *oauth2.Config, prompt func(authURL string)) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}

	flowCfg := *cfg
	flowCfg.RedirectURL = "http://" + ln.Addr().String() + "/"

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			var res result
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			case q.Get("error") != "":
				res.err = fmt.Errorf("%w: %s", ErrConsentDenied, q.Get("error"))
			case q.Get("code") == "":
				res.err = fmt.Errorf("%w: redirect carried no code", ErrConsentDenied)
			default:
				res.code = q.Get("code")
			}
			if res.err != nil {
				http.Error(w, res.err.Error(), http.StatusBadRequest)
			} else {
				fmt.Fprintln(w, "Authorization complete. You can close this window.")
			}
			select {
			case results <- res:
			default:
			}
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	prompt(flowCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce, oauth2.S256ChallengeOption(verifier)))

	waitCtx, cancel := context.WithTimeout(ctx, loopbackTimeout)
	defer cancel()

	var res result
	select {
	case <-waitCtx.Done():
		return nil, fmt.Errorf("waiting for oauth redirect: %w", waitCtx.Err())
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := flowCfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange oauth code: %w", err)
	}
	return tok, nil
}
