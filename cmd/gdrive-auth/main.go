// Command gdrive-auth runs the OAuth consent flow once and prints a Drive
// refresh token for GDRIVE_REFRESH_TOKEN.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"github.com/ekrata/echomimic-v2/internal/config"
)

const authTimeout = 3 * time.Minute

func main() {
	ctx := context.Background()

	clientID, err := config.MustEnv("GDRIVE_CLIENT_ID")
	if err != nil {
		log.Fatal(err)
	}
	clientSecret, err := config.MustEnv("GDRIVE_CLIENT_SECRET")
	if err != nil {
		log.Fatal(err)
	}

	// Local callback on a free port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}

	state := randomState()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		Handler:      callbackHandler(state, codeCh, errCh),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		_ = srv.Serve(ln)
	}()

	// Offline access with forced consent so Google returns a refresh token.
	authURL := conf.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	fmt.Println("\nOpen this URL in your browser:")
	fmt.Println(authURL)
	fmt.Println("\nWaiting for authorization on", redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		_ = srv.Close()
		log.Fatal(err)
	case <-time.After(authTimeout):
		_ = srv.Close()
		log.Fatal("timed out waiting for authorization")
	}
	_ = srv.Close()

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		log.Fatalf("exchange authorization code: %v", err)
	}

	if strings.TrimSpace(tok.RefreshToken) == "" {
		fmt.Println("\nNo refresh_token was returned.")
		fmt.Println("Revoke the app's previous access at https://myaccount.google.com/permissions and run this again.")
		return
	}

	fmt.Println("\nREFRESH TOKEN:")
	fmt.Println(tok.RefreshToken)
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- fmt.Errorf("invalid state")
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "auth error: "+e, http.StatusBadRequest)
			errCh <- fmt.Errorf("auth error: %s", e)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- fmt.Errorf("missing code")
			return
		}

		fmt.Fprintln(w, "Done. You can close this window and return to the terminal.")
		codeCh <- code
	})
	return mux
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
