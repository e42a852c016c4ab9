package tokend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/planfit/go-coach/pkg/realtime"
	"github.com/planfit/go-coach/pkg/token"
)

const mintResponse = `{"id":"sess_1","client_secret":{"value":"ek_mint_1","expires_at":4102444800}}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mintUpstream fakes the realtime sessions endpoint and records the
// last mint request it saw.
type mintUpstream struct {
	srv *httptest.Server

	mu     sync.Mutex
	method string
	path   string
	auth   string
	body   map[string]any
}

func newMintUpstream(t *testing.T, status int, response string) *mintUpstream {
	t.Helper()
	u := &mintUpstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.method = r.Method
		u.path = r.URL.Path
		u.auth = r.Header.Get("Authorization")
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		u.body = body
		u.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *mintUpstream) lastRequest() (method, path, auth string, body map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.method, u.path, u.auth, u.body
}

func newTestServer(t *testing.T, u *mintUpstream, apiKey string) *Server {
	t.Helper()
	return NewServer(Config{
		Addr:     "127.0.0.1:0",
		APIKey:   apiKey,
		Upstream: u.srv.URL,
		HTTP:     u.srv.Client(),
		Logger:   testLogger(),
	})
}

func TestHealthz(t *testing.T) {
	u := newMintUpstream(t, http.StatusOK, mintResponse)
	srv := newTestServer(t, u, "sk-test")

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMintPassThrough(t *testing.T) {
	u := newMintUpstream(t, http.StatusOK, mintResponse)
	srv := newTestServer(t, u, "sk-test")

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/token", nil))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		ID           string `json:"id"`
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ClientSecret.Value != "ek_mint_1" {
		t.Fatalf("client secret = %q, want ek_mint_1", body.ClientSecret.Value)
	}

	method, path, auth, mint := u.lastRequest()
	if method != http.MethodPost {
		t.Fatalf("upstream method = %s, want POST", method)
	}
	if path != "/realtime/sessions" {
		t.Fatalf("upstream path = %s", path)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("upstream auth = %q", auth)
	}
	if mint["model"] != realtime.DefaultModel {
		t.Fatalf("mint model = %v, want default", mint["model"])
	}
	if mint["voice"] != DefaultVoice {
		t.Fatalf("mint voice = %v, want %s", mint["voice"], DefaultVoice)
	}
}

func TestMintModelOverride(t *testing.T) {
	u := newMintUpstream(t, http.StatusOK, mintResponse)
	srv := newTestServer(t, u, "sk-test")

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/token?model=gpt-4o-mini-realtime-preview", nil))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	resp.Body.Close()

	_, _, _, mint := u.lastRequest()
	if mint["model"] != "gpt-4o-mini-realtime-preview" {
		t.Fatalf("mint model = %v, want query override", mint["model"])
	}
}

func TestUpstreamRejectionPassesThrough(t *testing.T) {
	u := newMintUpstream(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
	srv := newTestServer(t, u, "sk-revoked")

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/token", nil))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 passed through", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "bad key") {
		t.Fatalf("body = %s, want upstream error preserved", body)
	}
}

func TestMissingAPIKey(t *testing.T) {
	u := newMintUpstream(t, http.StatusOK, mintResponse)
	srv := newTestServer(t, u, "")

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/token", nil))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	if _, path, _, _ := u.lastRequest(); path != "" {
		t.Fatal("upstream should not be called without an api key")
	}
}

// TestMintServesTokenClient runs the mint end to end against the
// client package that consumes it.
func TestMintServesTokenClient(t *testing.T) {
	u := newMintUpstream(t, http.StatusOK, mintResponse)
	srv := newTestServer(t, u, "sk-test")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.app.Listener(ln)
	t.Cleanup(func() { srv.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cred, err := token.NewClient("http://" + ln.Addr().String() + "/token").Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if cred.Value != "ek_mint_1" {
		t.Fatalf("credential = %q, want ek_mint_1", cred.Value)
	}
	if cred.SessionID != "sess_1" {
		t.Fatalf("session id = %q, want sess_1", cred.SessionID)
	}
	if cred.Expired() {
		t.Fatal("credential should not be expired")
	}
}
