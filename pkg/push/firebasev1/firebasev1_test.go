package firebasev1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"git.ronaksoft.com/flexipush/core/pkg/push"
	"git.ronaksoft.com/flexipush/core/pkg/tokenmanager"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// fakeSink records invalidation callbacks, mirroring the sibling
// provider packages' test doubles.
type fakeSink struct {
	appID, token string
	calls        int
}

func (s *fakeSink) InvalidateToken(appID, deviceToken string) {
	s.appID, s.token = appID, deviceToken
	s.calls++
}

// fakeTokenSource satisfies TokenSource without touching a real
// TokenManager or its helper subprocess.
type fakeTokenSource struct {
	token tokenmanager.Token
	err   error
	calls int
}

func (f *fakeTokenSource) Token(ctx context.Context) (tokenmanager.Token, error) {
	f.calls++
	return f.token, f.err
}

func testInfo(t *testing.T, token string) *push.Info {
	t.Helper()
	info, err := push.NewInfo("app1", push.Message, map[push.Type]push.Destination{
		push.Message: {DeviceToken: token, Provider: "app1"},
	})
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	return info
}

func awaitState(t *testing.T, req *push.Request) push.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := req.Await(ctx)
	if err != nil {
		t.Fatalf("request did not resolve: %v", err)
	}
	return state
}

func bearerToken(s string) tokenmanager.Token {
	var tok tokenmanager.Token
	tok.AccessToken = s
	return tok
}

func TestDeliver_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokens := &fakeTokenSource{token: bearerToken("T1")}
	c := &V1Client{
		BaseClient:      push.NewBaseClient("app1", 10),
		projectEndpoint: srv.URL,
		tokens:          tokens,
		httpClient:      srv.Client(),
	}

	req, err := c.MakeRequest(push.Message, testInfo(t, "tok"))
	if err != nil {
		t.Fatalf("MakeRequest: %v", err)
	}
	c.deliver(req)

	if state := awaitState(t, req); state != push.Successful {
		t.Fatalf("expected Successful, got %s", state)
	}
	if gotAuth != "Bearer T1" {
		t.Fatalf("expected bearer token header, got %q", gotAuth)
	}
	if tokens.calls != 1 {
		t.Fatalf("expected exactly one token fetch, got %d", tokens.calls)
	}
}

func TestDeliver_TokenUnavailable(t *testing.T) {
	tokens := &fakeTokenSource{err: errNoToken{}}
	c := &V1Client{
		BaseClient:      push.NewBaseClient("app1", 10),
		projectEndpoint: "http://unused.invalid",
		tokens:          tokens,
		httpClient:      http.DefaultClient,
	}

	req, err := c.MakeRequest(push.Message, testInfo(t, "tok"))
	if err != nil {
		t.Fatalf("MakeRequest: %v", err)
	}
	c.deliver(req)

	if state := awaitState(t, req); state != push.Failed {
		t.Fatalf("expected Failed, got %s", state)
	}
	if req.Reason() != "TokenUnavailable" {
		t.Fatalf("expected TokenUnavailable reason, got %q", req.Reason())
	}
}

type errNoToken struct{}

func (errNoToken) Error() string { return "no token available" }

func TestDeliver_Unregistered_InvalidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"status": "UNREGISTERED"},
		})
	}))
	defer srv.Close()

	sink := &fakeSink{}
	tokens := &fakeTokenSource{token: bearerToken("T1")}
	c := &V1Client{
		BaseClient:      push.NewBaseClient("app1", 10),
		projectEndpoint: srv.URL,
		tokens:          tokens,
		httpClient:      srv.Client(),
		sink:            sink,
	}

	req, err := c.MakeRequest(push.Message, testInfo(t, "tok"))
	if err != nil {
		t.Fatalf("MakeRequest: %v", err)
	}
	c.deliver(req)

	if state := awaitState(t, req); state != push.Failed {
		t.Fatalf("expected Failed, got %s", state)
	}
	if sink.calls != 1 || sink.token != "tok" {
		t.Fatalf("expected invalidation callback for tok, got %+v", sink)
	}
}

func TestDeliver_RetriesOn5xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokens := &fakeTokenSource{token: bearerToken("T1")}
	c := &V1Client{
		BaseClient:      push.NewBaseClient("app1", 10),
		projectEndpoint: srv.URL,
		tokens:          tokens,
		httpClient:      srv.Client(),
	}

	req, err := c.MakeRequest(push.Message, testInfo(t, "tok"))
	if err != nil {
		t.Fatalf("MakeRequest: %v", err)
	}
	c.deliver(req)

	if state := awaitState(t, req); state != push.Successful {
		t.Fatalf("expected eventual Successful after retry, got %s", state)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}
