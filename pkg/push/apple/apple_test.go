package apple

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"git.ronaksoft.com/flexipush/core/pkg/push"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

type fakeSink struct {
	appID, token string
	calls        int
}

func (s *fakeSink) InvalidateToken(appID, deviceToken string) {
	s.appID, s.token = appID, deviceToken
	s.calls++
}

func TestMakeRequest_BuildsAPNSPayload(t *testing.T) {
	c := &Client{BaseClient: push.NewBaseClient("apns", 10)}

	badge := 3
	info := &push.Info{
		AppID:      "app1",
		CallerName: "Alice",
		Badge:      &badge,
		Destinations: map[push.Type]push.Destination{
			push.Call: {DeviceToken: "deadbeef", Provider: "apns"},
		},
	}

	req, err := c.MakeRequest(push.Call, info)
	if err != nil {
		t.Fatalf("MakeRequest: %v", err)
	}
	if req.DeviceToken != "deadbeef" {
		t.Fatalf("expected device token deadbeef, got %s", req.DeviceToken)
	}
	if len(req.Body) == 0 {
		t.Fatalf("expected non-empty JSON body")
	}
}

func TestMakeRequest_MissingDestination(t *testing.T) {
	c := &Client{BaseClient: push.NewBaseClient("apns", 10)}

	info := &push.Info{
		AppID: "app1",
		Destinations: map[push.Type]push.Destination{
			push.Call: {DeviceToken: "deadbeef", Provider: "apns"},
		},
	}

	if _, err := c.MakeRequest(push.Message, info); err == nil {
		t.Fatalf("expected error for missing destination")
	}
}

func TestApnsReason_MalformedBody(t *testing.T) {
	reason := apnsReason(newBodyReader([]byte("not json")))
	if reason != "unknown rejection" {
		t.Fatalf("expected fallback reason, got %q", reason)
	}
}

func TestApnsReason_ParsesField(t *testing.T) {
	reason := apnsReason(newBodyReader([]byte(`{"reason":"BadDeviceToken"}`)))
	if reason != "BadDeviceToken" {
		t.Fatalf("expected BadDeviceToken, got %q", reason)
	}
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

func TestDeliver_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &Client{
		BaseClient: push.NewBaseClient("apns", 10),
		apnsHost:   srv.URL,
		httpClient: srv.Client(),
	}

	info, err := push.NewInfo("app1", push.Call, map[push.Type]push.Destination{
		push.Call: {DeviceToken: "deadbeef", Provider: "apns"},
	})
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}

	req, err := c.MakeRequest(push.Call, info)
	if err != nil {
		t.Fatalf("MakeRequest: %v", err)
	}
	c.deliver(req)

	if state := awaitState(t, req); state != push.Successful {
		t.Fatalf("expected Successful, got %s", state)
	}
}

func TestDeliver_Unregistered_InvalidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	sink := &fakeSink{}
	c := &Client{
		BaseClient: push.NewBaseClient("apns", 10),
		apnsHost:   srv.URL,
		httpClient: srv.Client(),
		sink:       sink,
	}

	info, err := push.NewInfo("app1", push.Call, map[push.Type]push.Destination{
		push.Call: {DeviceToken: "deadbeef", Provider: "apns"},
	})
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}

	req, err := c.MakeRequest(push.Call, info)
	if err != nil {
		t.Fatalf("MakeRequest: %v", err)
	}
	c.deliver(req)

	if state := awaitState(t, req); state != push.Failed {
		t.Fatalf("expected Failed, got %s", state)
	}
	if sink.calls != 1 || sink.token != "deadbeef" {
		t.Fatalf("expected invalidation callback for deadbeef, got %+v", sink)
	}
}
