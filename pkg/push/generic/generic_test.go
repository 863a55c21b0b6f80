package generic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"git.ronaksoft.com/flexipush/core/pkg/push"
	tools "git.ronaksoft.com/flexipush/core/pkg/toolbox"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

func TestExpand_SubstitutesKnownVars(t *testing.T) {
	out := expand("http://host/{{app-id}}/{{token}}", tools.MS{
		"app-id": "app1",
		"token":  "tok",
	})
	if out != "http://host/app1/tok" {
		t.Fatalf("unexpected expansion: %s", out)
	}
}

func TestExpand_LeavesUnknownPlaceholder(t *testing.T) {
	out := expand("http://host/{{missing}}", tools.MS{})
	if out != "http://host/{{missing}}" {
		t.Fatalf("expected placeholder to survive, got %s", out)
	}
}

func TestHTTPClient_DeliversToExpandedURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	noopRegistry := func(name string) (push.Client, bool) { return nil, false }

	c, err := New(srv.URL+"/notify/{{app-id}}", http.MethodGet, "HTTP", noopRegistry, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info, err := push.NewInfo("app1", push.Message, map[push.Type]push.Destination{
		push.Message: {DeviceToken: "tok", Provider: "apns"},
	})
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}

	req, err := c.MakeRequest(push.Message, info)
	if err != nil {
		t.Fatalf("MakeRequest: %v", err)
	}
	if err := c.SendPush(req); err != nil {
		t.Fatalf("SendPush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := req.Await(ctx)
	if err != nil {
		t.Fatalf("request did not resolve: %v", err)
	}
	if state != push.Successful {
		t.Fatalf("expected Successful, got %s", state)
	}
	if gotPath != "/notify/app1" {
		t.Fatalf("expected expanded path /notify/app1, got %s", gotPath)
	}
}
