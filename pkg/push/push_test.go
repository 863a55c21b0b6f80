package push

import (
	"testing"
)

/*
   Creation Time: 2021 - Aug - 05
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// fakeClient is a minimal Client used to exercise Service resolution
// without any real transport.
type fakeClient struct {
	BaseClient
	makeErr error
}

func newFakeClient(name string, maxQueueSize int) *fakeClient {
	return &fakeClient{BaseClient: NewBaseClient(name, maxQueueSize)}
}

func (c *fakeClient) MakeRequest(pType Type, info *Info) (*Request, error) {
	if c.makeErr != nil {
		return nil, c.makeErr
	}
	return NewRequest(c.name, info, nil), nil
}

func (c *fakeClient) SendPush(req *Request) error {
	if err := c.Enqueue(req); err != nil {
		return err
	}
	c.BeginInFlight()
	c.RecordSuccess(req)
	c.EndInFlight()
	return nil
}

func mustInfo(t *testing.T, provider string) *Info {
	t.Helper()
	info, err := NewInfo("app1", Message, map[Type]Destination{
		Message: {DeviceToken: "tok", Provider: provider},
	})
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	return info
}

func TestMakeRequest_ResolutionOrder(t *testing.T) {
	t.Run("provider tag match", func(t *testing.T) {
		s := New()
		if err := s.RegisterClient(newFakeClient("apns", 10)); err != nil {
			t.Fatalf("register: %v", err)
		}
		req, err := s.MakeRequest(Message, mustInfo(t, "apns"))
		if err != nil {
			t.Fatalf("MakeRequest: %v", err)
		}
		if req.AppIdentifier != "apns" {
			t.Fatalf("expected apns owner, got %s", req.AppIdentifier)
		}
	})

	t.Run("generic preempts provider tag", func(t *testing.T) {
		s := New()
		_ = s.RegisterClient(newFakeClient("apns", 10))
		_ = s.RegisterClient(newFakeClient(GenericName, 10))
		req, err := s.MakeRequest(Message, mustInfo(t, "apns"))
		if err != nil {
			t.Fatalf("MakeRequest: %v", err)
		}
		if req.AppIdentifier != GenericName {
			t.Fatalf("expected generic owner, got %s", req.AppIdentifier)
		}
	})

	t.Run("falls back when no provider match", func(t *testing.T) {
		s := New()
		s.SetFallbackClient(newFakeClient(FallbackName, 10))
		req, err := s.MakeRequest(Message, mustInfo(t, "unknown"))
		if err != nil {
			t.Fatalf("MakeRequest: %v", err)
		}
		if req.AppIdentifier != FallbackName {
			t.Fatalf("expected fallback owner, got %s", req.AppIdentifier)
		}
	})

	t.Run("unsupported provider with nothing registered", func(t *testing.T) {
		s := New()
		_, err := s.MakeRequest(Message, mustInfo(t, "unknown"))
		if err == nil {
			t.Fatalf("expected UnsupportedProvider error")
		}
	})
}

func TestQueueOverflow(t *testing.T) {
	c := newFakeClient("apns", 2)

	for i := 0; i < 2; i++ {
		req := NewRequest("apns", mustInfo(t, "apns"), nil)
		if err := c.Enqueue(req); err != nil {
			t.Fatalf("unexpected error on enqueue %d: %v", i, err)
		}
	}

	overflow := NewRequest("apns", mustInfo(t, "apns"), nil)
	if err := c.Enqueue(overflow); err == nil {
		t.Fatalf("expected QueueFull on third enqueue")
	}
	if got := c.QueueLen(); got != 2 {
		t.Fatalf("queue length after overflow = %d, want 2", got)
	}
}

func TestIsIdle(t *testing.T) {
	s := New()
	c := newFakeClient("apns", 10)
	_ = s.RegisterClient(c)

	if !s.IsIdle() {
		t.Fatalf("expected service idle with empty queue")
	}

	c.BeginInFlight()
	if s.IsIdle() {
		t.Fatalf("expected service busy while a request is in flight")
	}
	c.EndInFlight()

	if !s.IsIdle() {
		t.Fatalf("expected service idle again after in-flight request ends")
	}
}

func TestRequestStateMachine(t *testing.T) {
	req := NewRequest("apns", mustInfo(t, "apns"), nil)

	if req.State() != Created {
		t.Fatalf("new request should start Created, got %s", req.State())
	}

	req.MarkQueued()
	req.MarkInProgress()
	req.Succeed()

	if req.State() != Successful {
		t.Fatalf("expected Successful, got %s", req.State())
	}

	// resolving twice must not flip state backward.
	req.Fail("should be ignored")
	if req.State() != Successful {
		t.Fatalf("terminal state must not change, got %s", req.State())
	}
}

func TestSetupFirebaseClients_DuplicateAppID(t *testing.T) {
	s := New()

	err := s.SetupFirebaseClients(
		[]string{"app1:k"},
		[]string{"app1:/path"},
		func(appID, apiKey string) (Client, error) {
			return newFakeClient(appID, 10), nil
		},
		func(appID, path string) (Client, error) {
			return newFakeClient(appID, 10), nil
		},
	)

	if err == nil {
		t.Fatalf("expected DuplicateAppId error")
	}

	// per scenario 6, a rejected configuration leaves the registry
	// empty: duplicates are detected before any client is constructed
	// or registered.
	if len(s.clients) != 0 {
		t.Fatalf("expected empty registry after duplicate app id, got %d entries", len(s.clients))
	}
}
