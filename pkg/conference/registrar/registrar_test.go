package registrar

import (
	"context"
	"errors"
	"sync"
	"testing"

	"git.ronaksoft.com/flexipush/core/pkg/cache"
	"git.ronaksoft.com/flexipush/core/pkg/conference"
	"github.com/gomodule/redigo/redis"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// fakeConn is a minimal in-memory stand-in for redis.Conn, supporting
// just the GET/SET/DEL commands the registrar issues.
type fakeConn struct {
	mtx  sync.Mutex
	data map[string][]byte
}

func newFakeConn(data map[string][]byte) *fakeConn {
	return &fakeConn{data: data}
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Err() error   { return nil }

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	switch cmd {
	case "GET":
		key := args[0].(string)
		v, ok := c.data[key]
		if !ok {
			return nil, redis.ErrNil
		}
		return v, nil
	case "SET":
		key := args[0].(string)
		val := args[1].([]byte)
		c.data[key] = val
		return "OK", nil
	case "DEL":
		key := args[0].(string)
		delete(c.data, key)
		return int64(1), nil
	default:
		return nil, errors.New("unsupported command in fake conn: " + cmd)
	}
}

func (c *fakeConn) Send(cmd string, args ...interface{}) error           { return nil }
func (c *fakeConn) Flush() error                                        { return nil }
func (c *fakeConn) Receive() (interface{}, error)                       { return nil, nil }

func newTestManager() (*Manager, map[string][]byte) {
	data := make(map[string][]byte)
	pool := &redis.Pool{
		Dial: func() (redis.Conn, error) { return newFakeConn(data), nil },
	}
	return New(&cache.Manager{Pool: pool}), data
}

func TestFetch_EmptyReturnsNilRecord(t *testing.T) {
	m, _ := newTestManager()

	rec, err := m.Fetch(context.Background(), "sip:chatroom-abc@host")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for unseen uri, got %+v", rec)
	}
}

func TestPutThenFetch_RoundTrips(t *testing.T) {
	m, _ := newTestManager()

	uri := "sip:chatroom-abc@host"
	rec := &conference.Record{Contacts: []conference.Contact{
		{URI: uri, PubGruu: "sip:gruu@host", Extended: true},
	}}

	if err := m.Put(context.Background(), uri, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := m.Fetch(context.Background(), uri)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got == nil || len(got.Contacts) != 1 || got.Contacts[0].PubGruu != "sip:gruu@host" {
		t.Fatalf("unexpected round-tripped record: %+v", got)
	}
}

func TestDelete_RemovesRecord(t *testing.T) {
	m, _ := newTestManager()
	uri := "sip:chatroom-abc@host"
	_ = m.Put(context.Background(), uri, &conference.Record{Contacts: []conference.Contact{{URI: uri}}})

	if err := m.Delete(context.Background(), uri); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rec, err := m.Fetch(context.Background(), uri)
	if err != nil {
		t.Fatalf("Fetch after delete: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record after delete, got %+v", rec)
	}
}
