package registrar

import (
	"context"
	"fmt"

	"git.ronaksoft.com/flexipush/core/pkg/cache"
	"git.ronaksoft.com/flexipush/core/pkg/conference"
	"git.ronaksoft.com/flexipush/core/pkg/log"
	"github.com/globalsign/mgo/bson"
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

// record is the bson-serialized wire shape stored for each SIP URI.
// Adapted from the teacher's key-triplet scheme (pkg/session's
// WebsocketManager): a single opaque value keyed by the owning
// entity, here the URI rather than an account ID.
type record struct {
	Contacts []contact `bson:"contacts"`
}

type contact struct {
	URI      string `bson:"uri"`
	PubGruu  string `bson:"pub_gruu"`
	Extended bool   `bson:"extended"`
}

// Manager is a Redis-backed conference.Registrar. It stores one
// key-value entry per chat-room URI (`conf:uri:<uri>`) holding the
// bson-encoded record, mirroring the teacher's pattern of a single
// opaque blob per registry key rather than exploding a record's
// fields across separate Redis keys.
type Manager struct {
	cache *cache.Manager
}

// New builds a registrar.Manager over an existing cache.Manager
// connection pool.
func New(c *cache.Manager) *Manager {
	return &Manager{cache: c}
}

func keyFor(uri string) string {
	return fmt.Sprintf("conf:uri:%s", uri)
}

// Fetch implements conference.Registrar. A URI with no stored record
// returns (nil, nil), matching the "empty means proceed to Binding"
// contract the allocator expects.
func (m *Manager) Fetch(ctx context.Context, uri string) (*conference.Record, error) {
	conn := m.cache.GetConn()
	defer conn.Close()

	raw, err := redis.Bytes(conn.Do("GET", keyFor(uri)))
	if err == redis.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var r record
	if err := bson.Unmarshal(raw, &r); err != nil {
		return nil, err
	}

	out := &conference.Record{Contacts: make([]conference.Contact, 0, len(r.Contacts))}
	for _, c := range r.Contacts {
		out.Contacts = append(out.Contacts, conference.Contact{
			URI:      c.URI,
			PubGruu:  c.PubGruu,
			Extended: c.Extended,
		})
	}
	return out, nil
}

// Put stores rec under uri, replacing any previous record, so that a
// later Fetch of uri returns it.
func (m *Manager) Put(ctx context.Context, uri string, rec *conference.Record) error {
	conn := m.cache.GetConn()
	defer conn.Close()

	r := record{Contacts: make([]contact, 0, len(rec.Contacts))}
	for _, c := range rec.Contacts {
		r.Contacts = append(r.Contacts, contact{URI: c.URI, PubGruu: c.PubGruu, Extended: c.Extended})
	}

	raw, err := bson.Marshal(r)
	if err != nil {
		return err
	}

	if _, err := conn.Do("SET", keyFor(uri), raw); err != nil {
		log.Warn("failed to store conference record")
		return err
	}
	return nil
}

// Delete removes the stored record for uri, used once a chat room is
// torn down.
func (m *Manager) Delete(ctx context.Context, uri string) error {
	conn := m.cache.GetConn()
	defer conn.Close()
	_, err := conn.Do("DEL", keyFor(uri))
	return err
}
