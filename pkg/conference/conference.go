package conference

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"git.ronaksoft.com/flexipush/core/pkg/errs"
	"git.ronaksoft.com/flexipush/core/pkg/log"
	"go.uber.org/zap"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// ChatroomPrefix is prepended to the random token that forms a
// candidate conference address's user part.
const ChatroomPrefix = "chatroom-"

// MaxCollisionRetries caps the Fetching/collision loop. Per the
// REDESIGN FLAG on the allocator's unbounded recursion, the loop
// surfaces AddressExhaustion at this cap instead of recursing forever
// (expected iterations are ~1 given the 128-bit address space; the
// cap only protects against a misbehaving or adversarial registrar).
const MaxCollisionRetries = 16

// Contact is one registrar binding entry.
type Contact struct {
	URI      string
	PubGruu  string
	Extended bool
}

// Record is the registrar's view of a SIP URI: its current contacts,
// latest first.
type Record struct {
	Contacts []Contact
}

func (r *Record) isEmpty() bool {
	return r == nil || len(r.Contacts) == 0
}

func (r *Record) latestExtendedContact() (Contact, bool) {
	for _, c := range r.Contacts {
		if c.Extended {
			return c, true
		}
	}
	return Contact{}, false
}

// Registrar is fetched during the Fetching phase to detect an address
// collision. An empty result is represented as (nil, nil).
type Registrar interface {
	Fetch(ctx context.Context, uri string) (*Record, error)
}

// ConferenceBinder instructs the conference server to bind a URI and
// returns the registrar record created by that binding.
type ConferenceBinder interface {
	Bind(ctx context.Context, uri, transport, uuid string) (*Record, error)
}

// ChatRoom is the minimal surface the allocator needs from the
// handshake that owns it: setting (or nulling) the resulting
// conference address.
type ChatRoom interface {
	SetConferenceAddress(gruu string)
}

// Allocator drives one chat room's Fetching/Binding state machine. It
// is created per allocation attempt, owned by the goroutine that
// calls Allocate, and holds no back-reference into its caller beyond
// the Registrar/ConferenceBinder interfaces it was constructed with.
type Allocator struct {
	registrar Registrar
	binder    ConferenceBinder
	chatRoom  ChatRoom
	transport string
	uuid      string

	mtx     sync.Mutex
	retries int
}

// New builds an Allocator for one chat-room binding attempt.
func New(registrar Registrar, binder ConferenceBinder, chatRoom ChatRoom, transport, uuid string) *Allocator {
	return &Allocator{
		registrar: registrar,
		binder:    binder,
		chatRoom:  chatRoom,
		transport: transport,
		uuid:      uuid,
	}
}

// Allocate runs the full Fetching -> Binding protocol for candidateURI
// to completion, blocking the caller's goroutine. On any transport
// error it nulls the chat room's conference address and returns the
// error; on success it has already called SetConferenceAddress with
// the bound GRUU.
func (a *Allocator) Allocate(ctx context.Context, candidateURI string) error {
	uri, err := a.fetch(ctx, candidateURI)
	if err != nil {
		a.chatRoom.SetConferenceAddress("")
		return err
	}

	record, err := a.binder.Bind(ctx, uri, a.transport, a.uuid)
	if err != nil {
		a.chatRoom.SetConferenceAddress("")
		return errs.NewBindFailed(err.Error())
	}

	if record.isEmpty() {
		a.chatRoom.SetConferenceAddress("")
		return errs.NewBindFailed("bind produced no contacts for [" + uri + "]")
	}

	contact, ok := record.latestExtendedContact()
	if !ok || contact.PubGruu == "" {
		a.chatRoom.SetConferenceAddress("")
		return errs.NewNoGruu(uri)
	}

	a.chatRoom.SetConferenceAddress(contact.PubGruu)
	return nil
}

// fetch runs the Fetching phase: query the registrar, re-randomise on
// collision, up to MaxCollisionRetries attempts.
func (a *Allocator) fetch(ctx context.Context, candidateURI string) (string, error) {
	uri := candidateURI

	for {
		record, err := a.registrar.Fetch(ctx, uri)
		if err != nil {
			return "", errs.NewTransport(err.Error())
		}

		if record.isEmpty() {
			return uri, nil
		}

		a.mtx.Lock()
		a.retries++
		retries := a.retries
		a.mtx.Unlock()

		if retries > MaxCollisionRetries {
			return "", errs.NewAddressExhaustion(retries)
		}

		log.Warn("conference address conflict detected, trying another random name",
			zap.String("uri", uri), zap.Int("retry", retries))

		uri, err = randomize(uri)
		if err != nil {
			return "", errs.NewTransport("generating candidate address: " + err.Error())
		}
	}
}

// randomize rewrites uri's user part to ChatroomPrefix plus a fresh
// 128-bit random hex token, leaving the rest of the URI untouched.
func randomize(uri string) (string, error) {
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return "", err
	}
	return rewriteUserPart(uri, ChatroomPrefix+hex.EncodeToString(token)), nil
}
