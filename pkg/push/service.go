package push

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.ronaksoft.com/flexipush/core/pkg/errs"
	"git.ronaksoft.com/flexipush/core/pkg/log"
	"go.uber.org/zap"
)

/*
   Creation Time: 2021 - Aug - 05
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// GenericName and FallbackName are the well-known registry keys that
// preempt (generic) or complete (fallback) provider-tag resolution.
const (
	GenericName  = "generic"
	FallbackName = "fallback"
)

// Registry is the read-only lookup a Client may hold to reach its
// siblings, passed explicitly at construction instead of a mutable
// back-pointer to the Service.
type Registry func(name string) (Client, bool)

// AppleClientFactory constructs one AppleClient per .pem file found
// under the configured certificate directory.
type AppleClientFactory func(name, certFile, caFile string) (Client, error)

// FirebaseLegacyFactory constructs one legacy FCM client per
// appId:apiKey pair.
type FirebaseLegacyFactory func(appID, apiKey string) (Client, error)

// FirebaseV1Factory constructs one FCM v1 client per
// appId:serviceAccountPath pair.
type FirebaseV1Factory func(appID, serviceAccountPath string) (Client, error)

// GenericClientFactory constructs the single named "generic" client,
// given the lookup it may use to delegate per-provider payload
// construction.
type GenericClientFactory func(url, method, protocol string, lookup Registry) (Client, error)

// Service is the registry of per-provider clients and the entry point
// for constructing and enqueueing Requests.
type Service struct {
	mtx      sync.RWMutex
	clients  map[string]Client
	fallback Client
}

// New returns an empty Service. Setup* methods populate the registry;
// per spec they are called only during single-threaded startup, after
// which the registry is read-only.
func New() *Service {
	return &Service{
		clients: make(map[string]Client),
	}
}

// lookup implements the Registry function type handed to clients that
// need to reach their siblings.
func (s *Service) lookup(name string) (Client, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	c, ok := s.clients[name]
	return c, ok
}

// RegisterClient adds a client to the registry under its own name.
func (s *Service) RegisterClient(c Client) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, exists := s.clients[c.Name()]; exists {
		return errs.NewDuplicateAppID(c.Name())
	}
	s.clients[c.Name()] = c
	return nil
}

// SetFallbackClient registers the fallback slot.
func (s *Service) SetFallbackClient(c Client) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.fallback = c
	s.clients[FallbackName] = c
}

// SetupGenericClient registers the well-known "generic" client, which
// preempts provider-tag resolution for every request when present.
func (s *Service) SetupGenericClient(url, method, protocol string, newClient GenericClientFactory) error {
	if method != "GET" && method != "POST" {
		return errs.NewInvalidArgument("generic client method must be GET or POST, got [" + method + "]")
	}

	c, err := newClient(url, method, protocol, s.lookup)
	if err != nil {
		return err
	}
	return s.RegisterClient(c)
}

// SetupIOSClients scans certDir non-recursively for files ending in
// .pem and constructs one AppleClient per file, keyed by the filename
// minus suffix. A construction failure for one certificate is logged
// and skipped; it does not abort setup of its siblings.
func (s *Service) SetupIOSClients(certDir, caFile string, newClient AppleClientFactory) error {
	entries, err := os.ReadDir(certDir)
	if err != nil {
		return errs.NewConfiguration("cannot read iOS cert directory [" + certDir + "]: " + err.Error())
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".pem")
		certFile := filepath.Join(certDir, entry.Name())

		c, err := newClient(name, certFile, caFile)
		if err != nil {
			log.Warn("skipping iOS client, certificate setup failed",
				zap.String("name", name), zap.Error(err))
			continue
		}

		if err := s.RegisterClient(c); err != nil {
			log.Warn("skipping iOS client, registration failed",
				zap.String("name", name), zap.Error(err))
		}
	}

	return nil
}

// parsePair parses one "appId:value" configuration pair.
func parsePair(pair string) (string, string, bool) {
	idx := strings.IndexByte(pair, ':')
	if idx < 0 {
		return "", "", false
	}
	return pair[:idx], pair[idx+1:], true
}

// SetupFirebaseClients builds one legacy client per
// firebase-projects-api-keys pair and one v1 client per
// firebase-service-accounts pair. The same appId appearing in both
// sets is a configuration error.
func (s *Service) SetupFirebaseClients(
	apiKeyPairs, serviceAccountPairs []string,
	newLegacy FirebaseLegacyFactory,
	newV1 FirebaseV1Factory,
) error {
	legacyAppIDs := make(map[string]string, len(apiKeyPairs))
	v1AppIDs := make(map[string]string, len(serviceAccountPairs))

	for _, pair := range apiKeyPairs {
		appID, apiKey, ok := parsePair(pair)
		if !ok {
			return errs.NewConfiguration("malformed firebase-projects-api-keys entry [" + pair + "]")
		}
		legacyAppIDs[appID] = apiKey
	}

	for _, pair := range serviceAccountPairs {
		appID, path, ok := parsePair(pair)
		if !ok {
			return errs.NewConfiguration("malformed firebase-service-accounts entry [" + pair + "]")
		}
		if _, exists := legacyAppIDs[appID]; exists {
			return errs.NewDuplicateAppID(appID)
		}
		v1AppIDs[appID] = path
	}

	// Validation passed for every pair; only now does construction and
	// registration begin, so a rejected configuration leaves the
	// registry untouched.
	for appID, apiKey := range legacyAppIDs {
		c, err := newLegacy(appID, apiKey)
		if err != nil {
			return err
		}
		if err := s.RegisterClient(c); err != nil {
			return err
		}
	}

	for appID, path := range v1AppIDs {
		c, err := newV1(appID, path)
		if err != nil {
			return err
		}
		if err := s.RegisterClient(c); err != nil {
			return err
		}
	}

	return nil
}

// MakeRequest resolves the client that will own a request for pType,
// in order: the generic client if registered, else the client named
// by the destination's provider tag, else fallback, else
// UnsupportedProvider.
func (s *Service) MakeRequest(pType Type, info *Info) (*Request, error) {
	s.mtx.RLock()
	generic, hasGeneric := s.clients[GenericName]
	s.mtx.RUnlock()

	if hasGeneric {
		return generic.MakeRequest(pType, info)
	}

	dest, ok := info.DestinationFor(pType)
	if !ok {
		return nil, errs.NewUnsupportedProvider("<none>")
	}

	s.mtx.RLock()
	client, ok := s.clients[dest.Provider]
	s.mtx.RUnlock()
	if ok {
		return client.MakeRequest(pType, info)
	}

	s.mtx.RLock()
	fallback := s.fallback
	s.mtx.RUnlock()
	if fallback != nil {
		return fallback.MakeRequest(pType, info)
	}

	return nil, errs.NewUnsupportedProvider(dest.Provider)
}

// SendPush routes req to the client named by req.AppIdentifier, or to
// fallback if none is registered under that name. It enqueues and
// returns without waiting for completion.
func (s *Service) SendPush(req *Request) error {
	s.mtx.RLock()
	client, ok := s.clients[req.AppIdentifier]
	fallback := s.fallback
	s.mtx.RUnlock()

	if !ok {
		if fallback == nil {
			return errs.NewNoClientAvailable(req.AppIdentifier)
		}
		client = fallback
	}

	return client.SendPush(req)
}

// IsIdle reports whether every registered client is idle.
func (s *Service) IsIdle() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	for _, c := range s.clients {
		if !c.IsIdle() {
			return false
		}
	}
	return true
}
