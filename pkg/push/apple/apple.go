package apple

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"
	"git.ronaksoft.com/flexipush/core/pkg/errs"
	"git.ronaksoft.com/flexipush/core/pkg/log"
	"git.ronaksoft.com/flexipush/core/pkg/push"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// defaultApnsHost is the production APNs HTTP/2 endpoint.
const defaultApnsHost = "https://api.push.apple.com"

// idlePingInterval is how long a connection may sit unused before a
// keep-alive probe is issued.
const idlePingInterval = 5 * time.Minute

// ConnState mirrors the client's HTTP/2 connection lifecycle.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Disconnecting
)

// Client is an HTTP/2 mutual-TLS transport to APNs for one app
// certificate. Concurrent requests are multiplexed as HTTP/2 streams
// over a single persistent connection.
type Client struct {
	push.BaseClient

	apnsHost   string
	httpClient *http.Client

	stateMtx sync.Mutex
	state    ConnState

	sink push.InvalidationSink
}

// New builds an AppleClient from a PEM certificate/key pair and an
// optional CA bundle. A TLS-construction failure is returned rather
// than panicking so the caller (Service.SetupIOSClients) can skip this
// one certificate without aborting its siblings.
func New(name, certFile, caFile string, maxQueueSize int, sink push.InvalidationSink) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, certFile)
	if err != nil {
		return nil, errs.NewConfiguration("loading apns certificate [" + certFile + "]: " + err.Error())
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if caFile != "" {
		caBytes, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errs.NewConfiguration("reading apns ca file [" + caFile + "]: " + err.Error())
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errs.NewConfiguration("no certificates found in apns ca file [" + caFile + "]")
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http2.Transport{
		TLSClientConfig: tlsConfig,
	}

	c := &Client{
		BaseClient: push.NewBaseClient(name, maxQueueSize),
		apnsHost:   defaultApnsHost,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		sink:       sink,
	}

	go c.run()
	go c.pingLoop()

	return c, nil
}

func (c *Client) setState(s ConnState) {
	c.stateMtx.Lock()
	c.state = s
	c.stateMtx.Unlock()
}

func (c *Client) State() ConnState {
	c.stateMtx.Lock()
	defer c.stateMtx.Unlock()
	return c.state
}

// MakeRequest builds the APNs JSON body from the push info, reusing
// the Firebase SDK's APNSPayload/Aps structs as plain data carriers
// for the alert shape even though the request bypasses the Firebase
// SDK's own transport.
func (c *Client) MakeRequest(pType push.Type, info *push.Info) (*push.Request, error) {
	dest, ok := info.DestinationFor(pType)
	if !ok {
		return nil, errs.NewInvalidArgument("no destination for push type " + pType.String())
	}

	payload := messaging.APNSPayload{
		Aps: &messaging.Aps{
			Alert: &messaging.ApsAlert{
				Title: info.CallerName,
				Body:  info.CustomVars["body"],
			},
			Sound: "default",
		},
	}
	if info.Badge != nil {
		payload.Aps.Badge = info.Badge
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.NewInvalidArgument("marshal apns payload: " + err.Error())
	}

	req := push.NewRequest(c.Name(), info, body)
	req.DeviceToken = dest.DeviceToken
	return req, nil
}

// SendPush enqueues req; the run loop drains it onto the wire.
func (c *Client) SendPush(req *push.Request) error {
	return c.Enqueue(req)
}

// run drains the queue, dispatching each request as its own HTTP/2
// stream. The connection is lazily established on first use and torn
// down only by GOAWAY or repeated transport failure.
func (c *Client) run() {
	for {
		req := c.Dequeue()
		if req == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		go c.deliver(req)
	}
}

func (c *Client) deliver(req *push.Request) {
	c.BeginInFlight()
	defer c.EndInFlight()

	req.MarkInProgress()
	c.setState(Connecting)

	url := fmt.Sprintf("%s/3/device/%s", c.apnsHost, req.DeviceToken)
	httpReq, err := http.NewRequest(http.MethodPost, url, newBodyReader(req.Body))
	if err != nil {
		c.RecordFailure(req, "request construction: "+err.Error())
		return
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.setState(Disconnected)
		if c.ShouldRetry(req) {
			time.Sleep(push.RetryBackoff(req.Retries()))
			c.deliver(req)
			return
		}
		c.RecordFailure(req, "transport: "+err.Error())
		return
	}
	defer resp.Body.Close()
	c.setState(Connected)

	switch {
	case resp.StatusCode == http.StatusOK:
		c.RecordSuccess(req)
	case resp.StatusCode == http.StatusGone:
		c.RecordFailure(req, "Unregistered")
		if c.sink != nil {
			c.sink.InvalidateToken(req.Info.AppID, req.DeviceToken)
		}
	case resp.StatusCode >= 500 || resp.StatusCode == 429:
		if c.ShouldRetry(req) {
			time.Sleep(push.RetryBackoff(req.Retries()))
			c.deliver(req)
			return
		}
		c.RecordFailure(req, "exhausted retries after status "+strconv.Itoa(resp.StatusCode))
	default:
		reason := apnsReason(resp.Body)
		c.RecordFailure(req, reason)
	}
}

func apnsReason(body io.Reader) string {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return "unknown rejection"
	}
	return payload.Reason
}

// pingLoop probes an idle connection and demotes the state machine to
// Disconnecting if the probe cannot be issued.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(idlePingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if c.State() != Connected {
			continue
		}
		if !c.IsIdle() {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apnsHost, nil)
		if err == nil {
			if _, err := c.httpClient.Do(req); err != nil {
				log.Warn("apns idle ping failed", zap.String("client", c.Name()), zap.Error(err))
				c.setState(Disconnecting)
				c.setState(Disconnected)
			}
		}
		cancel()
	}
}

type bodyReader struct {
	data []byte
	pos  int
}

func newBodyReader(data []byte) io.Reader {
	return &bodyReader{data: data}
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
