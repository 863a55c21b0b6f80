package generic

import (
	"bytes"
	"net/http"
	"regexp"
	"time"

	"git.ronaksoft.com/flexipush/core/pkg/errs"
	"git.ronaksoft.com/flexipush/core/pkg/push"
	tools "git.ronaksoft.com/flexipush/core/pkg/toolbox"
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

// Protocol selects the transport the HTTPClient speaks.
type Protocol int

const (
	HTTP Protocol = iota
	HTTP2
)

func ParseProtocol(s string) Protocol {
	if s == "HTTP2" || s == "HTTP/2" {
		return HTTP2
	}
	return HTTP
}

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_-]+)\s*\}\}`)

// expand performs {{key}} substitution against the variables drawn
// from one PushInfo/destination pair.
func expand(tmpl string, vars tools.MS) string {
	if tmpl == "" {
		return tmpl
	}
	return placeholderRegex.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := placeholderRegex.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		if v, ok := vars[sub[1]]; ok {
			return v
		}
		return match
	})
}

// HTTPClient is the operator-configured generic transport. When
// registered under the well-known name "generic" it preempts
// provider-tag resolution for every request: MakeRequest delegates
// per-provider payload construction through the Registry it was
// handed at construction instead of owning that knowledge itself.
type HTTPClient struct {
	push.BaseClient

	urlTemplate  string
	method       string
	protocol     Protocol
	httpClient   *http.Client
	registry     push.Registry
}

// New builds the generic client. method must be GET or POST, validated
// by the caller (push.Service.SetupGenericClient) before this
// constructor runs.
func New(urlTemplate, method, protocolName string, registry push.Registry, maxQueueSize int) (*HTTPClient, error) {
	protocol := ParseProtocol(protocolName)

	transport := http.DefaultTransport
	if protocol == HTTP2 {
		transport = &http2.Transport{AllowHTTP: true}
	}

	c := &HTTPClient{
		BaseClient:  push.NewBaseClient(push.GenericName, maxQueueSize),
		urlTemplate: urlTemplate,
		method:      method,
		protocol:    protocol,
		httpClient:  &http.Client{Transport: transport, Timeout: 15 * time.Second},
		registry:    registry,
	}

	go c.run()
	return c, nil
}

// variables builds the {{key}} substitution set from one PushInfo and
// destination, per the template variables named in the external
// interface: caller, callee, app-id, provider, token, event-id.
func variables(info *push.Info, dest push.Destination) tools.MS {
	vars := tools.MS{
		"caller":   info.CallerName,
		"callee":   dest.DeviceToken,
		"app-id":   info.AppID,
		"provider": dest.Provider,
		"token":    dest.DeviceToken,
		"event-id": info.EventID,
	}
	for k, v := range info.CustomVars {
		vars[k] = v
	}
	return vars
}

// MakeRequest always expands the URL template. The body is the native
// payload built by the sibling client named by the destination's
// provider tag when one is registered, so operator sites may reference
// per-provider bodies. Otherwise, for POST, the body is the expanded
// URL template: the client has no separate body template.
func (c *HTTPClient) MakeRequest(pType push.Type, info *push.Info) (*push.Request, error) {
	dest, ok := info.DestinationFor(pType)
	if !ok {
		return nil, errs.NewInvalidArgument("no destination for push type " + pType.String())
	}

	vars := variables(info, dest)

	var body []byte
	if sibling, ok := c.registry(dest.Provider); ok && sibling.Name() != push.GenericName {
		delegated, err := sibling.MakeRequest(pType, info)
		if err != nil {
			return nil, err
		}
		body = delegated.Body
	} else if c.method == http.MethodPost {
		body = []byte(expand(c.urlTemplate, vars))
	}

	req := push.NewRequest(c.Name(), info, body)
	req.DeviceToken = dest.DeviceToken
	req.URL = expand(c.urlTemplate, vars)
	return req, nil
}

func (c *HTTPClient) SendPush(req *push.Request) error {
	return c.Enqueue(req)
}

func (c *HTTPClient) run() {
	for {
		req := c.Dequeue()
		if req == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		go c.deliver(req)
	}
}

func (c *HTTPClient) deliver(req *push.Request) {
	c.BeginInFlight()
	defer c.EndInFlight()

	req.MarkInProgress()

	url := req.URL

	var bodyReader *bytes.Reader
	if c.method == http.MethodPost {
		bodyReader = bytes.NewReader(req.Body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequest(c.method, url, bodyReader)
	if err != nil {
		c.RecordFailure(req, "request construction: "+err.Error())
		return
	}
	if c.method == http.MethodPost {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if c.ShouldRetry(req) {
			time.Sleep(push.RetryBackoff(req.Retries()))
			c.deliver(req)
			return
		}
		c.RecordFailure(req, "transport: "+err.Error())
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.RecordSuccess(req)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		if c.ShouldRetry(req) {
			time.Sleep(push.RetryBackoff(req.Retries()))
			c.deliver(req)
			return
		}
		c.RecordFailure(req, "exhausted retries")
	default:
		c.RecordFailure(req, "provider rejection")
	}
}
