package firebase

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"firebase.google.com/go/v4/messaging"
	"git.ronaksoft.com/flexipush/core/pkg/errs"
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

// legacyEndpoint is the fixed FCM legacy send endpoint.
const legacyEndpoint = "https://fcm.googleapis.com/fcm/send"

// terminal legacy per-device error codes; these are not retried.
const (
	errNotRegistered     = "NotRegistered"
	errInvalidRegistration = "InvalidRegistration"
)

// LegacyClient is a single-connection HTTP/1.1 POST client to the FCM
// legacy endpoint, authenticated with a static server API key.
type LegacyClient struct {
	push.BaseClient

	apiKey     string
	endpoint   string
	httpClient *http.Client
	sink       push.InvalidationSink
}

// New builds a LegacyClient for one appId:apiKey pair.
func New(appID, apiKey string, maxQueueSize int, sink push.InvalidationSink) (*LegacyClient, error) {
	if apiKey == "" {
		return nil, errs.NewConfiguration("firebase legacy client for app [" + appID + "] has no api key")
	}

	c := &LegacyClient{
		BaseClient: push.NewBaseClient(appID, maxQueueSize),
		apiKey:     apiKey,
		endpoint:   legacyEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		sink:       sink,
	}

	go c.run()
	return c, nil
}

// legacyBody mirrors the {to, data, notification} request shape of
// the FCM legacy endpoint, built from the SDK's Notification struct so
// payload field names stay consistent with the v1 client.
type legacyBody struct {
	To           string                   `json:"to"`
	Notification *messaging.Notification  `json:"notification,omitempty"`
	Data         map[string]string        `json:"data,omitempty"`
	CollapseKey  string                   `json:"collapse_key,omitempty"`
	TimeToLive   int                      `json:"time_to_live,omitempty"`
}

type legacyResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// MakeRequest builds the legacy JSON body for one destination.
func (c *LegacyClient) MakeRequest(pType push.Type, info *push.Info) (*push.Request, error) {
	dest, ok := info.DestinationFor(pType)
	if !ok {
		return nil, errs.NewInvalidArgument("no destination for push type " + pType.String())
	}

	body := legacyBody{
		To: dest.DeviceToken,
		Notification: &messaging.Notification{
			Title: info.CallerName,
			Body:  info.CustomVars["body"],
		},
		Data:        info.CustomVars,
		CollapseKey: info.CollapseKey,
		TimeToLive:  info.TTL,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errs.NewInvalidArgument("marshal legacy fcm payload: " + err.Error())
	}

	req := push.NewRequest(c.Name(), info, raw)
	req.DeviceToken = dest.DeviceToken
	return req, nil
}

// SendPush enqueues req onto the single-connection delivery loop.
func (c *LegacyClient) SendPush(req *push.Request) error {
	return c.Enqueue(req)
}

func (c *LegacyClient) run() {
	for {
		req := c.Dequeue()
		if req == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		c.deliver(req)
	}
}

func (c *LegacyClient) deliver(req *push.Request) {
	c.BeginInFlight()
	defer c.EndInFlight()

	req.MarkInProgress()

	httpReq, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(req.Body))
	if err != nil {
		c.RecordFailure(req, "request construction: "+err.Error())
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "key="+c.apiKey)

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

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		if c.ShouldRetry(req) {
			time.Sleep(push.RetryBackoff(req.Retries()))
			c.deliver(req)
			return
		}
		c.RecordFailure(req, "exhausted retries")
		return
	}
	if resp.StatusCode >= 400 {
		c.RecordFailure(req, "provider rejection")
		return
	}

	var parsed legacyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.RecordFailure(req, "malformed response body")
		return
	}

	if parsed.Failure == 0 || len(parsed.Results) == 0 {
		c.RecordSuccess(req)
		return
	}

	reason := parsed.Results[0].Error
	if reason == errNotRegistered || reason == errInvalidRegistration {
		if c.sink != nil {
			c.sink.InvalidateToken(req.Info.AppID, req.DeviceToken)
		}
	}
	c.RecordFailure(req, reason)
}
