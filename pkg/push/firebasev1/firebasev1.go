package firebasev1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"firebase.google.com/go/v4/messaging"
	"git.ronaksoft.com/flexipush/core/pkg/errs"
	"git.ronaksoft.com/flexipush/core/pkg/push"
	"git.ronaksoft.com/flexipush/core/pkg/tokenmanager"
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

// tokenWait is how long a request will suspend on the TokenManager
// before failing with TokenUnavailable.
const tokenWait = 10 * time.Second

// TokenSource is the subset of tokenmanager.Manager a V1Client needs:
// the currently published bearer token, refreshed out-of-band.
type TokenSource interface {
	Token(ctx context.Context) (tokenmanager.Token, error)
}

// V1Client is an HTTP/2 connection to the FCM v1 endpoint for one
// service account, attaching a bearer token rotated by its
// TokenManager to every outbound request.
type V1Client struct {
	push.BaseClient

	projectEndpoint string
	tokens          TokenSource
	httpClient      *http.Client
	sink            push.InvalidationSink
}

// New builds a V1Client for one appId:serviceAccount pair. projectID
// is derived by the caller (cmd/pushd) from the service account JSON
// and passed in since this package never parses credentials files.
func New(appID, projectID string, tokens TokenSource, maxQueueSize int, sink push.InvalidationSink) (*V1Client, error) {
	if projectID == "" {
		return nil, errs.NewConfiguration("firebase v1 client for app [" + appID + "] has no project id")
	}

	c := &V1Client{
		BaseClient:      push.NewBaseClient(appID, maxQueueSize),
		projectEndpoint: fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", projectID),
		tokens:          tokens,
		httpClient: &http.Client{
			Transport: &http2.Transport{},
			Timeout:   15 * time.Second,
		},
		sink: sink,
	}

	go c.run()
	return c, nil
}

type v1Envelope struct {
	Message *messaging.Message `json:"message"`
}

// MakeRequest builds the v1 JSON envelope for one destination, using
// the Firebase SDK's Message/Notification/AndroidConfig/APNSConfig
// structs as the wire shape even though this client owns its own
// transport and bearer-token attachment instead of the SDK's managed
// messaging.Client.
func (c *V1Client) MakeRequest(pType push.Type, info *push.Info) (*push.Request, error) {
	dest, ok := info.DestinationFor(pType)
	if !ok {
		return nil, errs.NewInvalidArgument("no destination for push type " + pType.String())
	}

	msg := &messaging.Message{
		Token: dest.DeviceToken,
		Notification: &messaging.Notification{
			Title: info.CallerName,
			Body:  info.CustomVars["body"],
		},
		Data: info.CustomVars,
		Android: &messaging.AndroidConfig{
			CollapseKey: info.CollapseKey,
			TTL:         durationPtr(info.TTL),
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
	if info.Badge != nil {
		msg.APNS.Payload.Aps.Badge = info.Badge
	}

	raw, err := json.Marshal(v1Envelope{Message: msg})
	if err != nil {
		return nil, errs.NewInvalidArgument("marshal fcm v1 payload: " + err.Error())
	}

	req := push.NewRequest(c.Name(), info, raw)
	req.DeviceToken = dest.DeviceToken
	return req, nil
}

func durationPtr(seconds int) *time.Duration {
	if seconds <= 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}

// SendPush enqueues req onto the per-service-account delivery loop.
func (c *V1Client) SendPush(req *push.Request) error {
	return c.Enqueue(req)
}

func (c *V1Client) run() {
	for {
		req := c.Dequeue()
		if req == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		go c.deliver(req)
	}
}

func (c *V1Client) deliver(req *push.Request) {
	c.BeginInFlight()
	defer c.EndInFlight()

	req.MarkInProgress()

	ctx, cancel := context.WithTimeout(context.Background(), tokenWait)
	token, err := c.tokens.Token(ctx)
	cancel()
	if err != nil {
		c.RecordFailure(req, "TokenUnavailable")
		return
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.projectEndpoint, bytes.NewReader(req.Body))
	if err != nil {
		c.RecordFailure(req, "request construction: "+err.Error())
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)

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
	case resp.StatusCode == http.StatusOK:
		c.RecordSuccess(req)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		if c.ShouldRetry(req) {
			time.Sleep(push.RetryBackoff(req.Retries()))
			c.deliver(req)
			return
		}
		c.RecordFailure(req, "exhausted retries")
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		reason := v1Reason(resp)
		c.RecordFailure(req, reason)
		if reason == "UNREGISTERED" && c.sink != nil {
			c.sink.InvalidateToken(req.Info.AppID, req.DeviceToken)
		}
	default:
		c.RecordFailure(req, v1Reason(resp))
	}
}

func v1Reason(resp *http.Response) string {
	var body struct {
		Error struct {
			Status string `json:"status"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "unknown rejection"
	}
	return body.Error.Status
}
