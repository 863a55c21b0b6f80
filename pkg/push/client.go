package push

import (
	"sync"
	"sync/atomic"
	"time"

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

// MaxRetries bounds the exponential-backoff retry budget shared by
// every client's transport-error recovery path.
const MaxRetries = 5

// Client is the small capability set every provider-specific
// transport implements. No shared base type is assumed by callers;
// a hierarchy never leaks past this interface.
type Client interface {
	Name() string
	MakeRequest(pType Type, info *Info) (*Request, error)
	SendPush(req *Request) error
	IsIdle() bool
}

// InvalidationSink is the hook a client's terminal-rejection handling
// calls into when a device token is reported unregisterable by the
// provider. It is supplied by the caller that owns the device table;
// this module never stores device state itself.
type InvalidationSink interface {
	InvalidateToken(appID, deviceToken string)
}

// Counters are a client's sent/succeeded/failed/retried observability
// surface. Failed counts every failure; failures are not broken down
// by reason.
type Counters struct {
	Sent      int64
	Succeeded int64
	Failed    int64
	Retried   int64
}

// BaseClient is the shared bounded-queue/retry/counters capability
// embedded by every concrete provider client, in this package and in
// the provider subpackages. It is the Go expression of "small
// capability set, not a hierarchy": concrete clients embed it and
// override only wire construction and response parsing.
type BaseClient struct {
	name         string
	maxQueueSize int

	queueMtx sync.Mutex
	queue    []*Request
	inFlight int

	counters Counters
}

// NewBaseClient returns a BaseClient ready to embed in a concrete
// provider client.
func NewBaseClient(name string, maxQueueSize int) BaseClient {
	return BaseClient{
		name:         name,
		maxQueueSize: maxQueueSize,
	}
}

// Name returns the client's registry key.
func (c *BaseClient) Name() string { return c.name }

// Enqueue appends req to the bounded FIFO queue, failing synchronously
// with QueueFull once maxQueueSize is reached.
func (c *BaseClient) Enqueue(req *Request) error {
	c.queueMtx.Lock()
	defer c.queueMtx.Unlock()

	if len(c.queue) >= c.maxQueueSize {
		return errs.NewQueueFull(c.name)
	}

	c.queue = append(c.queue, req)
	req.MarkQueued()
	atomic.AddInt64(&c.counters.Sent, 1)
	return nil
}

// Dequeue pops the oldest queued request, preserving the HTTP/1
// in-order delivery guarantee. Returns nil when the queue is empty.
func (c *BaseClient) Dequeue() *Request {
	c.queueMtx.Lock()
	defer c.queueMtx.Unlock()

	if len(c.queue) == 0 {
		return nil
	}
	req := c.queue[0]
	c.queue = c.queue[1:]
	return req
}

// QueueLen reports the current queue depth, used by tests asserting
// invariant 1 (len(queue) <= maxQueueSize at all times).
func (c *BaseClient) QueueLen() int {
	c.queueMtx.Lock()
	defer c.queueMtx.Unlock()
	return len(c.queue)
}

// BeginInFlight marks one request as dispatched to the wire.
func (c *BaseClient) BeginInFlight() {
	c.queueMtx.Lock()
	c.inFlight++
	c.queueMtx.Unlock()
}

// EndInFlight marks a dispatched request as resolved, one way or the
// other.
func (c *BaseClient) EndInFlight() {
	c.queueMtx.Lock()
	c.inFlight--
	c.queueMtx.Unlock()
}

// IsIdle reports true iff the queue is empty and nothing is in flight.
func (c *BaseClient) IsIdle() bool {
	c.queueMtx.Lock()
	defer c.queueMtx.Unlock()
	return len(c.queue) == 0 && c.inFlight == 0
}

// RecordSuccess resolves req as Successful and bumps the success
// counter.
func (c *BaseClient) RecordSuccess(req *Request) {
	req.Succeed()
	atomic.AddInt64(&c.counters.Succeeded, 1)
}

// RecordFailure resolves req as Failed with reason, bumps the failure
// counter, and logs at WARN per the error-handling design.
func (c *BaseClient) RecordFailure(req *Request, reason string) {
	req.Fail(reason)
	atomic.AddInt64(&c.counters.Failed, 1)
	log.Warn("push request failed",
		zap.String("client", c.name),
		zap.String("appId", req.AppIdentifier),
		zap.String("reason", reason),
	)
}

// Counters returns a snapshot of the client's observability counters.
func (c *BaseClient) Counters() Counters {
	return Counters{
		Sent:      atomic.LoadInt64(&c.counters.Sent),
		Succeeded: atomic.LoadInt64(&c.counters.Succeeded),
		Failed:    atomic.LoadInt64(&c.counters.Failed),
		Retried:   atomic.LoadInt64(&c.counters.Retried),
	}
}

// RetryBackoff is the shared exponential backoff schedule for
// transport-level failures: connection reset, TLS handshake error,
// timeout, 5xx, 429.
func RetryBackoff(attempt int32) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}

// ShouldRetry decides whether a failed attempt stays inside the
// client's retry budget, bumping the retry counter when it does.
func (c *BaseClient) ShouldRetry(req *Request) bool {
	if req.Retries() >= MaxRetries {
		return false
	}
	req.IncrRetry()
	atomic.AddInt64(&c.counters.Retried, 1)
	return true
}
