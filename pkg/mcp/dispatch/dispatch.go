// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package dispatch implements the transport-agnostic MCP protocol core:
// request ID allocation, response correlation, notification routing,
// progress fan-out, cancellation propagation, per-request timeouts, and
// capability gating hooks. Both the client and server role engines embed a
// Dispatcher; the roles differ only in which initialization messages they
// issue and which capability assertions they install.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"github.com/teradata-labs/shuttle/pkg/mcp/transport"
	"go.uber.org/zap"
)

// DefaultRequestTimeout applies to outbound requests without an explicit
// per-call timeout.
const DefaultRequestTimeout = 60 * time.Second

// RequestHandler processes an inbound request and returns a result to be
// marshaled into the response, or an error. Returning a *protocol.Error
// preserves its code on the wire; any other error maps to InternalError.
// The context is cancelled when the peer sends notifications/cancelled for
// this request or the connection closes.
type RequestHandler func(ctx context.Context, req *protocol.Request) (interface{}, error)

// NotificationHandler processes an inbound notification.
type NotificationHandler func(notif *protocol.Notification)

// ProgressCallback receives progress updates for an outbound request.
type ProgressCallback func(params protocol.ProgressParams)

// CapabilityAssertion checks whether a method or notification may be used.
// Role engines install these to enforce the negotiated capability model.
type CapabilityAssertion func(method string) error

// RequestOptions carries per-request settings.
type RequestOptions struct {
	// OnProgress, when set, registers a progress callback and annotates the
	// request's params with `_meta.progressToken` so the peer can echo it
	// on notifications/progress.
	OnProgress ProgressCallback

	// Timeout overrides the dispatcher's default request timeout. nil uses
	// the default; an explicit zero expires at the next scheduling
	// opportunity.
	Timeout *time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	// EnforceStrictCapabilities makes outbound requests fail locally when
	// AssertRequestCapability rejects them. Outbound notifications are
	// checked by AssertNotificationCapability whether or not this is set.
	EnforceStrictCapabilities bool

	// DefaultTimeout for outbound requests. Zero uses DefaultRequestTimeout.
	DefaultTimeout time.Duration

	Logger *zap.Logger
}

// responseEnvelope resolves one pending outbound request.
type responseEnvelope struct {
	result json.RawMessage
	err    error
}

// Dispatcher is the shared protocol core. Create one with New, install
// handlers, then Connect a transport. All methods are safe for concurrent
// use.
type Dispatcher struct {
	opts   Options
	logger *zap.Logger

	nextRequestID atomic.Int64

	mu            sync.Mutex
	tr            transport.Transport
	closed        bool
	pending       map[int64]chan responseEnvelope
	progress      map[int64]ProgressCallback
	inFlight      map[string]context.CancelFunc
	reqHandlers   map[string]RequestHandler
	notifHandlers map[string]NotificationHandler

	connCtx    context.Context
	connCancel context.CancelFunc
	closeOnce  sync.Once

	// FallbackRequestHandler handles inbound requests with no registered
	// handler. When nil, unhandled requests get a MethodNotFound response.
	FallbackRequestHandler RequestHandler

	// FallbackNotificationHandler handles inbound notifications with no
	// registered handler. When nil, they are dropped.
	FallbackNotificationHandler NotificationHandler

	// OnClose is invoked exactly once when the connection closes.
	OnClose func()

	// OnError is invoked for non-fatal protocol errors: malformed inbound
	// envelopes, orphan responses, unknown progress tokens.
	OnError func(error)

	// AssertRequestCapability gates outbound requests when strict
	// capability enforcement is on.
	AssertRequestCapability CapabilityAssertion

	// AssertNotificationCapability gates outbound notifications.
	AssertNotificationCapability CapabilityAssertion

	// AssertHandlerCapability gates request handler registration.
	AssertHandlerCapability CapabilityAssertion
}

// New creates a Dispatcher with a built-in ping handler.
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultRequestTimeout
	}

	d := &Dispatcher{
		opts:          opts,
		logger:        opts.Logger,
		pending:       make(map[int64]chan responseEnvelope),
		progress:      make(map[int64]ProgressCallback),
		inFlight:      make(map[string]context.CancelFunc),
		reqHandlers:   make(map[string]RequestHandler),
		notifHandlers: make(map[string]NotificationHandler),
	}

	// ping is the liveness primitive; both roles answer it automatically.
	d.reqHandlers[protocol.MethodPing] = func(context.Context, *protocol.Request) (interface{}, error) {
		return protocol.EmptyResult{}, nil
	}

	return d
}

// Connect attaches the dispatcher to a transport, wires the callbacks, and
// starts it.
func (d *Dispatcher) Connect(ctx context.Context, tr transport.Transport) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return protocol.ErrConnectionClosed
	}
	if d.tr != nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already connected")
	}
	d.tr = tr
	d.connCtx, d.connCancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	tr.SetMessageHandler(d.handleMessage)
	tr.SetCloseHandler(d.handleTransportClose)
	tr.SetErrorHandler(d.reportError)

	return tr.Start(ctx)
}

// SetRequestHandler registers a handler for an inbound request method. The
// handler-capability assertion, when installed, runs first so registering a
// handler the local side never advertised fails loudly.
func (d *Dispatcher) SetRequestHandler(method string, handler RequestHandler) error {
	if d.AssertHandlerCapability != nil {
		if err := d.AssertHandlerCapability(method); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqHandlers[method] = handler
	return nil
}

// RemoveRequestHandler removes the handler for a method.
func (d *Dispatcher) RemoveRequestHandler(method string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.reqHandlers, method)
}

// SetNotificationHandler registers a handler for an inbound notification
// method.
func (d *Dispatcher) SetNotificationHandler(method string, handler NotificationHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifHandlers[method] = handler
}

// RemoveNotificationHandler removes the handler for a notification method.
func (d *Dispatcher) RemoveNotificationHandler(method string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifHandlers, method)
}

// Request sends a request and waits for its response, the per-request
// timeout, caller cancellation, or connection close — whichever comes first.
// The returned bytes are the raw JSON result.
func (d *Dispatcher) Request(ctx context.Context, method string, params interface{}, opts *RequestOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	if d.opts.EnforceStrictCapabilities && d.AssertRequestCapability != nil {
		if err := d.AssertRequestCapability(method); err != nil {
			return nil, err
		}
	}

	id := d.nextRequestID.Add(1)

	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	if opts.OnProgress != nil {
		rawParams, err = injectProgressToken(rawParams, id)
		if err != nil {
			return nil, fmt.Errorf("annotate progress token for %s: %w", method, err)
		}
	}

	req := protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      protocol.NewNumericRequestID(id),
		Method:  method,
		Params:  rawParams,
	}
	data, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("marshal request %s: %w", method, err)
	}

	ch := make(chan responseEnvelope, 1)

	// Insert before send so a response can never race past its pending
	// entry.
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, protocol.ErrConnectionClosed
	}
	tr := d.tr
	if tr == nil {
		d.mu.Unlock()
		return nil, protocol.ErrNotConnected
	}
	d.pending[id] = ch
	if opts.OnProgress != nil {
		d.progress[id] = opts.OnProgress
	}
	d.mu.Unlock()

	if err := tr.Send(ctx, data); err != nil {
		d.removePending(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timeout := d.opts.DefaultTimeout
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case envelope := <-ch:
		d.removePending(id)
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.result, nil

	case <-timer.C:
		if envelope, resolved := d.claimOrRead(id, ch); resolved {
			if envelope.err != nil {
				return nil, envelope.err
			}
			return envelope.result, nil
		}
		d.sendCancelled(id, "timeout")
		return nil, fmt.Errorf("%s after %v: %w", method, timeout, protocol.ErrRequestTimeout)

	case <-ctx.Done():
		if envelope, resolved := d.claimOrRead(id, ch); resolved {
			if envelope.err != nil {
				return nil, envelope.err
			}
			return envelope.result, nil
		}
		d.sendCancelled(id, ctx.Err().Error())
		return nil, ctx.Err()
	}
}

// Notify sends a notification. No response is awaited.
func (d *Dispatcher) Notify(ctx context.Context, method string, params interface{}) error {
	if d.AssertNotificationCapability != nil {
		if err := d.AssertNotificationCapability(method); err != nil {
			return err
		}
	}

	rawParams, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params for %s: %w", method, err)
	}

	notif := protocol.Notification{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  method,
		Params:  rawParams,
	}
	data, err := json.Marshal(&notif)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", method, err)
	}

	d.mu.Lock()
	tr := d.tr
	closed := d.closed
	d.mu.Unlock()

	if closed {
		return protocol.ErrConnectionClosed
	}
	if tr == nil {
		return protocol.ErrNotConnected
	}
	return tr.Send(ctx, data)
}

// Ping sends the liveness request and waits for its empty result.
func (d *Dispatcher) Ping(ctx context.Context) error {
	_, err := d.Request(ctx, protocol.MethodPing, protocol.EmptyResult{}, nil)
	return err
}

// Close tears the connection down. Every pending request resolves with
// ErrConnectionClosed; in-flight inbound handlers are cancelled; OnClose
// fires exactly once. Idempotent and non-failing.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	tr := d.tr
	d.mu.Unlock()

	if tr != nil {
		// The transport's close handler runs handleTransportClose.
		_ = tr.Close()
	} else {
		d.handleTransportClose()
	}
	return nil
}

// handleTransportClose settles all connection state after the transport
// reports closure for any reason.
func (d *Dispatcher) handleTransportClose() {
	d.mu.Lock()
	d.closed = true
	pending := d.pending
	d.pending = make(map[int64]chan responseEnvelope)
	d.progress = make(map[int64]ProgressCallback)
	inFlight := d.inFlight
	d.inFlight = make(map[string]context.CancelFunc)
	cancel := d.connCancel
	d.mu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- responseEnvelope{err: protocol.ErrConnectionClosed}:
		default:
		}
	}
	for _, cancelReq := range inFlight {
		cancelReq()
	}
	if cancel != nil {
		cancel()
	}

	d.closeOnce.Do(func() {
		if d.OnClose != nil {
			d.OnClose()
		}
	})
}

// handleMessage decodes one inbound envelope and routes it. Malformed
// envelopes are reported and dropped; they never tear the connection down.
func (d *Dispatcher) handleMessage(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		d.reportError(fmt.Errorf("decode inbound message: %w", err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		d.handleResponse(m)
	case *protocol.Request:
		d.handleRequest(m)
	case *protocol.Notification:
		d.handleNotification(m)
	}
}

// handleResponse resolves the pending request the response correlates with.
func (d *Dispatcher) handleResponse(resp *protocol.Response) {
	if resp.ID == nil || resp.ID.Num == nil {
		d.reportError(fmt.Errorf("response with unrecognized id %s", resp.ID.String()))
		return
	}
	id := *resp.ID.Num

	d.mu.Lock()
	ch, ok := d.pending[id]
	if ok {
		// Claim under the lock so exactly one resolver wins.
		delete(d.pending, id)
		delete(d.progress, id)
	}
	d.mu.Unlock()

	if !ok {
		d.reportError(fmt.Errorf("orphan response for request %d", id))
		return
	}

	if resp.Error != nil {
		ch <- responseEnvelope{err: resp.Error}
		return
	}
	ch <- responseEnvelope{result: resp.Result}
}

// handleRequest runs the matching handler in its own goroutine and replies.
func (d *Dispatcher) handleRequest(req *protocol.Request) {
	d.mu.Lock()
	handler, ok := d.reqHandlers[req.Method]
	if !ok {
		handler = d.FallbackRequestHandler
	}
	connCtx := d.connCtx
	d.mu.Unlock()

	if handler == nil {
		d.sendResponse(req.ID, nil, protocol.NewError(protocol.MethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil))
		return
	}

	if connCtx == nil {
		connCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(connCtx)
	key := req.ID.String()

	d.mu.Lock()
	d.inFlight[key] = cancel
	d.mu.Unlock()

	go func() {
		result, err := handler(ctx, req)

		// A cancelled request has been claimed out of the in-flight map;
		// its late response is suppressed. A handler that wins the race
		// against cancellation responds normally.
		d.mu.Lock()
		_, live := d.inFlight[key]
		if live {
			delete(d.inFlight, key)
		}
		d.mu.Unlock()
		cancel()

		if !live {
			return
		}

		if err != nil {
			var rpcErr *protocol.Error
			if !errors.As(err, &rpcErr) {
				rpcErr = protocol.NewError(protocol.InternalError, err.Error(), nil)
			}
			d.reportError(fmt.Errorf("handler %s: %w", req.Method, err))
			d.sendResponse(req.ID, nil, rpcErr)
			return
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			d.sendResponse(req.ID, nil, protocol.NewError(protocol.InternalError,
				"failed to marshal result", nil))
			return
		}
		d.sendResponse(req.ID, resultJSON, nil)
	}()
}

// handleNotification routes cancellation and progress internally and
// everything else to registered handlers.
func (d *Dispatcher) handleNotification(notif *protocol.Notification) {
	switch notif.Method {
	case protocol.NotificationCancelled:
		d.handleCancelled(notif)
		return
	case protocol.NotificationProgress:
		d.handleProgress(notif)
		return
	}

	d.mu.Lock()
	handler, ok := d.notifHandlers[notif.Method]
	if !ok {
		handler = d.FallbackNotificationHandler
	}
	d.mu.Unlock()

	if handler == nil {
		return
	}
	go handler(notif)
}

// handleCancelled signals the cancel handle of a locally executing inbound
// request. The handle is claimed here, so the handler's eventual response is
// suppressed.
func (d *Dispatcher) handleCancelled(notif *protocol.Notification) {
	var params protocol.CancelledParams
	if err := json.Unmarshal(notif.Params, &params); err != nil {
		d.reportError(fmt.Errorf("decode cancelled params: %w", err))
		return
	}
	if params.RequestID == nil {
		return
	}

	key := params.RequestID.String()
	d.mu.Lock()
	cancel, ok := d.inFlight[key]
	if ok {
		delete(d.inFlight, key)
	}
	d.mu.Unlock()

	if ok {
		d.logger.Debug("request cancelled by peer",
			zap.String("request_id", key),
			zap.String("reason", params.Reason))
		cancel()
	}
}

// handleProgress routes a progress notification to the callback registered
// for its token.
func (d *Dispatcher) handleProgress(notif *protocol.Notification) {
	var params protocol.ProgressParams
	if err := json.Unmarshal(notif.Params, &params); err != nil {
		d.reportError(fmt.Errorf("decode progress params: %w", err))
		return
	}
	if params.ProgressToken == nil || params.ProgressToken.Num == nil {
		d.reportError(fmt.Errorf("progress notification without usable token"))
		return
	}

	d.mu.Lock()
	cb, ok := d.progress[*params.ProgressToken.Num]
	d.mu.Unlock()

	if !ok {
		d.reportError(fmt.Errorf("progress for unknown token %d", *params.ProgressToken.Num))
		return
	}
	cb(params)
}

// sendResponse writes a response envelope; send failures are reported, not
// fatal.
func (d *Dispatcher) sendResponse(id *protocol.RequestID, result json.RawMessage, rpcErr *protocol.Error) {
	resp := protocol.Response{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id,
		Result:  result,
		Error:   rpcErr,
	}
	data, err := json.Marshal(&resp)
	if err != nil {
		d.reportError(fmt.Errorf("marshal response: %w", err))
		return
	}

	d.mu.Lock()
	tr := d.tr
	closed := d.closed
	d.mu.Unlock()

	if tr == nil || closed {
		return
	}
	if err := tr.Send(context.Background(), data); err != nil {
		d.reportError(fmt.Errorf("send response: %w", err))
	}
}

// sendCancelled best-effort emits notifications/cancelled for an abandoned
// outbound request.
func (d *Dispatcher) sendCancelled(id int64, reason string) {
	err := d.Notify(context.Background(), protocol.NotificationCancelled, protocol.CancelledParams{
		RequestID: protocol.NewNumericRequestID(id),
		Reason:    reason,
	})
	if err != nil {
		d.logger.Debug("failed to send cancelled notification",
			zap.Int64("request_id", id), zap.Error(err))
	}
}

// removePending drops a request's pending entry and progress callback.
func (d *Dispatcher) removePending(id int64) {
	d.mu.Lock()
	delete(d.pending, id)
	delete(d.progress, id)
	d.mu.Unlock()
}

// claimOrRead removes the pending entry for id; when another resolver won
// the race, it returns the already-delivered envelope instead.
func (d *Dispatcher) claimOrRead(id int64, ch chan responseEnvelope) (responseEnvelope, bool) {
	d.mu.Lock()
	_, stillPending := d.pending[id]
	delete(d.pending, id)
	delete(d.progress, id)
	d.mu.Unlock()

	if stillPending {
		return responseEnvelope{}, false
	}
	select {
	case envelope := <-ch:
		return envelope, true
	default:
		return responseEnvelope{}, false
	}
}

// reportError forwards a non-fatal error to OnError.
func (d *Dispatcher) reportError(err error) {
	if d.OnError != nil {
		d.OnError(err)
		return
	}
	d.logger.Debug("protocol error", zap.Error(err))
}

// marshalParams converts params to raw JSON, preserving nil.
func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// injectProgressToken sets params._meta.progressToken to the request ID the
// peer should echo on progress notifications.
func injectProgressToken(rawParams json.RawMessage, id int64) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &obj); err != nil {
			return nil, fmt.Errorf("params must be a JSON object to carry a progress token: %w", err)
		}
	}

	meta := make(map[string]json.RawMessage)
	if existing, ok := obj["_meta"]; ok {
		if err := json.Unmarshal(existing, &meta); err != nil {
			return nil, fmt.Errorf("_meta must be a JSON object: %w", err)
		}
	}

	token, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	meta["progressToken"] = token

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	obj["_meta"] = metaJSON

	return json.Marshal(obj)
}
