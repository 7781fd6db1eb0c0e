// Package natsutil provides typed JSON publish/subscribe/request helpers over
// NATS with OpenTelemetry trace propagation and a retry-count header.
package natsutil

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries how many times a message has been re-published.
const RetryHeader = "X-Retry-Count"

// headerCarrier adapts nats.Msg headers to propagation.TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Envelope is a decoded message.
type Envelope[T any] struct {
	Value T
	// Retries is the value of RetryHeader, zero when absent or malformed.
	Retries int
	msg     *nats.Msg
}

// Respond replies with v as JSON when the sender asked for a reply.
func (e Envelope[T]) Respond(v any) error {
	if e.msg == nil || e.msg.Reply == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.msg.Respond(data)
}

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it to subject, injecting the
// trace context from ctx into the headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Republish publishes v with RetryHeader set to retries.
func Republish[T any](ctx context.Context, nc *nats.Conn, subject string, v T, retries int) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	(*headerCarrier)(msg).Set(RetryHeader, strconv.Itoa(retries))
	return nc.PublishMsg(msg)
}

// Subscribe decodes JSON messages on subject into T and calls handler with a
// context derived from base carrying the sender's trace. A non-empty queue
// makes it a queue subscription. Malformed messages are dropped.
func Subscribe[T any](base context.Context, nc *nats.Conn, subject, queue string, handler func(context.Context, Envelope[T])) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		env := Envelope[T]{Value: v, msg: msg}
		if n, err := strconv.Atoi((*headerCarrier)(msg).Get(RetryHeader)); err == nil && n > 0 {
			env.Retries = n
		}
		ctx := otel.GetTextMapPropagator().Extract(base, (*headerCarrier)(msg))
		handler(ctx, env)
	}
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, cb)
	}
	return nc.Subscribe(subject, cb)
}

// Request sends req as JSON and decodes the reply. The wait is bounded by ctx.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	reply, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, err
	}
	var out Resp
	if err := json.Unmarshal(reply.Data, &out); err != nil {
		return zero, err
	}
	return out, nil
}
