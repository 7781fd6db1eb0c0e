package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type job struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	if c.Get("missing") != "" || c.Keys() != nil {
		t.Fatal("empty carrier should have no values")
	}
	c.Set("traceparent", "00-abc-def-01")
	c.Set("traceparent", "00-abc-def-02")
	if got := c.Get("traceparent"); got != "00-abc-def-02" {
		t.Fatalf("got %q", got)
	}
	if len(c.Keys()) != 1 {
		t.Fatalf("keys = %v", c.Keys())
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)
	got := make(chan Envelope[job], 1)
	sub, err := Subscribe(context.Background(), nc, "test.jobs", "", func(_ context.Context, e Envelope[job]) {
		got <- e
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.jobs", job{Path: "a.txt", Size: 300}); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-got:
		if e.Value.Path != "a.txt" || e.Value.Size != 300 || e.Retries != 0 {
			t.Fatalf("unexpected envelope %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestRepublishCarriesRetryCount(t *testing.T) {
	nc := startTestNATS(t)
	got := make(chan int, 1)
	sub, _ := Subscribe(context.Background(), nc, "test.retry", "workers", func(_ context.Context, e Envelope[job]) {
		got <- e.Retries
	})
	defer sub.Unsubscribe()

	if err := Republish(context.Background(), nc, "test.retry", job{Path: "b.pdf"}, 2); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-got:
		if n != 2 {
			t.Fatalf("retries = %d, want 2", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)
	got := make(chan job, 2)
	sub, _ := Subscribe(context.Background(), nc, "test.bad", "", func(_ context.Context, e Envelope[job]) {
		got <- e.Value
	})
	defer sub.Unsubscribe()

	nc.Publish("test.bad", []byte("{not json"))
	Publish(context.Background(), nc, "test.bad", job{Path: "ok.txt"})

	select {
	case j := <-got:
		if j.Path != "ok.txt" {
			t.Fatalf("malformed message reached handler: %+v", j)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestRequestRespond(t *testing.T) {
	nc := startTestNATS(t)
	type reply struct {
		Chunks int `json:"chunks"`
	}
	sub, _ := Subscribe(context.Background(), nc, "test.req", "", func(_ context.Context, e Envelope[job]) {
		e.Respond(reply{Chunks: e.Value.Size / 100})
	})
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r, err := Request[job, reply](ctx, nc, "test.req", job{Size: 600})
	if err != nil {
		t.Fatal(err)
	}
	if r.Chunks != 6 {
		t.Fatalf("chunks = %d", r.Chunks)
	}
}

func TestRequestNoResponders(t *testing.T) {
	nc := startTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := Request[job, job](ctx, nc, "test.nobody", job{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRespondWithoutReplyIsNoop(t *testing.T) {
	if err := (Envelope[job]{}).Respond("x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
