package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/envelope"
	"github.com/morezero/rpc-dispatch/pkg/procedure"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("server:comms_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("server:comms_test - server failed to start")
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("server:comms_test - failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func commsAdapter(t *testing.T) *CommsAdapter {
	t.Helper()

	r := registry.Must(registry.New().Register(procedure.CategoryQuery, "math/answer",
		func(_ context.Context, call *procedure.Call) (any, error) {
			return map[string]any{"x": 1}, nil
		}))
	disp := dispatcher.New(dispatcher.Options{
		Registry: r,
		VerbMap:  CommsVerbMap(),
	})
	return NewCommsAdapter(disp, "rpc.dispatch.request", 5*time.Second)
}

func TestCommsAdapter_QueryRoundTrip(t *testing.T) {
	nc, cleanup := startTestServer(t, 14320)
	defer cleanup()

	adapter := commsAdapter(t)
	sub, err := adapter.Subscribe(context.Background(), nc)
	if err != nil {
		t.Fatalf("server:comms_test - subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	reqData, _ := json.Marshal(&CommsRequest{ID: "req-1", Verb: "query", Path: "math/answer"})
	msg, err := nc.Request("rpc.dispatch.request", reqData, 5*time.Second)
	if err != nil {
		t.Fatalf("server:comms_test - request failed: %v", err)
	}

	var env envelope.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("server:comms_test - decode failed: %v", err)
	}
	if !env.OK || env.StatusCode != 200 {
		t.Errorf("server:comms_test - envelope = %+v", env)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["x"] != float64(1) {
		t.Errorf("server:comms_test - Data = %v", env.Data)
	}
}

func TestCommsAdapter_HTTPVerbRejected(t *testing.T) {
	nc, cleanup := startTestServer(t, 14321)
	defer cleanup()

	adapter := commsAdapter(t)
	sub, err := adapter.Subscribe(context.Background(), nc)
	if err != nil {
		t.Fatalf("server:comms_test - subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// The COMMS transport carries category names, not HTTP methods.
	reqData, _ := json.Marshal(&CommsRequest{Verb: "GET", Path: "math/answer"})
	msg, err := nc.Request("rpc.dispatch.request", reqData, 5*time.Second)
	if err != nil {
		t.Fatalf("server:comms_test - request failed: %v", err)
	}

	var env envelope.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("server:comms_test - decode failed: %v", err)
	}
	if env.OK || env.StatusCode != 400 {
		t.Errorf("server:comms_test - envelope = %+v", env)
	}
	if env.Error.Message != "Unexpected request method GET" {
		t.Errorf("server:comms_test - Message = %q", env.Error.Message)
	}
}

func TestCommsAdapter_MalformedEnvelope(t *testing.T) {
	nc, cleanup := startTestServer(t, 14322)
	defer cleanup()

	adapter := commsAdapter(t)
	sub, err := adapter.Subscribe(context.Background(), nc)
	if err != nil {
		t.Fatalf("server:comms_test - subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	msg, err := nc.Request("rpc.dispatch.request", []byte(`{"broken`), 5*time.Second)
	if err != nil {
		t.Fatalf("server:comms_test - request failed: %v", err)
	}

	var env envelope.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("server:comms_test - decode failed: %v", err)
	}
	if env.OK || env.StatusCode != 400 {
		t.Errorf("server:comms_test - envelope = %+v", env)
	}
}
