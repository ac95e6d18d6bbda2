// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Thermoquad/regolith/pkg/dispatch"
	"github.com/Thermoquad/regolith/pkg/packet"
)

type recordingHandler struct {
	mu          sync.Mutex
	payloads    []string
	disconnects int
}

func (h *recordingHandler) OnPayload(data []byte) dispatch.Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, string(data))
	if packet.IsStopListening(data) {
		return dispatch.StopListening
	}
	return dispatch.Continue
}

func (h *recordingHandler) OnDisconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
}

func (h *recordingHandler) Status() packet.Status {
	return packet.Status{LeftPercent: 12, Macro: packet.NoMacro, Simulated: true}
}

func (h *recordingHandler) snapshot() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.payloads...), h.disconnects
}

type fixture struct {
	srv     *Server
	handler *recordingHandler
	mock    *clock.Mock
	url     string
	runErr  chan error
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{handler: &recordingHandler{}, mock: clock.NewMock(), runErr: make(chan error, 1)}
	f.srv = NewServer(cfg, f.handler, f.mock, zaptest.NewLogger(t).Sugar())
	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)
	f.url = "ws" + strings.TrimPrefix(ts.URL, "http")

	var ctx context.Context
	ctx, f.cancel = context.WithCancel(context.Background())
	t.Cleanup(f.cancel)
	go func() { f.runErr <- f.srv.Run(ctx) }()
	return f
}

func (f *fixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, header)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPayloadsDeliveredInOrder(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, nil)

	test.That(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x08, 0x7F}), test.ShouldBeNil)
	test.That(t, conn.WriteMessage(websocket.TextMessage, []byte("abc")), test.ShouldBeNil)
	test.That(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x96}), test.ShouldBeNil)

	eventually(t, func() bool {
		payloads, _ := f.handler.snapshot()
		return len(payloads) == 3
	})
	payloads, _ := f.handler.snapshot()
	test.That(t, payloads, test.ShouldResemble, []string{"\x08\x7f", "abc", "\x96"})
	test.That(t, f.srv.Clients(), test.ShouldEqual, 1)
}

func TestDisconnectNotifiesHandler(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, nil)
	eventually(t, func() bool { return f.srv.Clients() == 1 })

	conn.Close()
	eventually(t, func() bool {
		_, disconnects := f.handler.snapshot()
		return disconnects == 1
	})
	test.That(t, f.srv.Clients(), test.ShouldEqual, 0)
}

func TestStopListening(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, nil)

	test.That(t, conn.WriteMessage(websocket.TextMessage, []byte(packet.StopListening)), test.ShouldBeNil)
	select {
	case err := <-f.runErr:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	test.That(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, Config{Username: "operator", Password: "secret"})

	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusUnauthorized)

	bad := http.Header{}
	bad.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("operator:wrong")))
	_, resp, err = websocket.DefaultDialer.Dial(f.url, bad)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusUnauthorized)

	good := http.Header{}
	good.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("operator:secret")))
	f.dial(t, good)
}

func TestStatusBroadcast(t *testing.T) {
	f := newFixture(t, Config{StatusInterval: 200 * time.Millisecond})
	conn := f.dial(t, nil)
	eventually(t, func() bool { return f.srv.Clients() == 1 })

	frames := make(chan []byte, 1)
	go func() {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.BinaryMessage {
				select {
				case frames <- data:
				default:
				}
			}
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		f.mock.Add(200 * time.Millisecond)
		select {
		case data := <-frames:
			status, err := packet.DecodeStatus(data)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, status.LeftPercent, test.ShouldEqual, 12)
			test.That(t, status.Simulated, test.ShouldBeTrue)
			return
		case <-time.After(10 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("no status frame received")
		}
	}
}

func TestContextCancelStopsRun(t *testing.T) {
	f := newFixture(t, Config{StatusInterval: time.Second})
	f.cancel()
	select {
	case err := <-f.runErr:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunJoinsConnectionHandlers(t *testing.T) {
	f := newFixture(t, Config{})
	conns := []*websocket.Conn{f.dial(t, nil), f.dial(t, nil)}
	eventually(t, func() bool { return f.srv.Clients() == len(conns) })

	f.cancel()
	select {
	case err := <-f.runErr:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	// handlers have already deregistered when Run returns
	test.That(t, f.srv.Clients(), test.ShouldEqual, 0)

	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestServeBadAddress(t *testing.T) {
	srv := NewServer(Config{Listen: "256.0.0.1:9002"}, &recordingHandler{}, nil, zaptest.NewLogger(t).Sugar())
	err := srv.Serve(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
}
