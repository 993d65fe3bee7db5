// Package main is a small websocket client for the nidentity events gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack
//
// and then prints auth.change events until -count is reached or it is interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	v1 "nidentity/shared/contracts/events/v1"
)

const (
	subprotocol  = "nidentity.events.v1"
	maxReadBytes = 4 << 10
)

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8787/events", "WebSocket URL")
		origin  = flag.String("origin", "http://127.0.0.1", "Origin header to send (browser-like WS handshake)")
		count   = flag.Int("count", 0, "exit after this many auth.change events (0 = run until interrupted)")
		timeout = flag.Duration("timeout", 7*time.Second, "handshake timeout")
		verbose = flag.Bool("v", false, "print raw envelopes")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, connID := mustConnect(ctx, *wsURL, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	fmt.Printf("connected: conn_id=%s\n", connID)

	seen := 0
	for *count == 0 || seen < *count {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fatalf("read: %v", err)
		}
		if *verbose {
			b, _ := json.Marshal(env)
			fmt.Println(string(b))
		}

		switch env.Type {
		case v1.TypeAuthChange:
			var p v1.AuthChangePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				fatalf("bad auth.change payload: %v", err)
			}
			seen++
			if p.LoggedIn {
				fmt.Printf("%s auth.change logged_in email=%s confirmed=%t\n", env.TS.Format(time.RFC3339), p.Email, p.Confirmed)
			} else {
				fmt.Printf("%s auth.change logged_out\n", env.TS.Format(time.RFC3339))
			}
		case v1.TypeError:
			var ep v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &ep)
			fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
		}
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) (*websocket.Conn, string) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      ulid.Make().String(),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Client: "events-watch"}),
	}
	b, _ := json.Marshal(hello)
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write hello: %v", err)
	}

	// The replayed auth.change may arrive before the ack.
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			fatalf("waiting for hello.ack: %v", err)
		}
		switch env.Type {
		case v1.TypeHelloAck:
			var p v1.HelloAckPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.ConnID) == "" {
				fatalf("hello.ack missing conn_id")
			}
			return conn, p.ConnID
		case v1.TypeAuthChange:
			continue
		default:
			fatalf("unexpected envelope type before hello.ack: %q", env.Type)
		}
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("bad json: %w", err)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	return env, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
