// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/Thermoquad/regolith/pkg/packet"
)

// Connection is an operator link to the vehicle. Every Write is sent as one
// payload; the vehicle answers with status frames.
type Connection interface {
	io.Writer
	io.Closer
	WriteText(text string) error
	ReadStatus() (packet.Status, error)
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// ErrInvalidStatus is returned for a binary frame that is not a status frame
var ErrInvalidStatus = fmt.Errorf("invalid status frame")

// WebSocketConnection wraps a WebSocket connection carrying operator payloads
type WebSocketConnection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool // Track if connection has failed/closed
}

// ReadStatus blocks until the next status frame arrives
func (w *WebSocketConnection) ReadStatus() (packet.Status, error) {
	// Return immediately if connection is known to be closed
	if w.closed {
		return packet.Status{}, ErrConnectionClosed
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// Mark connection as closed to prevent further read attempts
			w.closed = true
			return packet.Status{}, err
		}

		// Status frames are binary CBOR
		if messageType != websocket.BinaryMessage {
			continue
		}
		status, err := packet.DecodeStatus(data)
		if err != nil {
			return status, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
		}
		return status, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteText sends a text payload such as the stop-listening sentinel
func (w *WebSocketConnection) WriteText(text string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (w *WebSocketConnection) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.conn.Close()
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	// Validate scheme
	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	// Create dialer with timeout
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	// Connect
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("REGOLITH_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// passwordOnce caches the password so reconnects do not prompt again
var (
	passwordOnce   sync.Once
	cachedPassword string
	passwordErr    error
)

// OpenConnection opens the operator WebSocket link from flags
func OpenConnection() (Connection, string, error) {
	if wsURL == "" {
		return nil, "", fmt.Errorf("--url must be specified")
	}

	password := ""
	if wsUsername != "" {
		passwordOnce.Do(func() {
			cachedPassword, passwordErr = GetPassword()
		})
		if passwordErr != nil {
			return nil, "", passwordErr
		}
		password = cachedPassword
	}

	conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
	if err != nil {
		return nil, "", err
	}

	return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
}
