package gtdlog

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestUIServer(t *testing.T, localAuth string) (*UIServer, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "gtdlog-ui-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := OpenLogStore(filepath.Join(dir, "data"), filepath.Join(dir, "lock"))
	if err != nil {
		t.Fatalf("OpenLogStore: %v", err)
	}
	env := NewEnvelope(DeriveKey("pw"))
	projection := NewProjection()

	socketPath := filepath.Join(dir, "ui.sock")
	ui, err := NewUIServer(socketPath, store, env, "replica1", localAuth, projection, zap.NewNop())
	if err != nil {
		t.Fatalf("NewUIServer: %v", err)
	}
	t.Cleanup(func() { ui.Close() })

	return ui, socketPath
}

func dialUI(t *testing.T, socketPath string) (net.Conn, *bufio.Scanner) {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	return conn, scanner
}

func readMessage(t *testing.T, scanner *bufio.Scanner) uiMessage {
	t.Helper()
	if !scanner.Scan() {
		t.Fatalf("scanner stopped: %v", scanner.Err())
	}
	var msg uiMessage
	if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return msg
}

func TestUIServer_RequestState(t *testing.T) {
	ui, socketPath := newTestUIServer(t, "")
	go ui.Serve(context.Background())

	conn, scanner := dialUI(t, socketPath)
	if err := writeMessage(conn, uiMessage{Msg: "request_state", Tag: "inbox"}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	msg := readMessage(t, scanner)
	if msg.Msg != "state" || msg.State == nil {
		t.Fatalf("expected a state message, got %+v", msg)
	}
}

func TestUIServer_PushCommandsAppliesAndPersists(t *testing.T) {
	ui, socketPath := newTestUIServer(t, "")
	go ui.Serve(context.Background())

	conn, scanner := dialUI(t, socketPath)
	cmd := SetTitle{ItemID: "i1", Title: "buy milk"}
	if err := writeMessage(conn, uiMessage{Msg: "push_commands", Cmds: []string{cmd.Encode()}}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	// The pushing connection itself should get the new_state broadcast.
	msg := readMessage(t, scanner)
	if msg.Msg != "new_state" {
		t.Fatalf("expected new_state broadcast, got %+v", msg)
	}

	if err := writeMessage(conn, uiMessage{Msg: "request_state", Tag: "inbox"}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	msg = readMessage(t, scanner)
	if len(msg.State.Items) != 1 || msg.State.Items[0].Title != "buy milk" {
		t.Fatalf("expected the pushed item to be reflected in state, got %+v", msg.State)
	}
}

func TestUIServer_AuthChallenge(t *testing.T) {
	const secret = "sharedsecret"
	ui, socketPath := newTestUIServer(t, secret)
	go ui.Serve(context.Background())

	conn, scanner := dialUI(t, socketPath)

	challenge := readMessage(t, scanner)
	if challenge.Msg != "auth_challenge" || challenge.Nonce == "" {
		t.Fatalf("expected an auth challenge with a nonce, got %+v", challenge)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(challenge.Nonce))
	resp := hex.EncodeToString(mac.Sum(nil))

	if err := writeMessage(conn, uiMessage{Msg: "auth_response", MAC: resp}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	ack := readMessage(t, scanner)
	if ack.Msg != "authenticated" {
		t.Fatalf("expected authenticated ack, got %+v", ack)
	}

	if err := writeMessage(conn, uiMessage{Msg: "request_state", Tag: "inbox"}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	state := readMessage(t, scanner)
	if state.Msg != "state" {
		t.Fatalf("expected state after authenticating, got %+v", state)
	}
}

func TestUIServer_AuthChallenge_WrongMACIsRejected(t *testing.T) {
	ui, socketPath := newTestUIServer(t, "sharedsecret")
	go ui.Serve(context.Background())

	conn, scanner := dialUI(t, socketPath)
	_ = readMessage(t, scanner) // auth_challenge

	if err := writeMessage(conn, uiMessage{Msg: "auth_response", MAC: "not-the-right-mac"}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if scanner.Scan() {
		t.Fatalf("expected the connection to be closed after a bad MAC, got a message instead")
	}
}
