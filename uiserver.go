package gtdlog

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// uiMessage is the envelope for every frame of the local UI transport:
// one JSON object per line.
type uiMessage struct {
	Msg   string   `json:"msg"`
	Tag   string   `json:"tag,omitempty"`
	State *State   `json:"state,omitempty"`
	Cmds  []string `json:"cmds,omitempty"`
	Nonce string   `json:"nonce,omitempty"`
	MAC   string   `json:"mac,omitempty"`
}

// UIServer serves the local UI transport over a Unix domain socket:
// newline-framed JSON messages, with an optional HMAC challenge-response
// before a client may request state or push commands.
type UIServer struct {
	store     *LogStore
	envelope  *Envelope
	replicaID string
	localAuth string // empty disables the auth challenge
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	projection *Projection

	clientsMu sync.Mutex
	clients   map[net.Conn]struct{}

	listener net.Listener
}

// NewUIServer listens on a Unix domain socket at socketPath, removing any
// stale socket file left behind by a prior instance.
func NewUIServer(socketPath string, store *LogStore, envelope *Envelope, replicaID, localAuth string, projection *Projection, logger *zap.Logger) (*UIServer, error) {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("gtdlog: listen on ui socket: %w", err)
	}
	return &UIServer{
		store:      store,
		envelope:   envelope,
		replicaID:  replicaID,
		localAuth:  localAuth,
		logger:     logger,
		now:        time.Now,
		projection: projection,
		clients:    make(map[net.Conn]struct{}),
		listener:   ln,
	}, nil
}

// Close stops accepting connections and removes the socket file.
func (s *UIServer) Close() error {
	return s.listener.Close()
}

// Serve accepts connections until ctx is canceled or the listener closes.
func (s *UIServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("gtdlog: accept ui connection: %w", err)
			}
		}
		s.trackClient(conn)
		go s.handleConn(conn)
	}
}

func (s *UIServer) trackClient(conn net.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[conn] = struct{}{}
}

func (s *UIServer) untrackClient(conn net.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, conn)
}

// NotifyChanged sends the advisory new_state message to every connected
// UI client; clients are expected to re-request state.
func (s *UIServer) NotifyChanged() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for conn := range s.clients {
		writeMessage(conn, uiMessage{Msg: "new_state"})
	}
}

func (s *UIServer) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackClient(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	authenticated := s.localAuth == ""
	if !authenticated {
		var err error
		authenticated, err = s.runChallenge(conn, scanner)
		if err != nil || !authenticated {
			return
		}
	}

	for scanner.Scan() {
		var msg uiMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Warn("ui: malformed message", zap.Error(err))
			continue
		}
		if err := s.dispatch(conn, msg); err != nil {
			s.logger.Warn("ui: handling message failed", zap.Error(err))
		}
	}
}

func (s *UIServer) runChallenge(conn net.Conn, scanner *bufio.Scanner) (bool, error) {
	nonce, err := hexToken(16)
	if err != nil {
		return false, err
	}
	if err := writeMessage(conn, uiMessage{Msg: "auth_challenge", Nonce: nonce}); err != nil {
		return false, err
	}

	if !scanner.Scan() {
		return false, scanner.Err()
	}
	var resp uiMessage
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return false, fmt.Errorf("gtdlog: %w: malformed auth response", ErrParse)
	}
	if resp.Msg != "auth_response" {
		return false, fmt.Errorf("%w: expected auth_response", ErrUnauthenticated)
	}

	want := hmacHex(s.localAuth, nonce)
	if !hmac.Equal([]byte(want), []byte(resp.MAC)) {
		return false, fmt.Errorf("%w: bad mac", ErrUnauthenticated)
	}

	return true, writeMessage(conn, uiMessage{Msg: "authenticated"})
}

func hmacHex(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *UIServer) dispatch(conn net.Conn, msg uiMessage) error {
	switch msg.Msg {
	case "request_state":
		s.mu.Lock()
		state := s.projection.Render(msg.Tag, s.now())
		s.mu.Unlock()
		return writeMessage(conn, uiMessage{Msg: "state", State: &state})

	case "push_commands":
		if err := s.pushCommands(msg.Cmds); err != nil {
			return err
		}
		s.NotifyChanged()
		return nil

	default:
		return fmt.Errorf("gtdlog: %w: unknown ui message %q", ErrParse, msg.Msg)
	}
}

func (s *UIServer) pushCommands(encoded []string) error {
	cmds := make([]Command, len(encoded))
	for i, line := range encoded {
		cmd, err := ParseCommand(line)
		if err != nil {
			return err
		}
		cmds[i] = cmd
	}

	writer, err := s.store.Append(s.replicaID)
	if err != nil {
		return err
	}
	defer writer.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, cmd := range cmds {
		offset, err := writer.Offset()
		if err != nil {
			return err
		}
		record, err := s.envelope.Encrypt([]byte(cmd.Encode()), s.replicaID, offset)
		if err != nil {
			return err
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		s.projection.Apply(cmds[i])
	}
	return nil
}

func writeMessage(conn net.Conn, msg uiMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gtdlog: encode ui message: %w", err)
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
