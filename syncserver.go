package gtdlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server serves the sync transport over HTTPS POST endpoints under
// /gtd/<token>/pull and /gtd/<token>/push. A token
// authenticates a user; its validity is the existence of a same-named
// directory under dataRoot.
type Server struct {
	dataRoot     string
	replicaIDLen int
	logger       *zap.Logger
	metrics      *Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	stores   map[string]*LogStore
}

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)

// NewServer builds a sync server rooted at dataRoot, one subdirectory per
// token. replicaIDLen fixes L in the replica id validation pattern
// ^[A-Za-z0-9]{L}$.
func NewServer(dataRoot string, replicaIDLen int, logger *zap.Logger, metrics *Metrics) *Server {
	return &Server{
		dataRoot:     dataRoot,
		replicaIDLen: replicaIDLen,
		logger:       logger,
		metrics:      metrics,
		limiters:     make(map[string]*rate.Limiter),
		stores:       make(map[string]*LogStore),
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gtd/", s.handleGTD)
	return mux
}

func (s *Server) handleGTD(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/gtd/"), "/")
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	token, action := parts[0], parts[1]

	if !tokenPattern.MatchString(token) {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if !s.limiterFor(token).Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	store, err := s.storeForToken(token)
	if err != nil {
		s.logger.Warn("sync: unauthenticated token", zap.String("token", token), zap.Error(err))
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	switch action {
	case "pull":
		s.handlePull(w, r, store)
	case "push":
		s.handlePush(w, r, store)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) limiterFor(token string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[token]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 5)
		s.limiters[token] = l
	}
	return l
}

func (s *Server) storeForToken(token string) (*LogStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if store, ok := s.stores[token]; ok {
		return store, nil
	}

	root := filepath.Join(s.dataRoot, token)
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("%w: no such token", ErrUnauthenticated)
	}
	store, err := OpenLogStore(filepath.Join(root, "data"), filepath.Join(root, "lock"))
	if err != nil {
		return nil, err
	}
	s.stores[token] = store
	return store, nil
}

func (s *Server) validOffsetMap(offs OffsetMap) bool {
	pattern := regexp.MustCompile(fmt.Sprintf(`^[A-Za-z0-9]{%d}$`, s.replicaIDLen))
	for replicaID, offset := range offs {
		if !pattern.MatchString(replicaID) || offset < 0 {
			return false
		}
	}
	return true
}

func (s *Server) validPayload(p Payload) bool {
	pattern := regexp.MustCompile(fmt.Sprintf(`^[A-Za-z0-9]{%d}$`, s.replicaIDLen))
	for replicaID, seg := range p {
		if !pattern.MatchString(replicaID) || seg.Start < 0 || len(seg.Data) == 0 {
			return false
		}
	}
	return true
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request, store *LogStore) {
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed request: %v", err), http.StatusBadRequest)
		return
	}
	if !s.validOffsetMap(req.Offs) {
		http.Error(w, "malformed offsets", http.StatusBadRequest)
		return
	}

	var resp pullResponse
	err := store.WithLock(false, func() error {
		localOffs, err := store.Offsets()
		if err != nil {
			return err
		}
		missing, err := MissingFromRemote(store, localOffs, req.Offs)
		if err != nil {
			return err
		}
		resp = pullResponse{Offs: localOffs, Data: missing}
		return nil
	})
	if err != nil {
		s.logger.Error("sync: pull failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, resp)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, store *LogStore) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed request: %v", err), http.StatusBadRequest)
		return
	}
	if !s.validPayload(req.Data) {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	err := store.WithLock(true, func() error {
		localOffs, err := store.Offsets()
		if err != nil {
			return err
		}
		if !IsGapless(localOffs, req.Data) {
			return fmt.Errorf("%w: push advertises bytes beyond local offset", ErrGap)
		}
		return Graft(store, localOffs, req.Data)
	})
	if err != nil {
		if errors.Is(err, ErrGap) {
			s.logger.Warn("sync: push refused, gap", zap.Error(err))
			http.Error(w, "gap in payload", http.StatusBadRequest)
			return
		}
		s.logger.Error("sync: push failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, struct{}{})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("sync: encode response", zap.Error(err))
	}
}
