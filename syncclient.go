package gtdlog

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Sync scheduling defaults.
const (
	DefaultSyncTimeout  = 5 * time.Second
	DefaultSyncInterval = 15 * time.Minute
	DefaultDebounce     = 2 * time.Second
	DefaultRetryDelay   = 30 * time.Second
)

// Client drives sync rounds against one server, following the state
// machine: snapshot, pull (and graft if gapless), snapshot again, push.
type Client struct {
	store      *LogStore
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *Metrics
}

// NewClient builds a sync client for store, talking to a server at
// host:port under the sync_auth token, trusting the given PEM certificate
// (server.crt).
func NewClient(store *LogStore, host string, port int, token string, serverCertPath string, logger *zap.Logger, metrics *Metrics) (*Client, error) {
	tlsConfig := &tls.Config{}
	if serverCertPath != "" {
		pem, err := os.ReadFile(serverCertPath)
		if err != nil {
			return nil, fmt.Errorf("gtdlog: read server cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("gtdlog: parse server cert: no certificates found")
		}
		tlsConfig.RootCAs = pool
	}

	return &Client{
		store:   store,
		baseURL: fmt.Sprintf("https://%s:%d/gtd/%s", host, port, token),
		httpClient: &http.Client{
			Timeout:   DefaultSyncTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		logger:  logger,
		metrics: metrics,
	}, nil
}

// SyncOutcome classifies the result of one round.
type SyncOutcome int

const (
	// SyncSuccess means the round completed; the next sync is scheduled
	// after the periodic interval.
	SyncSuccess SyncOutcome = iota
	// SyncTransientFailure means the round was abandoned (timeout,
	// connection error, or a refused gap); retry after the retry delay.
	SyncTransientFailure
)

// Round runs one sync round: snapshot, pull (graft if gapless), snapshot,
// push. It never mutates the local store if anything after the snapshot
// fails; cancellation via ctx is only honored between phases, never
// mid-graft.
func (c *Client) Round(ctx context.Context) SyncOutcome {
	localOffs, err := c.snapshotOffsets()
	if err != nil {
		c.logger.Warn("sync: snapshot failed", zap.Error(err))
		return c.fail()
	}

	remoteOffs, payload, err := c.pull(ctx, localOffs)
	if err != nil {
		c.logger.Warn("sync: pull failed", zap.Error(err))
		return c.fail()
	}

	if len(payload) > 0 {
		if err := ctx.Err(); err != nil {
			return c.fail()
		}
		if !IsGapless(localOffs, payload) {
			c.logger.Warn("sync: remote payload has a gap, aborting round")
			return c.fail()
		}
		if err := c.store.WithLock(true, func() error {
			return Graft(c.store, localOffs, payload)
		}); err != nil {
			c.logger.Error("sync: graft failed", zap.Error(err))
			return c.fail()
		}
	}

	if err := ctx.Err(); err != nil {
		return c.fail()
	}

	localOffs, err = c.snapshotOffsets()
	if err != nil {
		c.logger.Warn("sync: re-snapshot failed", zap.Error(err))
		return c.fail()
	}

	missing, err := WithLockValue(c.store, false, func() (Payload, error) {
		return MissingFromRemote(c.store, localOffs, remoteOffs)
	})
	if err != nil {
		c.logger.Warn("sync: compute push payload failed", zap.Error(err))
		return c.fail()
	}

	if len(missing) > 0 {
		if err := c.push(ctx, missing); err != nil {
			c.logger.Warn("sync: push failed", zap.Error(err))
			return c.fail()
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveSyncRound("success")
	}
	return SyncSuccess
}

func (c *Client) fail() SyncOutcome {
	if c.metrics != nil {
		c.metrics.ObserveSyncRound("transient_failure")
	}
	return SyncTransientFailure
}

func (c *Client) snapshotOffsets() (OffsetMap, error) {
	return WithLockValue(c.store, false, func() (OffsetMap, error) {
		return c.store.Offsets()
	})
}

func (c *Client) pull(ctx context.Context, localOffs OffsetMap) (OffsetMap, Payload, error) {
	body, err := json.Marshal(pullRequest{Offs: localOffs})
	if err != nil {
		return nil, nil, fmt.Errorf("gtdlog: encode pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pull", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("gtdlog: build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("gtdlog: pull request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil, ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("gtdlog: pull: server returned %d", resp.StatusCode)
	}

	var out pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("gtdlog: decode pull response: %w", err)
	}
	return out.Offs, out.Data, nil
}

func (c *Client) push(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(pushRequest{Data: payload})
	if err != nil {
		return fmt.Errorf("gtdlog: encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gtdlog: build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gtdlog: push request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusBadRequest:
		return fmt.Errorf("%w: server refused push", ErrGap)
	default:
		return fmt.Errorf("gtdlog: push: server returned %d", resp.StatusCode)
	}
}

// Scheduler drives periodic sync rounds, debouncing on file-change events
// and backing off on repeated failure. It is guarded by a
// LeakyBucket so repeated re-entry (e.g. a storm of file-change events)
// never exceeds the bucket's long-run rate.
type Scheduler struct {
	client  *Client
	bucket  *LeakyBucket
	logger  *zap.Logger
	changed chan struct{}
	stop    chan struct{}

	interval time.Duration
	debounce time.Duration
	retry    time.Duration
}

// NewScheduler builds a scheduler around client with the default timing
// constants; Notify should be called on every local file-change event.
func NewScheduler(client *Client, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		client:   client,
		bucket:   NewLeakyBucket(time.Minute, 4),
		logger:   logger,
		changed:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		interval: DefaultSyncInterval,
		debounce: DefaultDebounce,
		retry:    DefaultRetryDelay,
	}
}

// Notify schedules a debounced sync round soon, e.g. in response to a
// local file-change event.
func (s *Scheduler) Notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Stop ends the scheduler's Run loop.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// Run drives the scheduling loop until Stop is called. It is meant to run
// in its own goroutine, single-threaded.
func (s *Scheduler) Run(ctx context.Context) {
	next := time.NewTimer(s.interval)
	defer next.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-s.changed:
			next.Reset(s.debounce)
		case <-next.C:
			delay := s.runRound(ctx)
			next.Reset(delay)
		}
	}
}

func (s *Scheduler) runRound(ctx context.Context) time.Duration {
	if err := s.bucket.Consume(); err != nil {
		if s.client.metrics != nil {
			s.client.metrics.ObserveRateLimited()
		}
		s.logger.Debug("sync: skipped round, rate limited")
		return s.retry
	}

	roundCtx, cancel := context.WithTimeout(ctx, DefaultSyncTimeout)
	defer cancel()

	switch s.client.Round(roundCtx) {
	case SyncSuccess:
		return s.interval
	default:
		return s.retry
	}
}
