package gtdlog

import "errors"

// Sentinel errors callers dispatch on with errors.Is; wrapped causes are
// attached with fmt.Errorf("...: %w", err).
var (
	// ErrAuth is returned when a record fails AEAD authentication under its
	// committed (replica id, offset) pair. Fatal during normal replay.
	ErrAuth = errors.New("gtdlog: record failed authentication")

	// ErrParse is returned by the command grammar and the natural-date
	// parser when input doesn't match the expected shape.
	ErrParse = errors.New("gtdlog: parse error")

	// ErrGap is returned when a merge payload advertises a byte range the
	// receiver has no witness for. The merge engine refuses to graft.
	ErrGap = errors.New("gtdlog: gap in merge payload")

	// ErrRateLimited is returned by the leaky bucket when no whole token is
	// available.
	ErrRateLimited = errors.New("gtdlog: rate limited")

	// ErrUnauthenticated is returned by the sync server and the local UI
	// socket on failed auth.
	ErrUnauthenticated = errors.New("gtdlog: unauthenticated")

	// ErrLogClosed is returned by operations attempted after a log store has
	// been closed.
	ErrLogClosed = errors.New("gtdlog: log store closed")
)
