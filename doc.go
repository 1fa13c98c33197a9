// Package gtdlog implements a replicated, end-to-end-encrypted command log
// and the merge protocol that reconciles it across replicas.
//
// Each replica owns one append-only file, named by its replica id, under a
// shared data directory; the file's byte length is its offset, and no
// separate index is kept. Every record is an AES-GCM envelope whose
// associated data binds it to the (replica id, offset) pair it was written
// at, so a record copied to a different file or position fails to
// authenticate (see Envelope).
//
// A decrypted record is a single-character command (see Command and
// ParseCommand) folded onto a Projection: an ordered tag list plus an
// insertion-ordered item map. Folding is pure, so any two replicas that
// have seen the same bytes compute identical projections.
//
// Two replicas reconcile by comparing offset maps and exchanging only the
// bytes one has that the other lacks (see MissingFromRemote, IsGapless,
// Graft); because the AEAD binds (replica id, offset), any bytes both
// sides already hold at the same offset are guaranteed identical, so
// grafting a verified-gapless suffix never corrupts a file.
//
// Client and Server implement the pull/push wire protocol over HTTPS;
// UIServer implements the local, framed-JSON control protocol consumed by
// terminal or status-line clients.
package gtdlog
