package gtdlog

import (
	"encoding/json"
	"fmt"
)

// RemoteSegment is one replica's contribution to a sync payload: the byte
// offset at which data begins, and the raw bytes themselves.
type RemoteSegment struct {
	Start int64
	Data  []byte
}

// Payload maps replica id to the segment of bytes the sender believes the
// receiver is missing.
type Payload map[string]RemoteSegment

// MissingFromRemote computes, for every replica where the local store has
// more bytes than the remote's reported offsets, the bytes the remote is
// missing.
func MissingFromRemote(store *LogStore, localOffs, remoteOffs OffsetMap) (Payload, error) {
	payload := make(Payload)
	for replicaID, localOff := range localOffs {
		remoteOff := remoteOffs.Get(replicaID)
		if localOff <= remoteOff {
			continue
		}
		data, err := store.RawRange(replicaID, remoteOff)
		if err != nil {
			return nil, fmt.Errorf("gtdlog: compute missing data for %s: %w", replicaID, err)
		}
		payload[replicaID] = RemoteSegment{Start: remoteOff, Data: data}
	}
	return payload, nil
}

// IsGapless reports whether every segment in payload starts at or before
// the local store's current offset for that replica. A gap means the sender's view contains bytes the receiver
// has no witness for; grafting such a payload is refused.
func IsGapless(localOffs OffsetMap, payload Payload) bool {
	for replicaID, seg := range payload {
		if seg.Start > localOffs.Get(replicaID) {
			return false
		}
	}
	return true
}

// Graft appends the new suffix of each segment in payload to the local
// store, trimming the overlap already present locally. It requires
// IsGapless(localOffs, payload) to hold; callers must check that first —
// Graft itself re-checks and returns ErrGap rather than silently
// corrupting a file if the precondition was violated between the check and
// the call.
func Graft(store *LogStore, localOffs OffsetMap, payload Payload) error {
	if !IsGapless(localOffs, payload) {
		return fmt.Errorf("gtdlog: %w: graft precondition violated", ErrGap)
	}

	for replicaID, seg := range payload {
		localOff := localOffs.Get(replicaID)
		overlap := localOff - seg.Start
		if overlap < 0 || overlap > int64(len(seg.Data)) {
			return fmt.Errorf("gtdlog: %w: bad overlap for %s", ErrGap, replicaID)
		}
		if err := store.RawWrite(replicaID, localOff, seg.Data[overlap:]); err != nil {
			return fmt.Errorf("gtdlog: graft %s: %w", replicaID, err)
		}
	}
	return nil
}

// MarshalJSON renders a Payload as the wire shape:
// {replica_id: [start_offset, bytes_as_string], …}. The log format is
// always printable ASCII (base64 tokens, spaces, newlines), so the bytes
// round-trip through a JSON string without a further binary encoding.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string][2]any, len(p))
	for replicaID, seg := range p {
		out[replicaID] = [2]any{seg.Start, string(seg.Data)}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the wire shape produced by MarshalJSON.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string][2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("gtdlog: %w: parse payload: %v", ErrParse, err)
	}

	out := make(Payload, len(raw))
	for replicaID, pair := range raw {
		var start int64
		if err := json.Unmarshal(pair[0], &start); err != nil {
			return fmt.Errorf("gtdlog: %w: payload offset for %s: %v", ErrParse, replicaID, err)
		}
		var text string
		if err := json.Unmarshal(pair[1], &text); err != nil {
			return fmt.Errorf("gtdlog: %w: payload data for %s: %v", ErrParse, replicaID, err)
		}
		out[replicaID] = RemoteSegment{Start: start, Data: []byte(text)}
	}
	*p = out
	return nil
}
