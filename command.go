package gtdlog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command is a single mutation to projection state, identified by a
// single-character mnemonic. Implementations are a closed set;
// ParseCommand is the sole dispatch point.
type Command interface {
	// Mnemonic returns the command's one-character wire identifier.
	Mnemonic() byte
	// Encode renders the command back to its plaintext line form (without
	// a trailing newline), the inverse of ParseCommand.
	Encode() string
	// apply folds the command onto projection state.
	apply(*Projection)
}

// SetTitle is the "t" command: upsert an item's title.
type SetTitle struct {
	ItemID string
	Title  string
}

// DeleteItem is the "d" command: remove an item if present.
type DeleteItem struct {
	ItemID string
}

// SetTag is the "T" command: set an item's tag.
type SetTag struct {
	ItemID string
	Tag    string
}

// UnsetTag is the "D" command: clear an item's tag.
type UnsetTag struct {
	ItemID string
}

// OrderTag is the "o" command: reposition a tag in tag order.
type OrderTag struct {
	First  string
	Second string
}

// RemoveTag is the "r" command: drop a tag from tag order.
type RemoveTag struct {
	Tag string
}

// OrderItems is the "O" command: apply an order-diff to the item sequence.
type OrderItems struct {
	Diff OrderDiff
}

func (c SetTitle) Mnemonic() byte   { return 't' }
func (c DeleteItem) Mnemonic() byte { return 'd' }
func (c SetTag) Mnemonic() byte     { return 'T' }
func (c UnsetTag) Mnemonic() byte   { return 'D' }
func (c OrderTag) Mnemonic() byte   { return 'o' }
func (c RemoveTag) Mnemonic() byte  { return 'r' }
func (c OrderItems) Mnemonic() byte { return 'O' }

func (c SetTitle) Encode() string   { return fmt.Sprintf("t %s %s", c.ItemID, c.Title) }
func (c DeleteItem) Encode() string { return fmt.Sprintf("d %s", c.ItemID) }
func (c SetTag) Encode() string     { return fmt.Sprintf("T %s %s", c.ItemID, c.Tag) }
func (c UnsetTag) Encode() string   { return fmt.Sprintf("D %s", c.ItemID) }
func (c OrderTag) Encode() string   { return fmt.Sprintf("o %s %s", c.First, c.Second) }
func (c RemoveTag) Encode() string  { return fmt.Sprintf("r %s", c.Tag) }
func (c OrderItems) Encode() string {
	b, err := json.Marshal(c.Diff)
	if err != nil {
		// OrderDiff is always plain strings/nils; Marshal cannot fail.
		panic(fmt.Sprintf("gtdlog: encode order diff: %v", err))
	}
	return "O " + string(b)
}

// ParseCommand splits a decrypted plaintext line into mnemonic and payload,
// then dispatches to the matching per-kind parser. Missing required fields
// produce ErrParse.
func ParseCommand(line string) (Command, error) {
	mnemonic, rest, _ := cutSpace(line)
	if len(mnemonic) != 1 {
		return nil, fmt.Errorf("gtdlog: %w: empty mnemonic", ErrParse)
	}

	switch mnemonic[0] {
	case 't':
		id, title, ok := cutSpace(rest)
		if !ok {
			return nil, fmt.Errorf("gtdlog: %w: \"t\" requires item_id and title", ErrParse)
		}
		return SetTitle{ItemID: id, Title: title}, nil
	case 'd':
		if rest == "" {
			return nil, fmt.Errorf("gtdlog: %w: \"d\" requires item_id", ErrParse)
		}
		return DeleteItem{ItemID: rest}, nil
	case 'T':
		id, tag, ok := cutSpace(rest)
		if !ok {
			return nil, fmt.Errorf("gtdlog: %w: \"T\" requires item_id and tag", ErrParse)
		}
		return SetTag{ItemID: id, Tag: tag}, nil
	case 'D':
		if rest == "" {
			return nil, fmt.Errorf("gtdlog: %w: \"D\" requires item_id", ErrParse)
		}
		return UnsetTag{ItemID: rest}, nil
	case 'o':
		first, second, ok := cutSpace(rest)
		if !ok {
			return nil, fmt.Errorf("gtdlog: %w: \"o\" requires first and second tag", ErrParse)
		}
		return OrderTag{First: first, Second: second}, nil
	case 'r':
		if rest == "" {
			return nil, fmt.Errorf("gtdlog: %w: \"r\" requires tag", ErrParse)
		}
		return RemoveTag{Tag: rest}, nil
	case 'O':
		if rest == "" {
			return nil, fmt.Errorf("gtdlog: %w: \"O\" requires a diff", ErrParse)
		}
		var diff OrderDiff
		if err := json.Unmarshal([]byte(rest), &diff); err != nil {
			return nil, fmt.Errorf("gtdlog: %w: malformed order diff: %v", ErrParse, err)
		}
		return OrderItems{Diff: diff}, nil
	default:
		return nil, fmt.Errorf("gtdlog: %w: unknown mnemonic %q", ErrParse, mnemonic)
	}
}

// cutSpace splits on the first space, like strings.Cut but reporting
// whether a separating space was found at all (as opposed to an empty
// trailing field, which is a valid parse).
func cutSpace(s string) (before, after string, found bool) {
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}
