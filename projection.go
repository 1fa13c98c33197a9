package gtdlog

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTagOrder is the tag order every fresh projection starts from.
var DefaultTagOrder = []string{"inbox", "todo", "ref", "someday", "tickler"}

// Item is one entry in the projection's item map.
type Item struct {
	Title string
	Tag   string
}

// Projection is the deterministic fold target: an ordered tag list and an
// insertion-ordered item map. It is rebuilt from scratch whenever
// offsets change and is never persisted.
type Projection struct {
	TagOrder []string
	itemIDs  []string // insertion order
	items    map[string]Item
}

// NewProjection returns an empty projection seeded with DefaultTagOrder.
func NewProjection() *Projection {
	return &Projection{
		TagOrder: append([]string(nil), DefaultTagOrder...),
		items:    make(map[string]Item),
	}
}

// Item looks up an item by id.
func (p *Projection) Item(id string) (Item, bool) {
	it, ok := p.items[id]
	return it, ok
}

// ItemIDs returns item ids in insertion order.
func (p *Projection) ItemIDs() []string {
	return append([]string(nil), p.itemIDs...)
}

func (p *Projection) hasTag(name string) bool {
	for _, t := range p.TagOrder {
		if t == name {
			return true
		}
	}
	return false
}

func (p *Projection) tagIndex(name string) int {
	for i, t := range p.TagOrder {
		if t == name {
			return i
		}
	}
	return -1
}

func (p *Projection) anyItemHasTag(tag string) bool {
	for _, id := range p.itemIDs {
		if p.items[id].Tag == tag {
			return true
		}
	}
	return false
}

func (p *Projection) upsertItem(id string, set func(*Item)) {
	it, existed := p.items[id]
	set(&it)
	p.items[id] = it
	if !existed {
		p.itemIDs = append(p.itemIDs, id)
	}
}

func (p *Projection) deleteItem(id string) {
	if _, ok := p.items[id]; !ok {
		return
	}
	delete(p.items, id)
	for i, existing := range p.itemIDs {
		if existing == id {
			p.itemIDs = append(p.itemIDs[:i], p.itemIDs[i+1:]...)
			break
		}
	}
}

func isScheduledTag(tag string) bool {
	return strings.HasPrefix(tag, "$")
}

// Apply folds command onto the projection. Folding is pure
// and deterministic: the same command sequence always yields the same
// projection.
func (p *Projection) Apply(cmd Command) {
	cmd.apply(p)
}

func (c SetTitle) apply(p *Projection) {
	p.upsertItem(c.ItemID, func(it *Item) { it.Title = c.Title })
}

func (c DeleteItem) apply(p *Projection) {
	p.deleteItem(c.ItemID)
}

func (c SetTag) apply(p *Projection) {
	if c.Tag == "inbox" || c.Tag == "tickler" {
		return
	}
	if _, ok := p.items[c.ItemID]; !ok {
		return
	}
	it := p.items[c.ItemID]
	it.Tag = c.Tag
	p.items[c.ItemID] = it

	if !isScheduledTag(c.Tag) && !p.hasTag(c.Tag) {
		p.TagOrder = append(p.TagOrder, c.Tag)
	}
}

func (c UnsetTag) apply(p *Projection) {
	if _, ok := p.items[c.ItemID]; !ok {
		return
	}
	it := p.items[c.ItemID]
	it.Tag = ""
	p.items[c.ItemID] = it
}

func (c OrderTag) apply(p *Projection) {
	fi, si := p.tagIndex(c.First), p.tagIndex(c.Second)
	if fi < 0 || si < 0 {
		return
	}
	order := append([]string(nil), p.TagOrder...)
	order = append(order[:si], order[si+1:]...)
	fi = indexOf(order, c.First)
	tail := append([]string(nil), order[fi+1:]...)
	order = append(append(order[:fi+1], c.Second), tail...)
	p.TagOrder = order
}

func (c RemoveTag) apply(p *Projection) {
	if c.Tag == "inbox" || c.Tag == "tickler" {
		return
	}
	if !p.hasTag(c.Tag) {
		return
	}
	if p.anyItemHasTag(c.Tag) {
		return
	}
	idx := p.tagIndex(c.Tag)
	p.TagOrder = append(p.TagOrder[:idx], p.TagOrder[idx+1:]...)
}

func (c OrderItems) apply(p *Projection) {
	p.itemIDs = PatchOrder(p.itemIDs, c.Diff)
}

// EffectiveTag resolves a raw item tag to its display tag: empty becomes
// inbox; a scheduled ($YYYY-MM-DD) tag collapses to tickler if its date is
// strictly after today, else inbox; anything else passes through unchanged.
func EffectiveTag(tag string, today time.Time) string {
	if tag == "" {
		return "inbox"
	}
	if !isScheduledTag(tag) {
		return tag
	}
	date, err := time.Parse("2006-01-02", tag[1:])
	if err != nil {
		return tag
	}
	if date.After(truncateToDay(today)) {
		return "tickler"
	}
	return "inbox"
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TagCount is one entry of a rendered state's tag list.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RenderedItem is one entry of a rendered state's item list.
type RenderedItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Scheduled string `json:"scheduled,omitempty"`
}

// State is the render result requested by a UI for a given active tag.
// It is a pure function of (projection, active tag,
// today) and must be recomputed at least once per local day rollover.
type State struct {
	Tags           []TagCount     `json:"tags"`
	ActiveTagIndex int            `json:"active_tag"`
	Items          []RenderedItem `json:"items"`
}

// Render computes the display state for activeTag as of today.
func (p *Projection) Render(activeTag string, today time.Time) State {
	counts := make(map[string]int, len(p.TagOrder))
	for _, id := range p.itemIDs {
		eff := EffectiveTag(p.items[id].Tag, today)
		counts[eff]++
	}

	tags := make([]TagCount, len(p.TagOrder))
	for i, name := range p.TagOrder {
		tags[i] = TagCount{Name: name, Count: counts[name]}
	}

	activeIdx := p.tagIndex(activeTag)
	if activeIdx < 0 {
		activeIdx = p.tagIndex("inbox")
		activeTag = "inbox"
	}

	var items []RenderedItem
	for _, id := range p.itemIDs {
		it := p.items[id]
		if EffectiveTag(it.Tag, today) != activeTag {
			continue
		}
		ri := RenderedItem{ID: id, Title: it.Title}
		if isScheduledTag(it.Tag) {
			ri.Scheduled = it.Tag[1:]
		}
		items = append(items, ri)
	}

	return State{Tags: tags, ActiveTagIndex: activeIdx, Items: items}
}

// String renders the status-probe format: "tag:count" pairs,
// space-separated.
func (s State) String() string {
	parts := make([]string, len(s.Tags))
	for i, t := range s.Tags {
		parts[i] = fmt.Sprintf("%s:%d", t.Name, t.Count)
	}
	return strings.Join(parts, " ")
}

// StatusLine formats the one-shot status-probe output for a single
// requested tag: "tag:count", or "tag:?" when requestedTag
// doesn't appear in tag order.
func (p *Projection) StatusLine(requestedTag string, today time.Time) string {
	if !p.hasTag(requestedTag) {
		return requestedTag + ":?"
	}
	state := p.Render(requestedTag, today)
	return fmt.Sprintf("%s:%d", requestedTag, state.Tags[state.ActiveTagIndex].Count)
}
