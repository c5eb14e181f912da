// Package replay implements the event-graph walker: it replays an OpLog's
// operations through a Fugue/Sync9 sequence CRDT to produce document
// snapshots, and incrementally extends existing snapshots via BranchMerge.
package replay

import (
	"github.com/replayable/reg/causalgraph"
	"github.com/replayable/reg/oplog"
)

// boundary is the ⊥ sentinel for an absent originLeft/rightParent/item
// reference: document-start or document-end, depending on position.
const boundary causalgraph.LV = -1

// CurState is the item's state at the current point in the replay walk.
// The encoding follows the counter-bias scheme of §9: negative means not
// yet inserted, zero means inserted, positive means deleted (the value is
// the delete multiplicity, above 1 for concurrent double-deletes).
type CurState int

const (
	NotYetInserted CurState = -1
	Inserted       CurState = 0
	// Deleted (and beyond, for concurrent double-deletes) is any value > 0;
	// use Item.IsDeleted rather than comparing to a single constant.
)

// EndState is the item's state once every operation up to the replay
// target has been merged: either it ends up in the document, or it does
// not.
type EndState byte

const (
	EndInserted EndState = iota
	EndDeleted
)

// Item is one element of the CRDT list maintained during replay. Items
// reference each other only by LV, never by pointer, so the list is a flat
// arena; an item's current index is looked up through
// EditContext.indexByLV, which is updated whenever a splice shifts items.
type Item struct {
	LV causalgraph.LV

	CurState CurState
	EndState EndState

	// OriginLeft is the LV of the item immediately to the left at
	// insertion time, or boundary for "start of document".
	OriginLeft causalgraph.LV
	// RightParent is the LV of the right neighbor at insertion time, but
	// only when that neighbor shares this item's OriginLeft; otherwise
	// boundary. This is the §9 Open Question's "rightParent" formulation.
	RightParent causalgraph.LV
}

// IsDeleted reports whether the item is currently deleted (possibly
// multiple times concurrently).
func (it *Item) IsDeleted() bool { return it.CurState > 0 }

// EditContext holds the mutable CRDT state threaded through a replay walk:
// the item list, delete targets, an LV index, and the frontier the context
// currently represents.
type EditContext struct {
	// Items is the CRDT list in document order.
	Items []Item
	// DelTargets maps a delete op's LV to the LV of the item it deleted.
	// applyOp fails with ErrCorruptState instead of recording an entry when
	// a delete finds no target.
	DelTargets map[causalgraph.LV]causalgraph.LV
	// indexByLV maps an item's LV to its current index in Items, kept in
	// sync on every splice so lookups stay O(1) instead of O(n) scans.
	indexByLV map[causalgraph.LV]int
	// CurVersion is the frontier the context currently represents.
	CurVersion []causalgraph.LV
	// builtUpTo is the LV boundary up to which every op has already been
	// applyOp'd at least once; ensureBuilt only ever grows it.
	builtUpTo causalgraph.LV
}

func newEditContext() *EditContext {
	return &EditContext{
		DelTargets: make(map[causalgraph.LV]causalgraph.LV),
		indexByLV:  make(map[causalgraph.LV]int),
	}
}

func (ctx *EditContext) itemAt(lv causalgraph.LV) *Item {
	idx, ok := ctx.indexByLV[lv]
	if !ok {
		return nil
	}
	return &ctx.Items[idx]
}

// insertAt splices item into Items at idx and reindexes every item at or
// past idx (their positions shifted by one).
func (ctx *EditContext) insertAt(idx int, item Item) {
	ctx.Items = append(ctx.Items, Item{})
	copy(ctx.Items[idx+1:], ctx.Items[idx:])
	ctx.Items[idx] = item
	for i := idx; i < len(ctx.Items); i++ {
		ctx.indexByLV[ctx.Items[i].LV] = i
	}
}

// Branch is a checked-out snapshot of the document at a specific version; it
// does not own operations.
type Branch[T any] struct {
	Snapshot []T
	Version  []causalgraph.LV
}

// Walker drives the replay process against an OpLog, maintaining one
// EditContext across successive Checkout calls. MergeChangesIntoBranch
// does not use a Walker; it builds its own context for each call.
type Walker[T any] struct {
	Log *oplog.OpLog[T]
	ctx *EditContext
}

// NewWalker creates a Walker over log with an empty edit context.
func NewWalker[T any](log *oplog.OpLog[T]) *Walker[T] {
	return &Walker[T]{Log: log, ctx: newEditContext()}
}
