package replay

import (
	"github.com/pkg/errors"

	"github.com/replayable/reg/causalgraph"
	"github.com/replayable/reg/oplog"
	"github.com/replayable/reg/rgerr"
)

// lvLess is the lexicographic (agent, seq) tie-break of §4.4.1, resolved
// through the causal graph's IdSpace rather than comparing LVs directly
// (LVs are process-local and carry no cross-peer ordering guarantee).
func lvLess(cg *causalgraph.CausalGraph, a, b causalgraph.LV) bool {
	idA, errA := cg.LVToId(a)
	idB, errB := cg.LVToId(b)
	if errA != nil || errB != nil {
		return a < b
	}
	if idA.Agent != idB.Agent {
		return idA.Agent < idB.Agent
	}
	return idA.Seq < idB.Seq
}

func maxLV(lvs []causalgraph.LV) causalgraph.LV {
	m := causalgraph.LV(-1)
	for _, v := range lvs {
		if v > m {
			m = v
		}
	}
	return m
}

func spliceInsert[T any](s []T, pos int, v T) []T {
	s = append(s, v)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func spliceDelete[T any](s []T, pos int) []T {
	return append(s[:pos], s[pos+1:]...)
}

// endPosBefore sums the EndState-width (1 per EndInserted item) of every
// item before idx: the splice index into the materialized snapshot, which
// tracks final fate (EndState) rather than the transient replay view
// (CurState).
func (ctx *EditContext) endPosBefore(idx int) int {
	n := 0
	for i := 0; i < idx; i++ {
		if ctx.Items[i].EndState == EndInserted {
			n++
		}
	}
	return n
}

// findNthInserted returns the index of the n-th item currently in
// Inserted state, or ok=false if fewer than n+1 such items exist.
func (ctx *EditContext) findNthInserted(n int) (idx int, ok bool) {
	count := 0
	for i := range ctx.Items {
		if ctx.Items[i].CurState == Inserted {
			if count == n {
				return i, true
			}
			count++
		}
	}
	return len(ctx.Items), false
}

// computeInsertAnchors locates the insertion point for the pos-th currently
// visible position and derives originLeft/rightParent per §4.4 step 4's
// Insert bullet.
func (ctx *EditContext) computeInsertAnchors(pos int) (originLeft, rightParent causalgraph.LV, err error) {
	originLeft = boundary
	originLeftIdx := -1
	visibleCount := 0
	i := 0
	for ; i < len(ctx.Items); i++ {
		it := &ctx.Items[i]
		if it.CurState != Inserted {
			continue
		}
		if visibleCount == pos {
			break
		}
		visibleCount++
		originLeft = it.LV
		originLeftIdx = i
	}
	if visibleCount < pos {
		return 0, 0, errors.Wrapf(rgerr.ErrCorruptState, "insert: pos %d exceeds %d visible items", pos, visibleCount)
	}

	rightParent = boundary
	for j := originLeftIdx + 1; j < len(ctx.Items); j++ {
		if ctx.Items[j].CurState != NotYetInserted {
			if ctx.Items[j].OriginLeft == originLeft {
				rightParent = ctx.Items[j].LV
			}
			break
		}
	}
	return originLeft, rightParent, nil
}

// integrate is the Fugue/Sync9 rule of §4.4.1: given item n with its
// originLeft/rightParent already computed, find the deterministic index at
// which to splice it among any concurrently not-yet-decided items.
func (ctx *EditContext) integrate(cg *causalgraph.CausalGraph, n Item) int {
	leftIdx := -1
	if n.OriginLeft != boundary {
		leftIdx = ctx.indexByLV[n.OriginLeft]
	}
	cursor := leftIdx + 1
	rightIdx := len(ctx.Items)
	if n.RightParent != boundary {
		rightIdx = ctx.indexByLV[n.RightParent]
	}

	if cursor >= len(ctx.Items) || ctx.Items[cursor].CurState != NotYetInserted {
		return cursor
	}

	scanning := false
	committed := cursor
	idx := cursor
	for idx < len(ctx.Items) && ctx.Items[idx].CurState == NotYetInserted {
		other := &ctx.Items[idx]
		oLeftIdx := -1
		if other.OriginLeft != boundary {
			oLeftIdx = ctx.indexByLV[other.OriginLeft]
		}
		oRightIdx := len(ctx.Items)
		if other.RightParent != boundary {
			oRightIdx = ctx.indexByLV[other.RightParent]
		}

		stop := false
		switch {
		case oLeftIdx < leftIdx:
			stop = true
		case oLeftIdx == leftIdx:
			switch {
			case oRightIdx < rightIdx:
				scanning = true
			case oRightIdx == rightIdx:
				if lvLess(cg, n.LV, other.LV) {
					stop = true
				} else {
					scanning = false
				}
			default:
				scanning = false
			}
		}
		if stop {
			break
		}
		idx++
		if !scanning {
			committed = idx
		}
	}
	return committed
}

// retreatOp un-applies a previously applied op, reverting curVersion by one
// step (§4.4 Walk step 2). The target item must already exist.
func retreatOp[T any](ctx *EditContext, ops []oplog.ListOp[T], lv causalgraph.LV) error {
	op := ops[lv]
	switch op.Type {
	case oplog.OpInsert:
		item := ctx.itemAt(lv)
		if item == nil || item.CurState != Inserted {
			return errors.Wrapf(rgerr.ErrCorruptState, "retreat: insert lv %d not Inserted", lv)
		}
		item.CurState = NotYetInserted
	case oplog.OpDelete:
		target, ok := ctx.DelTargets[lv]
		if !ok {
			return errors.Wrapf(rgerr.ErrCorruptState, "retreat: delete lv %d has no recorded target", lv)
		}
		if target == boundary {
			return nil
		}
		item := ctx.itemAt(target)
		if item == nil || item.CurState < 1 {
			return errors.Wrapf(rgerr.ErrCorruptState, "retreat: delete lv %d target not Deleted", lv)
		}
		item.CurState--
	}
	return nil
}

// advanceOp re-applies a previously retreated op, moving curVersion forward
// by one step (§4.4 Walk step 3). The target item must already exist.
func advanceOp[T any](ctx *EditContext, ops []oplog.ListOp[T], lv causalgraph.LV) error {
	op := ops[lv]
	switch op.Type {
	case oplog.OpInsert:
		item := ctx.itemAt(lv)
		if item == nil || item.CurState != NotYetInserted {
			return errors.Wrapf(rgerr.ErrCorruptState, "advance: insert lv %d not NotYetInserted", lv)
		}
		item.CurState = Inserted
	case oplog.OpDelete:
		target, ok := ctx.DelTargets[lv]
		if !ok {
			return errors.Wrapf(rgerr.ErrCorruptState, "advance: delete lv %d has no recorded target", lv)
		}
		if target == boundary {
			return nil
		}
		item := ctx.itemAt(target)
		if item == nil {
			return errors.Wrapf(rgerr.ErrCorruptState, "advance: delete lv %d target missing", lv)
		}
		item.CurState++
	}
	return nil
}

// applyOp is the first-ever application of lv: it creates a fresh item
// (Insert, running the full Fugue integrate) or locates and marks a delete
// target (§4.4 Walk step 4). When snapshot is non-nil the corresponding
// splice is mirrored into it; BranchMerge passes nil for its conflict-replay
// pass (§4.5 step 4).
func applyOp[T any](ctx *EditContext, cg *causalgraph.CausalGraph, ops []oplog.ListOp[T], lv causalgraph.LV, snapshot *[]T) error {
	op := ops[lv]
	switch op.Type {
	case oplog.OpInsert:
		originLeft, rightParent, err := ctx.computeInsertAnchors(op.Pos)
		if err != nil {
			return errors.Wrapf(err, "apply: insert lv %d", lv)
		}
		newItem := Item{
			LV:          lv,
			CurState:    Inserted,
			EndState:    EndInserted,
			OriginLeft:  originLeft,
			RightParent: rightParent,
		}
		insertIdx := ctx.integrate(cg, newItem)
		endPos := ctx.endPosBefore(insertIdx)
		ctx.insertAt(insertIdx, newItem)
		if snapshot != nil {
			*snapshot = spliceInsert(*snapshot, endPos, op.Content)
		}
	case oplog.OpDelete:
		idx, ok := ctx.findNthInserted(op.Pos)
		if !ok {
			return errors.Wrapf(rgerr.ErrCorruptState, "apply: delete lv %d pos %d past list end", lv, op.Pos)
		}
		item := &ctx.Items[idx]
		endPos := ctx.endPosBefore(idx)
		if item.EndState == EndInserted {
			if snapshot != nil {
				*snapshot = spliceDelete(*snapshot, endPos)
			}
			item.EndState = EndDeleted
		}
		item.CurState++
		ctx.DelTargets[lv] = item.LV
	}
	return nil
}

// walkRanges drives the §4.4 walk over every entry covered by ranges,
// realigning curVersion to each entry's own parents before applying it.
// snapshot is threaded straight through to applyOp: nil for a state-only
// replay (ensureBuilt, BranchMerge's conflictOps pass), non-nil when the
// document content itself should be mutated in lockstep.
func walkRanges[T any](ctx *EditContext, log *oplog.OpLog[T], ranges []causalgraph.LVRange, snapshot *[]T) error {
	for _, r := range ranges {
		err := log.CG.IterVersionsBetween(r.Start, r.End, func(e causalgraph.CGEntry) (bool, error) {
			d, err := log.CG.Diff(ctx.CurVersion, e.Parents)
			if err != nil {
				return true, err
			}
			for _, rr := range d.AOnly {
				for v := rr.Start; v < rr.End; v++ {
					if err := retreatOp(ctx, log.Ops, v); err != nil {
						return true, err
					}
				}
			}
			for _, rr := range d.BOnly {
				for v := rr.Start; v < rr.End; v++ {
					if err := advanceOp(ctx, log.Ops, v); err != nil {
						return true, err
					}
				}
			}
			for v := e.Version; v < e.VEnd; v++ {
				if err := applyOp(ctx, log.CG, log.Ops, v, snapshot); err != nil {
					return true, err
				}
			}
			ctx.CurVersion = []causalgraph.LV{e.VEnd - 1}
			return false, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ensureBuilt extends ctx's item list to cover every op up to (but not
// including) upto, realigning curVersion to each entry's own parents
// before applying it. This is what gives concurrent operations their
// correct relative Fugue position and lets concurrent deletes of the same
// item compose (§4.4, §8 scenario 4): an op is only ever applyOp'd once,
// but the realignment means later ops see exactly the state their own
// parents implied, not whatever the previous entry happened to leave
// behind.
func ensureBuilt[T any](ctx *EditContext, log *oplog.OpLog[T], upto causalgraph.LV) error {
	if upto <= ctx.builtUpTo {
		return nil
	}
	if err := walkRanges(ctx, log, []causalgraph.LVRange{{Start: ctx.builtUpTo, End: upto}}, nil); err != nil {
		return err
	}
	ctx.builtUpTo = upto
	return nil
}

// viewAt realigns ctx.CurVersion to target using only retreat/advance
// (never applyOp): every LV reachable from target must already have been
// built by ensureBuilt.
func viewAt[T any](ctx *EditContext, cg *causalgraph.CausalGraph, ops []oplog.ListOp[T], target []causalgraph.LV) error {
	d, err := cg.Diff(ctx.CurVersion, target)
	if err != nil {
		return err
	}
	for _, r := range d.AOnly {
		for v := r.Start; v < r.End; v++ {
			if err := retreatOp(ctx, ops, v); err != nil {
				return err
			}
		}
	}
	for _, r := range d.BOnly {
		for v := r.Start; v < r.End; v++ {
			if err := advanceOp(ctx, ops, v); err != nil {
				return err
			}
		}
	}
	ctx.CurVersion = append([]causalgraph.LV(nil), target...)
	return nil
}

// Checkout computes the document snapshot at target, reusing and extending
// the Walker's persistent item list rather than replaying from genesis
// every call.
func (w *Walker[T]) Checkout(target []causalgraph.LV) (*Branch[T], error) {
	upto := maxLV(target) + 1
	if err := ensureBuilt(w.ctx, w.Log, upto); err != nil {
		return nil, errors.Wrap(err, "checkout")
	}
	if err := viewAt(w.ctx, w.Log.CG, w.Log.Ops, target); err != nil {
		return nil, errors.Wrap(err, "checkout")
	}
	snapshot := make([]T, 0, len(w.ctx.Items))
	for _, it := range w.ctx.Items {
		if it.CurState == Inserted {
			snapshot = append(snapshot, w.Log.Ops[it.LV].Content)
		}
	}
	return &Branch[T]{
		Snapshot: snapshot,
		Version:  append([]causalgraph.LV(nil), target...),
	}, nil
}

// CheckoutSimple is Checkout without the version, a convenience for callers
// that only want the document content.
func (w *Walker[T]) CheckoutSimple(target []causalgraph.LV) ([]T, error) {
	b, err := w.Checkout(target)
	if err != nil {
		return nil, err
	}
	return b.Snapshot, nil
}

// Checkout creates a fresh Walker over log and checks out its current
// heads (§6 "checkout(log) -> Branch<T>").
func Checkout[T any](log *oplog.OpLog[T]) (*Branch[T], error) {
	return NewWalker(log).Checkout(log.CG.Heads)
}

// CheckoutSimple is Checkout without the version (§6 "checkoutSimple").
func CheckoutSimple[T any](log *oplog.OpLog[T]) ([]T, error) {
	return NewWalker(log).CheckoutSimple(log.CG.Heads)
}

// CreateEmptyBranch returns a Branch at the initial (empty) version, ready
// for MergeChangesIntoBranch.
func CreateEmptyBranch[T any]() *Branch[T] {
	return &Branch[T]{Snapshot: []T{}, Version: []causalgraph.LV{}}
}
