package replay

import (
	"github.com/pkg/errors"

	"github.com/replayable/reg/causalgraph"
	"github.com/replayable/reg/oplog"
)

// placeholderBase anchors the reserved high LV range used for BranchMerge's
// placeholder block (§4.5 step 3). Real LVs are always small non-negative
// integers assigned in a single process's append order, so this range can
// never collide with one.
const placeholderBase causalgraph.LV = 1 << 40

func reverseRanges(rs []causalgraph.LVRange) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}

// MergeChangesIntoBranch extends branch with every operation mergeVersion
// has that branch.version lacks, without re-replaying the shared history
// the branch was already built from (§4.5). branch is updated in place.
func MergeChangesIntoBranch[T any](log *oplog.OpLog[T], branch *Branch[T], mergeVersion []causalgraph.LV) error {
	var conflictOps, newOps []causalgraph.LVRange
	commonAncestor, err := log.CG.FindConflicting(branch.Version, mergeVersion, func(r causalgraph.LVRange, flag causalgraph.ConflictFlag) {
		switch flag {
		case causalgraph.ConflictA:
			conflictOps = append(conflictOps, r)
		case causalgraph.ConflictB:
			newOps = append(newOps, r)
		}
	})
	if err != nil {
		return errors.Wrap(err, "mergeChangesIntoBranch: findConflicting")
	}
	// findConflicting's visitor walks backward from the two heads, so both
	// lists arrive in descending LV order; the walk needs them ascending.
	reverseRanges(conflictOps)
	reverseRanges(newOps)

	ctx := newEditContext()
	placeholderCount := 0
	if len(branch.Version) > 0 {
		placeholderCount = int(maxLV(branch.Version)) + 1
	}
	for i := 0; i < placeholderCount; i++ {
		ctx.insertAt(len(ctx.Items), Item{
			LV:          placeholderBase + causalgraph.LV(i),
			CurState:    Inserted,
			EndState:    EndInserted,
			OriginLeft:  boundary,
			RightParent: boundary,
		})
	}
	ctx.CurVersion = append([]causalgraph.LV(nil), commonAncestor...)

	if err := walkRanges(ctx, log, conflictOps, nil); err != nil {
		return errors.Wrap(err, "mergeChangesIntoBranch: replaying conflicting ops")
	}
	// Replay the new-ops pass against a local copy, not branch.Snapshot
	// directly: applyOp splices on every insert/delete it processes, so a
	// failure partway through newOps must not leave branch.Snapshot mutated
	// while branch.Version (updated only below, on success) stays stale.
	newSnapshot := append([]T(nil), branch.Snapshot...)
	if err := walkRanges(ctx, log, newOps, &newSnapshot); err != nil {
		return errors.Wrap(err, "mergeChangesIntoBranch: replaying new ops")
	}

	union := append(append([]causalgraph.LV{}, branch.Version...), mergeVersion...)
	dominators, err := log.CG.FindDominators(union)
	if err != nil {
		return errors.Wrap(err, "mergeChangesIntoBranch: findDominators")
	}
	branch.Snapshot = newSnapshot
	branch.Version = dominators
	return nil
}
