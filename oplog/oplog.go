package oplog

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/replayable/reg/causalgraph"
	"github.com/replayable/reg/rgerr"
)

// NewAgent mints an opaque agent identifier, a convenience for callers that
// do not otherwise need a peer-naming scheme.
func NewAgent() causalgraph.AgentID {
	return causalgraph.AgentID(uuid.NewString())
}

func appendOp[T any](log *OpLog[T], agent causalgraph.AgentID, seqStart, seqEnd int, parents []causalgraph.LV, op ListOp[T]) (causalgraph.LV, error) {
	before := len(log.Ops)
	r, err := log.CG.Add(agent, seqStart, seqEnd, parents)
	if err != nil {
		return -1, errors.Wrap(err, "oplog: add")
	}
	if r.Empty() {
		return -1, nil
	}
	log.Ops = append(log.Ops, op)
	if len(log.Ops) != int(log.CG.NextLV) {
		log.Ops = log.Ops[:before]
		return -1, errors.Wrap(rgerr.ErrCorruptState, "oplog: op vector desynced from causal graph")
	}
	return r.Start, nil
}

// LocalInsert appends a local insert at pos with content, parented on the
// log's current heads (§4.3 localInsert).
func (log *OpLog[T]) LocalInsert(agent causalgraph.AgentID, pos int, content T) (causalgraph.LV, error) {
	seq := log.CG.NextSeqForAgent(agent)
	parents := append([]causalgraph.LV(nil), log.CG.Heads...)
	return appendOp(log, agent, seq, seq+1, parents, ListOp[T]{Type: OpInsert, Pos: pos, Content: content})
}

// LocalDelete appends length single-position deletes at pos, parented on the
// log's current heads, each op chained to the previous (§4.3 localDelete).
func (log *OpLog[T]) LocalDelete(agent causalgraph.AgentID, pos, length int) ([]causalgraph.LV, error) {
	if length <= 0 {
		return nil, errors.Wrapf(rgerr.ErrInvalidLength, "localDelete: length %d", length)
	}
	seq := log.CG.NextSeqForAgent(agent)
	parents := append([]causalgraph.LV(nil), log.CG.Heads...)
	lvs := make([]causalgraph.LV, 0, length)
	for i := 0; i < length; i++ {
		lv, err := appendOp(log, agent, seq+i, seq+i+1, parents, ListOp[T]{Type: OpDelete, Pos: pos})
		if err != nil {
			return nil, errors.Wrapf(err, "localDelete: op %d", i)
		}
		lvs = append(lvs, lv)
		parents = []causalgraph.LV{lv}
	}
	return lvs, nil
}

// PushRemoteOp ingests a single remote operation at id with the given
// parents. If id is already fully known, lengthAccepted is 0 and op is
// discarded: a single-LV op can never be partially known, but the call
// still goes through CausalGraph.Add's trim logic so a duplicate is
// silently absorbed rather than erroring (§4.3, §7 DuplicateIngest).
func (log *OpLog[T]) PushRemoteOp(id causalgraph.RawVersion, rawParents []causalgraph.RawVersion, op ListOp[T]) (lengthAccepted int, err error) {
	parents, err := log.CG.IdsToLVs(rawParents)
	if err != nil {
		return 0, errors.Wrap(err, "pushRemoteOp: resolving parents")
	}
	before := len(log.Ops)
	r, err := log.CG.Add(id.Agent, id.Seq, id.Seq+1, parents)
	if err != nil {
		return 0, errors.Wrap(err, "pushRemoteOp: add")
	}
	if r.Empty() {
		return 0, nil
	}
	log.Ops = append(log.Ops, op)
	if len(log.Ops) != int(log.CG.NextLV) {
		log.Ops = log.Ops[:before]
		return 0, errors.Wrap(rgerr.ErrCorruptState, "pushRemoteOp: op vector desynced from causal graph")
	}
	return r.Len(), nil
}

// MergeOplogInto copies every operation src has that dest lacks into dest,
// atomically: either the whole transfer succeeds or dest is left unchanged
// (§4.3, §5). The pipeline is summarize dest's version → intersect against
// src to find the common frontier in src's own LV space → diff src's heads
// from that common frontier → serialize → merge into dest's causal graph →
// copy the corresponding ops.
func MergeOplogInto[T any](dest, src *OpLog[T]) error {
	destSummary, err := dest.CG.SummarizeVersion(dest.CG.Heads)
	if err != nil {
		return errors.Wrap(err, "mergeOplogInto: summarizing dest")
	}
	commonInSrc, err := src.CG.IntersectWithSummary(destSummary)
	if err != nil {
		return errors.Wrap(err, "mergeOplogInto: intersecting with src")
	}
	diff, err := src.CG.Diff(commonInSrc, src.CG.Heads)
	if err != nil {
		return errors.Wrap(err, "mergeOplogInto: diffing src")
	}
	if len(diff.BOnly) == 0 {
		return nil
	}
	wire, err := src.CG.SerializeDiff(diff.BOnly)
	if err != nil {
		return errors.Wrap(err, "mergeOplogInto: serializing diff")
	}

	// Stage the op copies before committing the CG merge, so a failure
	// partway through leaves dest entirely unchanged.
	stagedOps := make([]ListOp[T], 0, len(wire))
	for _, e := range wire {
		startLV, err := src.CG.IdToLV(e.Agent, e.Seq)
		if err != nil {
			return errors.Wrapf(err, "mergeOplogInto: resolving src op for %s:%d", e.Agent, e.Seq)
		}
		for i := 0; i < e.Len; i++ {
			stagedOps = append(stagedOps, src.Ops[int(startLV)+i])
		}
	}

	// Everything above this point is read-only against dest; staging the
	// op copies first means the remaining step that can fail on bad input is
	// the CG merge itself, which per §4.2 either fully applies or errors
	// leaving dest's graph untouched. The desync check after it runs once
	// both the graph and Ops have been updated, so if it fails dest is
	// left changed.
	if _, err := dest.CG.MergePartialVersions(wire); err != nil {
		return errors.Wrap(err, "mergeOplogInto: merging causal graph diff")
	}
	dest.Ops = append(dest.Ops, stagedOps...)
	if len(dest.Ops) != int(dest.CG.NextLV) {
		return errors.Wrap(rgerr.ErrCorruptState, "mergeOplogInto: op vector desynced from causal graph after merge")
	}
	return nil
}
