package causalgraph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/replayable/reg/rgerr"
)

// isCoveredBySummary reports whether (agent, seq) falls inside one of
// summary's ranges for that agent.
func isCoveredBySummary(summary VersionSummary, agent AgentID, seq int) bool {
	ranges, ok := summary[agent]
	if !ok {
		return false
	}
	for _, r := range ranges {
		if seq >= r[0] && seq < r[1] {
			return true
		}
	}
	return false
}

func pushSummaryRange(ranges [][2]int, r [2]int) [][2]int {
	if n := len(ranges); n > 0 && ranges[n-1][1] == r[0] {
		ranges[n-1][1] = r[1]
		return ranges
	}
	return append(ranges, r)
}

// SummarizeVersion builds a portable VersionSummary covering every LV in
// the causal history of frontier (§6 "Version summary").
func (cg *CausalGraph) SummarizeVersion(frontier []LV) (VersionSummary, error) {
	summary := make(VersionSummary)
	if len(frontier) == 0 {
		return summary, nil
	}
	visited := make(map[LV]struct{})
	queue := append([]LV(nil), frontier...)
	agentSeqs := make(map[AgentID][]int)

	for len(queue) > 0 {
		v := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if v < 0 {
			continue
		}
		if _, ok := visited[v]; ok {
			continue
		}
		visited[v] = struct{}{}
		entry, offset, ok := cg.findEntryContaining(v)
		if !ok {
			return nil, errors.Wrapf(rgerr.ErrUnknownVersion, "SummarizeVersion: lv %d", v)
		}
		agentSeqs[entry.Agent] = append(agentSeqs[entry.Agent], entry.Seq+offset)
		for _, p := range entry.ParentsAt(offset) {
			if p >= 0 {
				queue = append(queue, p)
			}
		}
	}

	for agent, seqs := range agentSeqs {
		sort.Ints(seqs)
		var ranges [][2]int
		for _, s := range seqs {
			ranges = pushSummaryRange(ranges, [2]int{s, s + 1})
		}
		summary[agent] = ranges
	}
	return summary, nil
}

// IntersectWithSummary returns the dominator frontier of the LVs reachable
// from cg.Heads that are covered by summary — i.e. the portion of cg's
// history already known to whoever produced summary (§4.3, §6). Coverage
// is assumed causally closed: if an op is known, so are its causal
// ancestors, so the walk does not need to recurse past a covered LV.
func (cg *CausalGraph) IntersectWithSummary(summary VersionSummary) ([]LV, error) {
	visited := make(map[LV]struct{})
	var common []LV
	queue := append([]LV(nil), cg.Heads...)

	for len(queue) > 0 {
		v := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if v < 0 {
			continue
		}
		if _, ok := visited[v]; ok {
			continue
		}
		visited[v] = struct{}{}
		entry, offset, ok := cg.findEntryContaining(v)
		if !ok {
			return nil, errors.Wrapf(rgerr.ErrUnknownVersion, "IntersectWithSummary: lv %d", v)
		}
		seq := entry.Seq + offset
		if isCoveredBySummary(summary, entry.Agent, seq) {
			common = append(common, v)
			continue
		}
		for _, p := range entry.ParentsAt(offset) {
			if p >= 0 {
				queue = append(queue, p)
			}
		}
	}
	if len(common) == 0 {
		return []LV{}, nil
	}
	return cg.FindDominators(common)
}

// SerializeDiff encodes ranges (e.g. the AOnly/BOnly output of Diff) as the
// portable wire format of §4.2/§6, in the order of the input ranges.
func (cg *CausalGraph) SerializeDiff(ranges []LVRange) ([]WireEntry, error) {
	var out []WireEntry
	for _, r := range ranges {
		err := cg.IterVersionsBetween(r.Start, r.End, func(e CGEntry) (bool, error) {
			parentIds, err := cg.LVToIdList(e.Parents)
			if err != nil {
				return false, errors.Wrap(err, "SerializeDiff: resolving parents")
			}
			out = append(out, WireEntry{
				Agent:   e.Agent,
				Seq:     e.Seq,
				Len:     e.Len(),
				Parents: parentIds,
			})
			return false, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// cloneForStaging returns a deep-enough copy of cg that Add can be replayed
// against it without the real cg observing any mutation: Entries/Heads are
// copied slices, and AgentToVersion's per-agent run slices are copied too
// (Add appends/rewrites them in place via pushClientEntry).
func (cg *CausalGraph) cloneForStaging() *CausalGraph {
	staged := &CausalGraph{
		Entries:        append([]CGEntry(nil), cg.Entries...),
		AgentToVersion: make(map[AgentID][]ClientEntry, len(cg.AgentToVersion)),
		Heads:          append([]LV(nil), cg.Heads...),
		NextLV:         cg.NextLV,
	}
	for agent, runs := range cg.AgentToVersion {
		staged.AgentToVersion[agent] = append([]ClientEntry(nil), runs...)
	}
	return staged
}

// MergePartialVersions applies a wire diff, resolving each entry's parents
// via the local IdSpace (they must already be present, or refer to an
// earlier record in this same diff) and returns the LV range actually
// inserted (possibly empty/discontiguous pieces collapsed to their outer
// bound; a caller wanting exact per-entry ranges should inspect Add's
// return per entry instead). Already-known records are silently
// deduplicated or trimmed to their new suffix (§6).
//
// The whole batch is staged against a working copy first (§4.2/§6: a
// partial merge must never leave the graph half-applied); only once every
// entry resolves and applies cleanly does cg's real fields get replaced
// with the staged result. A mid-batch failure — e.g. entry i+1's parents
// not resolving because an earlier entry in the same diff was dropped or
// reordered — leaves cg completely untouched.
func (cg *CausalGraph) MergePartialVersions(entries []WireEntry) (LVRange, error) {
	staged := cg.cloneForStaging()

	result := LVRange{}
	haveResult := false
	for i, e := range entries {
		parentLVs, err := staged.IdsToLVs(e.Parents)
		if err != nil {
			return LVRange{}, errors.Wrapf(err, "MergePartialVersions: entry %d (%s:%d)", i, e.Agent, e.Seq)
		}
		r, err := staged.Add(e.Agent, e.Seq, e.Seq+e.Len, parentLVs)
		if err != nil {
			return LVRange{}, errors.Wrapf(err, "MergePartialVersions: entry %d (%s:%d)", i, e.Agent, e.Seq)
		}
		if r.Empty() {
			continue
		}
		if !haveResult {
			result = r
			haveResult = true
			continue
		}
		if r.Start < result.Start {
			result.Start = r.Start
		}
		if r.End > result.End {
			result.End = r.End
		}
	}

	cg.Entries = staged.Entries
	cg.AgentToVersion = staged.AgentToVersion
	cg.Heads = staged.Heads
	cg.NextLV = staged.NextLV
	return result, nil
}
