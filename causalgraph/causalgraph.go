package causalgraph

import (
	"container/heap"
	"sort"

	"github.com/pkg/errors"

	"github.com/replayable/reg/rgerr"
)

// sortDedupLVs sorts lvs ascending and removes duplicates in place.
func sortDedupLVs(lvs []LV) []LV {
	if len(lvs) <= 1 {
		return lvs
	}
	sort.Slice(lvs, func(i, j int) bool { return lvs[i] < lvs[j] })
	j := 1
	for i := 1; i < len(lvs); i++ {
		if lvs[i] != lvs[i-1] {
			lvs[j] = lvs[i]
			j++
		}
	}
	return lvs[:j]
}

// Add appends a new span [seqStart, seqEnd) for agent to the graph, per
// §4.2 "Adding entries". parents is the frontier for the first LV of the
// (possibly trimmed) span; if the span is fully known already, Add is a
// no-op and returns an empty range.
func (cg *CausalGraph) Add(agent AgentID, seqStart, seqEnd int, parents []LV) (LVRange, error) {
	if seqEnd < seqStart {
		return LVRange{}, errors.Wrapf(rgerr.ErrInvalidLength, "add: agent %s seq [%d,%d)", agent, seqStart, seqEnd)
	}
	if seqStart == seqEnd {
		return LVRange{}, nil
	}

	clientEntries := cg.AgentToVersion[agent]
	// Step 2: fully duplicate if the span's final seq is already present.
	if idx := sort.Search(len(clientEntries), func(i int) bool {
		return clientEntries[i].SeqEnd > seqEnd-1
	}); idx < len(clientEntries) && clientEntries[idx].Seq <= seqEnd-1 {
		return LVRange{}, nil
	}

	// Step 3: trim a known prefix.
	for _, ce := range clientEntries {
		if ce.Seq <= seqStart && seqStart < ce.SeqEnd {
			// seqStart already covered; this shouldn't happen given the
			// fully-duplicate check above unless seqStart < ce.SeqEnd < seqEnd.
			seqStart = ce.SeqEnd
			parents = []LV{ce.Version + LV(ce.SeqEnd-ce.Seq) - 1}
		}
	}
	if seqStart >= seqEnd {
		return LVRange{}, nil
	}

	parents = sortDedupLVs(append([]LV(nil), parents...))
	length := seqEnd - seqStart
	lvStart := cg.NextLV
	lvEnd := lvStart + LV(length)

	// Step 4: append, RLE-extending the previous entry if possible.
	extended := false
	if n := len(cg.Entries); n > 0 {
		last := &cg.Entries[n-1]
		if last.Agent == agent &&
			last.Seq+last.Len() == seqStart &&
			last.VEnd == lvStart &&
			len(parents) == 1 && parents[0] == lvStart-1 {
			last.VEnd = lvEnd
			extended = true
		}
	}
	if !extended {
		cg.Entries = append(cg.Entries, CGEntry{
			Version: lvStart,
			VEnd:    lvEnd,
			Agent:   agent,
			Seq:     seqStart,
			Parents: parents,
		})
	}
	cg.NextLV = lvEnd

	// Step 5: insert/extend the ClientEntry.
	cg.AgentToVersion[agent] = pushClientEntry(cg.AgentToVersion[agent], ClientEntry{
		Seq:     seqStart,
		SeqEnd:  seqEnd,
		Version: lvStart,
	})

	// Step 6: recompute heads.
	cg.Heads = recomputeHeads(cg.Heads, parents, lvEnd-1)

	return LVRange{Start: lvStart, End: lvEnd}, nil
}

// pushClientEntry inserts ce into entries (sorted ascending by Seq),
// RLE-merging with an adjacent run when contiguous in both seq and LV.
func pushClientEntry(entries []ClientEntry, ce ClientEntry) []ClientEntry {
	if n := len(entries); n > 0 {
		last := &entries[n-1]
		if last.SeqEnd == ce.Seq && last.Version+LV(last.SeqEnd-last.Seq) == ce.Version {
			last.SeqEnd = ce.SeqEnd
			return entries
		}
	}
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Seq >= ce.Seq })
	entries = append(entries, ClientEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = ce
	return entries
}

func recomputeHeads(heads []LV, parents []LV, newTip LV) []LV {
	out := make([]LV, 0, len(heads)+1)
	for _, h := range heads {
		isParent := false
		for _, p := range parents {
			if h == p {
				isParent = true
				break
			}
		}
		if !isParent {
			out = append(out, h)
		}
	}
	out = append(out, newTip)
	return sortDedupLVs(out)
}

// IsAncestor reports whether anc is an ancestor of (or equal to a member of)
// frontier.
func (cg *CausalGraph) IsAncestor(frontier []LV, anc LV) (bool, error) {
	for _, v := range frontier {
		if v == anc {
			return true, nil
		}
	}
	if len(frontier) == 0 {
		return false, nil
	}
	queue := append([]LV(nil), frontier...)
	visited := make(map[LV]struct{})
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
		if v == anc {
			return true, nil
		}
		entry, offset, ok := cg.findEntryContaining(v)
		if !ok {
			return false, errors.Wrapf(rgerr.ErrUnknownVersion, "IsAncestor: lv %d", v)
		}
		for _, p := range entry.ParentsAt(offset) {
			if p >= 0 {
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// CompareVersions reports the causal relation between a and b.
func (cg *CausalGraph) CompareVersions(a, b LV) (Relation, error) {
	if a == b {
		return RelationEqual, nil
	}
	aAnc, err := cg.IsAncestor([]LV{b}, a)
	if err != nil {
		return 0, err
	}
	if aAnc {
		return RelationAncestor, nil
	}
	bAnc, err := cg.IsAncestor([]LV{a}, b)
	if err != nil {
		return 0, err
	}
	if bAnc {
		return RelationDescendant, nil
	}
	return RelationConcurrent, nil
}

// diffTag marks which side(s) of a two-frontier diff an LV belongs to.
type diffTag byte

const (
	tagA diffTag = iota + 1
	tagB
	tagShared
)

// threeWayWalk is the 3-state priority-queue frontier walk of §4.2's Diff,
// shared by Diff and FindConflicting. It returns, for every LV reachable
// from a or b, its final tag, in the form of per-tag LV sets (as single-LV
// ranges in descending discovery order — callers coalesce/reverse as
// needed).
func (cg *CausalGraph) threeWayWalk(a, b []LV) (aOnly, bOnly []LV, shared []LV, err error) {
	flags := make(map[LV]diffTag)
	h := &lvHeap{}
	heap.Init(h)
	nonShared := 0

	enqueue := func(v LV, tag diffTag) {
		if v < 0 {
			return
		}
		cur, exists := flags[v]
		if !exists {
			flags[v] = tag
			heap.Push(h, v)
			if tag != tagShared {
				nonShared++
			}
			return
		}
		if cur == tagShared || cur == tag {
			return
		}
		flags[v] = tagShared
		nonShared--
	}

	for _, v := range a {
		enqueue(v, tagA)
	}
	for _, v := range b {
		enqueue(v, tagB)
	}

	for nonShared > 0 && h.Len() > 0 {
		v := h.pop()
		tag := flags[v]
		entry, offset, ok := cg.findEntryContaining(v)
		if !ok {
			return nil, nil, nil, errors.Wrapf(rgerr.ErrUnknownVersion, "diff: lv %d", v)
		}
		switch tag {
		case tagA:
			aOnly = append(aOnly, v)
		case tagB:
			bOnly = append(bOnly, v)
		case tagShared:
			shared = append(shared, v)
		}
		for _, p := range entry.ParentsAt(offset) {
			enqueue(p, tag)
		}
	}
	return aOnly, bOnly, shared, nil
}

// lvsToRanges converts a descending-discovery-order list of single LVs into
// ascending, merged LVRanges.
func lvsToRanges(lvs []LV) []LVRange {
	if len(lvs) == 0 {
		return nil
	}
	sorted := append([]LV(nil), lvs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := []LVRange{{Start: sorted[0], End: sorted[0] + 1}}
	for _, v := range sorted[1:] {
		last := &out[len(out)-1]
		if v == last.End {
			last.End = v + 1
		} else if v >= last.Start && v < last.End {
			continue
		} else {
			out = append(out, LVRange{Start: v, End: v + 1})
		}
	}
	return out
}

// Diff computes, for two frontiers a and b, the LV ranges known only to a
// and only to b (§4.2).
func (cg *CausalGraph) Diff(a, b []LV) (DiffResult, error) {
	aOnly, bOnly, _, err := cg.threeWayWalk(a, b)
	if err != nil {
		return DiffResult{}, err
	}
	return DiffResult{AOnly: lvsToRanges(aOnly), BOnly: lvsToRanges(bOnly)}, nil
}

// FindDominators returns the subset of versions that are not an ancestor of
// any other member (§4.2).
func (cg *CausalGraph) FindDominators(versions []LV) ([]LV, error) {
	uniq := sortDedupLVs(append([]LV(nil), versions...))
	if len(uniq) == 0 {
		return []LV{}, nil
	}
	if len(uniq) <= 2 {
		if len(uniq) == 1 {
			return []LV{uniq[0]}, nil
		}
		a, b := uniq[0], uniq[1]
		rel, err := cg.CompareVersions(a, b)
		if err != nil {
			return nil, err
		}
		switch rel {
		case RelationAncestor:
			return []LV{b}, nil
		case RelationDescendant:
			return []LV{a}, nil
		default:
			return []LV{a, b}, nil
		}
	}

	// Pack (v, isInput) into a max-heap; see causalgraph/heap.go.
	const (
		bitInput    byte = 0
		bitAncestor byte = 1
	)
	h := newTaggedHeap()
	remainingInputs := len(uniq)
	isCandidate := make(map[LV]bool, len(uniq))
	for _, v := range uniq {
		isCandidate[v] = true
		h.push(v, bitInput)
	}
	visitedAncestor := make(map[LV]bool)
	var dominators []LV

	for remainingInputs > 0 {
		if h.Len() == 0 {
			return nil, errors.Wrap(rgerr.ErrCorruptState, "FindDominators: heap exhausted with inputs remaining")
		}
		item := h.pop()
		v, bit := item.v, item.tag
		entry, offset, ok := cg.findEntryContaining(v)
		if !ok {
			return nil, errors.Wrapf(rgerr.ErrUnknownVersion, "FindDominators: lv %d", v)
		}
		if bit == bitInput {
			if isCandidate[v] {
				dominators = append(dominators, v)
			}
			remainingInputs--
			for _, p := range entry.ParentsAt(offset) {
				if p >= 0 {
					h.push(p, bitAncestor)
				}
			}
			continue
		}
		// Ancestor marker.
		if visitedAncestor[v] {
			continue
		}
		visitedAncestor[v] = true
		isCandidate[v] = false
		for _, p := range entry.ParentsAt(offset) {
			if p >= 0 {
				h.push(p, bitAncestor)
			}
		}
	}
	return sortDedupLVs(dominators), nil
}

// ConflictFlag tags a range emitted by FindConflicting's visitor.
type ConflictFlag byte

const (
	ConflictA ConflictFlag = iota
	ConflictB
	ConflictShared
)

// FindConflicting walks backward from both frontiers simultaneously,
// emitting single-LV ranges via visit (all ConflictA ranges, then all
// ConflictB, then all ConflictShared; each group in descending LV order),
// and returns the LV frontier of the greatest common ancestor (§4.2).
func (cg *CausalGraph) FindConflicting(a, b []LV, visit func(r LVRange, flag ConflictFlag)) ([]LV, error) {
	aOnly, bOnly, shared, err := cg.threeWayWalk(a, b)
	if err != nil {
		return nil, err
	}
	if visit != nil {
		for _, v := range aOnly {
			visit(LVRange{Start: v, End: v + 1}, ConflictA)
		}
		for _, v := range bOnly {
			visit(LVRange{Start: v, End: v + 1}, ConflictB)
		}
		for _, v := range shared {
			visit(LVRange{Start: v, End: v + 1}, ConflictShared)
		}
	}
	if len(shared) == 0 {
		return []LV{}, nil
	}
	return cg.FindDominators(shared)
}

// IterVersionsBetween yields CGEntries (clipped at both ends as needed)
// covering [start, end) in ascending LV order (§4.2 "Topological
// iteration"). Entries are append-only and globally LV-ordered, so this is
// a linear scan, not a graph walk.
func (cg *CausalGraph) IterVersionsBetween(start, end LV, fn func(e CGEntry) (stop bool, err error)) error {
	if start >= end {
		return nil
	}
	if start < 0 || end > cg.NextLV {
		return errors.Wrapf(rgerr.ErrUnknownVersion, "IterVersionsBetween: range [%d,%d) out of bounds (nextLV=%d)", start, end, cg.NextLV)
	}
	idx := sort.Search(len(cg.Entries), func(i int) bool {
		return cg.Entries[i].VEnd > start
	})
	for ; idx < len(cg.Entries); idx++ {
		entry := cg.Entries[idx]
		if entry.Version >= end {
			break
		}
		lo := entry.Version
		if lo < start {
			lo = start
		}
		hi := entry.VEnd
		if hi > end {
			hi = end
		}
		offset := int(lo - entry.Version)
		clipped := CGEntry{
			Version: lo,
			VEnd:    hi,
			Agent:   entry.Agent,
			Seq:     entry.Seq + offset,
			Parents: entry.ParentsAt(offset),
		}
		stop, err := fn(clipped)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}
