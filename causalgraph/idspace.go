package causalgraph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/replayable/reg/rgerr"
)

// NextSeqForAgent returns the smallest seq not yet assigned for agent (0 if
// the agent is unseen).
func (cg *CausalGraph) NextSeqForAgent(agent AgentID) int {
	entries := cg.AgentToVersion[agent]
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].SeqEnd
}

// findEntryContaining binary-searches Entries for the CGEntry containing v,
// returning the entry, v's offset within it, and whether it was found.
func (cg *CausalGraph) findEntryContaining(v LV) (*CGEntry, int, bool) {
	if v < 0 || v >= cg.NextLV {
		return nil, -1, false
	}
	idx := sort.Search(len(cg.Entries), func(i int) bool {
		return cg.Entries[i].VEnd > v
	})
	if idx >= len(cg.Entries) || cg.Entries[idx].Version > v {
		return nil, -1, false
	}
	entry := &cg.Entries[idx]
	return entry, int(v - entry.Version), true
}

// findEntryContainingRaw binary-searches an agent's ClientEntries for the
// run containing seq, then the corresponding CGEntry.
func (cg *CausalGraph) findEntryContainingRaw(agent AgentID, seq int) (*CGEntry, int, bool) {
	clientEntries, ok := cg.AgentToVersion[agent]
	if !ok {
		return nil, -1, false
	}
	idx := sort.Search(len(clientEntries), func(i int) bool {
		return clientEntries[i].SeqEnd > seq
	})
	if idx >= len(clientEntries) || clientEntries[idx].Seq > seq {
		return nil, -1, false
	}
	ce := clientEntries[idx]
	lv := ce.Version + LV(seq-ce.Seq)
	return cg.findEntryContaining(lv)
}

// LVToId converts an LV to its portable RawVersion. Fails with
// ErrUnknownVersion if lv is out of range.
func (cg *CausalGraph) LVToId(lv LV) (RawVersion, error) {
	entry, offset, ok := cg.findEntryContaining(lv)
	if !ok {
		return RawVersion{}, errors.Wrapf(rgerr.ErrUnknownVersion, "lv %d", lv)
	}
	return RawVersion{Agent: entry.Agent, Seq: entry.Seq + offset}, nil
}

// TryLVToId is LVToId without the error: ok is false if lv is unknown.
func (cg *CausalGraph) TryLVToId(lv LV) (RawVersion, bool) {
	entry, offset, ok := cg.findEntryContaining(lv)
	if !ok {
		return RawVersion{}, false
	}
	return RawVersion{Agent: entry.Agent, Seq: entry.Seq + offset}, true
}

// IdToLV converts a portable (agent, seq) pair to its LV. Fails with
// ErrUnknownVersion if the agent is unseen or the seq is not covered.
func (cg *CausalGraph) IdToLV(agent AgentID, seq int) (LV, error) {
	entry, offset, ok := cg.findEntryContainingRaw(agent, seq)
	if !ok {
		return -1, errors.Wrapf(rgerr.ErrUnknownVersion, "id %s:%d", agent, seq)
	}
	return entry.Version + LV(offset), nil
}

// TryIdToLV is IdToLV without the error.
func (cg *CausalGraph) TryIdToLV(agent AgentID, seq int) (LV, bool) {
	entry, offset, ok := cg.findEntryContainingRaw(agent, seq)
	if !ok {
		return -1, false
	}
	return entry.Version + LV(offset), true
}

// LVToIdList converts a slice of LVs to RawVersions, failing on the first
// unknown LV.
func (cg *CausalGraph) LVToIdList(lvs []LV) ([]RawVersion, error) {
	if len(lvs) == 0 {
		return nil, nil
	}
	out := make([]RawVersion, len(lvs))
	for i, lv := range lvs {
		rv, err := cg.LVToId(lv)
		if err != nil {
			return nil, errors.Wrapf(err, "LVToIdList: index %d", i)
		}
		out[i] = rv
	}
	return out, nil
}

// IdsToLVs resolves a slice of RawVersions to LVs, failing with
// ErrMissingParents (not ErrUnknownVersion) if any is absent — this is the
// resolution path used when ingesting remote data, where an absent parent
// is a MissingParents condition rather than a plain lookup miss.
func (cg *CausalGraph) IdsToLVs(ids []RawVersion) ([]LV, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]LV, len(ids))
	for i, id := range ids {
		lv, ok := cg.TryIdToLV(id.Agent, id.Seq)
		if !ok {
			return nil, errors.Wrapf(rgerr.ErrMissingParents, "parent %s:%d not known", id.Agent, id.Seq)
		}
		out[i] = lv
	}
	return out, nil
}
