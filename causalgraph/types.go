// Package causalgraph implements the IdSpace and CausalGraph components of
// the reg core: a run-length encoded, indexed join-semilattice of
// (agent, seq) identifiers with per-entry parent frontiers.
package causalgraph

// AgentID identifies a peer. Uniqueness is the caller's responsibility.
type AgentID string

// RawVersion is an external identifier: an (agent, seq) pair. Globally
// unique per peer; Seq is monotonic per agent.
type RawVersion struct {
	Agent AgentID
	Seq   int
}

// LV (Local Version) is a non-negative integer assigned in append order
// within a single process. It is never shared between peers.
type LV int

// LVRange is a half-open [Start, End) range of LVs.
type LVRange struct {
	Start LV
	End   LV
}

// Len reports the number of LVs spanned by the range.
func (r LVRange) Len() int { return int(r.End - r.Start) }

// Empty reports whether the range spans no LVs.
func (r LVRange) Empty() bool { return r.End <= r.Start }

// CGEntry is a run-length encoded span of the causal graph: a contiguous
// run of LVs created by one agent, with a single parent frontier for the
// first LV in the run (every subsequent LV's sole parent is its immediate
// predecessor).
type CGEntry struct {
	Version LV      // Starting LV of this entry.
	VEnd    LV      // Ending LV (exclusive).
	Agent   AgentID // Agent that created this run.
	Seq     int     // Starting sequence number of this run.
	Parents []LV    // Parents of the first LV in this entry.
}

// Len reports the number of LVs spanned by the entry.
func (e CGEntry) Len() int { return int(e.VEnd - e.Version) }

// ParentsAt returns the parents of the LV at the given offset within this
// entry (0 == Version). Offsets beyond 0 always have a sole parent: the
// immediately preceding LV.
func (e CGEntry) ParentsAt(offset int) []LV {
	if offset == 0 {
		return e.Parents
	}
	return []LV{e.Version + LV(offset) - 1}
}

// ClientEntry is a run-length encoded span of an agent's own seq space,
// recording which LV run it maps to.
type ClientEntry struct {
	Seq     int // Starting sequence number of this run.
	SeqEnd  int // Ending sequence number (exclusive).
	Version LV  // LV of the first item in this run.
}

// VersionSummary maps an agent to a run-length merged, ascending list of
// [seqStart, seqEnd) ranges known for that agent.
type VersionSummary map[AgentID][][2]int

// CausalGraph is the join-semilattice of operation identifiers with
// parents: entries, the per-agent index, and the current frontier (heads).
type CausalGraph struct {
	// Entries is gapless and sorted ascending by LV (invariant I1).
	Entries []CGEntry
	// AgentToVersion maps an agent to its ClientEntry runs, seq-sorted.
	AgentToVersion map[AgentID][]ClientEntry
	// Heads is the current frontier: an antichain of LVs with no
	// LV-descendant, sorted ascending.
	Heads []LV
	// NextLV is the next local version to be assigned.
	NextLV LV
}

// New creates an empty CausalGraph.
func New() *CausalGraph {
	return &CausalGraph{
		AgentToVersion: make(map[AgentID][]ClientEntry),
	}
}

// DiffResult is the output of a two-frontier diff: the LV ranges known only
// to a, only to b, in ascending order with adjacent ranges merged.
type DiffResult struct {
	AOnly []LVRange
	BOnly []LVRange
}

// Relation describes the causal relationship between two versions.
type Relation int

const (
	RelationEqual Relation = iota
	RelationAncestor
	RelationDescendant
	RelationConcurrent
)

// WireEntry is one record of the wire sync-diff format: an RLE run plus
// its parents expressed as portable Ids.
type WireEntry struct {
	Agent   AgentID
	Seq     int
	Len     int
	Parents []RawVersion
}
