package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replayable/reg/causalgraph"
	"github.com/replayable/reg/oplog"
)

func mustSnapshot(t *testing.T, log *oplog.OpLog[rune]) string {
	t.Helper()
	snap, err := CheckoutSimple(log)
	require.NoError(t, err)
	return string(snap)
}

// Scenario 1: linear inserts, no concurrency.
func TestWalk_LinearInserts(t *testing.T) {
	log := oplog.New[rune]()
	for i, r := range []rune("hello") {
		_, err := log.LocalInsert("u1", i, r)
		require.NoError(t, err)
	}
	assert.Equal(t, "hello", mustSnapshot(t, log))
}

// Scenario 2: concurrent insert-at-start, (agent,seq) tie-break decides order.
func TestWalk_ConcurrentInsertTieBreak(t *testing.T) {
	base := oplog.New[rune]()

	u1 := oplog.New[rune]()
	u2 := oplog.New[rune]()
	_, err := u1.LocalInsert("u1", 0, 'A')
	require.NoError(t, err)
	_, err = u2.LocalInsert("u2", 0, 'B')
	require.NoError(t, err)

	require.NoError(t, oplog.MergeOplogInto(base, u1))
	require.NoError(t, oplog.MergeOplogInto(base, u2))

	assert.Equal(t, "AB", mustSnapshot(t, base))
}

// Scenario 3: interleave-safe concurrent runs of multiple characters.
func TestWalk_ConcurrentRunsInterleaveSafe(t *testing.T) {
	base := oplog.New[rune]()

	peerHello := oplog.New[rune]()
	peerWorld := oplog.New[rune]()
	for i, r := range []rune("hello") {
		_, err := peerHello.LocalInsert("hello", i, r)
		require.NoError(t, err)
	}
	for i, r := range []rune("world") {
		_, err := peerWorld.LocalInsert("world", i, r)
		require.NoError(t, err)
	}

	require.NoError(t, oplog.MergeOplogInto(base, peerHello))
	require.NoError(t, oplog.MergeOplogInto(base, peerWorld))

	snap := mustSnapshot(t, base)
	// Fugue guarantees each run stays contiguous and in its own relative
	// order; it does not interleave "hello" and "world" character-by-character.
	assert.Contains(t, []string{"helloworld", "worldhello"}, snap)
}

// Scenario 4: concurrent delete of the same character reaches DoubleDeleted
// (curState > 1) once both branches are merged, not a CorruptState error.
func TestWalk_ConcurrentDoubleDelete(t *testing.T) {
	base := oplog.New[rune]()
	_, err := base.LocalInsert("base", 0, 'X')
	require.NoError(t, err)

	u1 := oplog.New[rune]()
	u2 := oplog.New[rune]()
	require.NoError(t, requirePushGenesis(u1, base))
	require.NoError(t, requirePushGenesis(u2, base))

	_, err = u1.LocalDelete("u1", 0, 1)
	require.NoError(t, err)
	_, err = u2.LocalDelete("u2", 0, 1)
	require.NoError(t, err)

	require.NoError(t, oplog.MergeOplogInto(base, u1))
	require.NoError(t, oplog.MergeOplogInto(base, u2))

	assert.Equal(t, "", mustSnapshot(t, base))
}

func requirePushGenesis(dst, src *oplog.OpLog[rune]) error {
	id := causalgraph.RawVersion{Agent: "base", Seq: 0}
	_, err := dst.PushRemoteOp(id, nil, src.Ops[0])
	return err
}

// Scenario 5: delete racing a concurrent insert at the same position.
func TestWalk_DeleteConcurrentWithInsert(t *testing.T) {
	base := oplog.New[rune]()
	_, err := base.LocalInsert("base", 0, 'X')
	require.NoError(t, err)

	deleter := oplog.New[rune]()
	inserter := oplog.New[rune]()
	require.NoError(t, requirePushGenesis(deleter, base))
	require.NoError(t, requirePushGenesis(inserter, base))

	_, err = deleter.LocalDelete("d", 0, 1)
	require.NoError(t, err)
	_, err = inserter.LocalInsert("i", 0, 'Y')
	require.NoError(t, err)

	require.NoError(t, oplog.MergeOplogInto(base, deleter))
	require.NoError(t, oplog.MergeOplogInto(base, inserter))

	assert.Equal(t, "Y", mustSnapshot(t, base))
}

// Scenario 6: BranchMerge extends a checked-out branch without re-replaying
// the shared prefix, matching a from-scratch checkout at the same version.
func TestBranchMerge_MatchesFromScratchCheckout(t *testing.T) {
	log := oplog.New[rune]()
	for i, r := range []rune("abc") {
		_, err := log.LocalInsert("u1", i, r)
		require.NoError(t, err)
	}

	branchVersion, err := log.GetLatestVersion()
	require.NoError(t, err)
	branchLVs, err := log.CG.IdsToLVs(branchVersion)
	require.NoError(t, err)

	branch, err := Checkout(log)
	require.NoError(t, err)
	require.Equal(t, "abc", string(branch.Snapshot))
	require.ElementsMatch(t, branchLVs, branch.Version)

	_, err = log.LocalInsert("u1", 1, 'X')
	require.NoError(t, err)

	mergeVersion := log.CG.Heads
	require.NoError(t, MergeChangesIntoBranch(log, branch, mergeVersion))

	assert.Equal(t, "aXbc", string(branch.Snapshot))

	want, err := CheckoutSimple(log)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(branch.Snapshot))
}

func TestCreateEmptyBranch(t *testing.T) {
	b := CreateEmptyBranch[rune]()
	assert.Empty(t, b.Snapshot)
	assert.Empty(t, b.Version)
}
