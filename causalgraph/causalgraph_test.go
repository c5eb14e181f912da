package causalgraph

import (
	"reflect"
	"sort"
	"testing"
)

// compareLVSlices checks two LV slices for equality up to ordering.
func compareLVSlices(t *testing.T, got, want []LV) {
	t.Helper()
	gotCopy := append([]LV(nil), got...)
	wantCopy := append([]LV(nil), want...)
	sort.Slice(gotCopy, func(i, j int) bool { return gotCopy[i] < gotCopy[j] })
	sort.Slice(wantCopy, func(i, j int) bool { return wantCopy[i] < wantCopy[j] })
	if len(gotCopy) == 0 && len(wantCopy) == 0 {
		return
	}
	if !reflect.DeepEqual(gotCopy, wantCopy) {
		t.Errorf("LV slice mismatch:\ngot:  %v\nwant: %v", gotCopy, wantCopy)
	}
}

func compareLVRanges(t *testing.T, got, want []LVRange) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LVRange slice mismatch:\ngot:  %+v\nwant: %+v", got, want)
	}
}

func TestAdd_SingleAgentLinear(t *testing.T) {
	cg := New()
	r1, err := cg.Add("a", 0, 1, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r1 != (LVRange{0, 1}) {
		t.Errorf("r1 = %+v, want {0 1}", r1)
	}
	r2, err := cg.Add("a", 1, 2, []LV{0})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r2 != (LVRange{1, 2}) {
		t.Errorf("r2 = %+v, want {1 2}", r2)
	}
	// The two runs should have RLE-merged into a single entry.
	if len(cg.Entries) != 1 {
		t.Fatalf("expected entries to merge into 1 run, got %d: %+v", len(cg.Entries), cg.Entries)
	}
	if cg.Entries[0].VEnd != 2 {
		t.Errorf("merged entry VEnd = %d, want 2", cg.Entries[0].VEnd)
	}
	compareLVSlices(t, cg.Heads, []LV{1})
}

func TestAdd_DuplicateIsNoop(t *testing.T) {
	cg := New()
	if _, err := cg.Add("a", 0, 2, nil); err != nil {
		t.Fatal(err)
	}
	r, err := cg.Add("a", 0, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Empty() {
		t.Errorf("expected duplicate add to be a no-op, got %+v", r)
	}
	if cg.NextLV != 2 {
		t.Errorf("NextLV changed on duplicate add: %d", cg.NextLV)
	}
}

func TestAdd_PartialDuplicateTrims(t *testing.T) {
	cg := New()
	if _, err := cg.Add("a", 0, 2, nil); err != nil {
		t.Fatal(err)
	}
	r, err := cg.Add("a", 0, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r != (LVRange{2, 4}) {
		t.Errorf("expected trimmed range {2 4}, got %+v", r)
	}
}

func TestIdSpace_RoundTrip(t *testing.T) {
	cg := New()
	if _, err := cg.Add("a", 0, 3, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cg.Add("b", 0, 2, []LV{2}); err != nil {
		t.Fatal(err)
	}
	for lv := LV(0); lv < cg.NextLV; lv++ {
		id, err := cg.LVToId(lv)
		if err != nil {
			t.Fatalf("LVToId(%d): %v", lv, err)
		}
		back, err := cg.IdToLV(id.Agent, id.Seq)
		if err != nil {
			t.Fatalf("IdToLV(%v): %v", id, err)
		}
		if back != lv {
			t.Errorf("round trip lv %d -> %v -> %d", lv, id, back)
		}
	}
	if _, err := cg.LVToId(99); err == nil {
		t.Error("expected error for out-of-range lv")
	}
	if _, err := cg.IdToLV("nope", 0); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestDiff_ConcurrentBranches(t *testing.T) {
	cg := New()
	// Shared genesis op at LV 0.
	if _, err := cg.Add("base", 0, 1, nil); err != nil {
		t.Fatal(err)
	}
	// Two concurrent children of LV 0.
	if _, err := cg.Add("a", 0, 2, []LV{0}); err != nil {
		t.Fatal(err)
	} // LV 1,2
	if _, err := cg.Add("b", 0, 1, []LV{0}); err != nil {
		t.Fatal(err)
	} // LV 3

	d, err := cg.Diff([]LV{2}, []LV{3})
	if err != nil {
		t.Fatal(err)
	}
	compareLVRanges(t, d.AOnly, []LVRange{{1, 3}})
	compareLVRanges(t, d.BOnly, []LVRange{{3, 4}})
}

func TestDiff_EmptyVsNonEmpty(t *testing.T) {
	cg := New()
	if _, err := cg.Add("a", 0, 2, nil); err != nil {
		t.Fatal(err)
	}
	d, err := cg.Diff(nil, []LV{1})
	if err != nil {
		t.Fatal(err)
	}
	if len(d.AOnly) != 0 {
		t.Errorf("expected no AOnly, got %+v", d.AOnly)
	}
	compareLVRanges(t, d.BOnly, []LVRange{{0, 2}})
}

func TestFindDominators(t *testing.T) {
	cg := New()
	if _, err := cg.Add("base", 0, 1, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cg.Add("a", 0, 1, []LV{0}); err != nil {
		t.Fatal(err)
	} // LV1
	if _, err := cg.Add("b", 0, 1, []LV{0}); err != nil {
		t.Fatal(err)
	} // LV2
	if _, err := cg.Add("c", 0, 1, []LV{1, 2}); err != nil {
		t.Fatal(err)
	} // LV3, merges 1,2

	// Dominators of {0,1,2} should be {1,2} since 0 is their common ancestor.
	doms, err := cg.FindDominators([]LV{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	compareLVSlices(t, doms, []LV{1, 2})

	// Dominators of {1,2,3} should be just {3} since 3 descends from both.
	doms2, err := cg.FindDominators([]LV{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	compareLVSlices(t, doms2, []LV{3})
}

func TestFindConflicting(t *testing.T) {
	cg := New()
	if _, err := cg.Add("base", 0, 1, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cg.Add("a", 0, 1, []LV{0}); err != nil {
		t.Fatal(err)
	} // LV1
	if _, err := cg.Add("b", 0, 1, []LV{0}); err != nil {
		t.Fatal(err)
	} // LV2

	var aRanges, bRanges []LVRange
	common, err := cg.FindConflicting([]LV{1}, []LV{2}, func(r LVRange, flag ConflictFlag) {
		switch flag {
		case ConflictA:
			aRanges = append(aRanges, r)
		case ConflictB:
			bRanges = append(bRanges, r)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	compareLVSlices(t, common, []LV{0})
	compareLVRanges(t, aRanges, []LVRange{{1, 2}})
	compareLVRanges(t, bRanges, []LVRange{{2, 3}})
}

func TestIterVersionsBetween_ClipsParents(t *testing.T) {
	cg := New()
	if _, err := cg.Add("a", 0, 3, nil); err != nil {
		t.Fatal(err)
	} // LV 0,1,2, one RLE entry
	var got []CGEntry
	err := cg.IterVersionsBetween(1, 3, func(e CGEntry) (bool, error) {
		got = append(got, e)
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 clipped entry, got %d: %+v", len(got), got)
	}
	if got[0].Version != 1 || got[0].VEnd != 3 {
		t.Errorf("clipped entry range = [%d,%d), want [1,3)", got[0].Version, got[0].VEnd)
	}
	if len(got[0].Parents) != 1 || got[0].Parents[0] != 0 {
		t.Errorf("clipped entry parents = %v, want [0]", got[0].Parents)
	}
}

func TestSerializeDiff_MergePartialVersions_RoundTrip(t *testing.T) {
	src := New()
	if _, err := src.Add("a", 0, 2, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Add("b", 0, 1, []LV{1}); err != nil {
		t.Fatal(err)
	}

	entries, err := src.SerializeDiff([]LVRange{{0, src.NextLV}})
	if err != nil {
		t.Fatal(err)
	}

	dest := New()
	r, err := dest.MergePartialVersions(entries)
	if err != nil {
		t.Fatal(err)
	}
	if r != (LVRange{0, 3}) {
		t.Errorf("merge result = %+v, want {0 3}", r)
	}

	// Idempotence of sync: re-merging the same diff is a no-op.
	r2, err := dest.MergePartialVersions(entries)
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Empty() {
		t.Errorf("expected idempotent re-merge to be a no-op, got %+v", r2)
	}
	compareLVSlices(t, dest.Heads, src.Heads)
}

func TestMergePartialVersions_MissingParentFails(t *testing.T) {
	dest := New()
	_, err := dest.MergePartialVersions([]WireEntry{
		{Agent: "a", Seq: 5, Len: 1, Parents: []RawVersion{{Agent: "ghost", Seq: 0}}},
	})
	if err == nil {
		t.Fatal("expected MissingParents error")
	}
}

func TestSummarizeVersion_IntersectWithSummary(t *testing.T) {
	cg := New()
	if _, err := cg.Add("a", 0, 2, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cg.Add("b", 0, 1, []LV{1}); err != nil {
		t.Fatal(err)
	}

	summary, err := cg.SummarizeVersion([]LV{1})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary["a"]) != 1 || summary["a"][0] != [2]int{0, 2} {
		t.Errorf("summary[a] = %v, want [[0 2]]", summary["a"])
	}

	common, err := cg.IntersectWithSummary(summary)
	if err != nil {
		t.Fatal(err)
	}
	compareLVSlices(t, common, []LV{1})
}
