package causalgraph

import "container/heap"

// lvHeap is a max-heap of LVs, used by the frontier walk shared by Diff and
// FindConflicting (§9: "A standard binary heap suffices").
type lvHeap []LV

func (h lvHeap) Len() int            { return len(h) }
func (h lvHeap) Less(i, j int) bool  { return h[i] > h[j] } // max-heap
func (h lvHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lvHeap) Push(x interface{}) { *h = append(*h, x.(LV)) }
func (h *lvHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

func newLVHeap(lvs []LV) *lvHeap {
	h := make(lvHeap, len(lvs))
	copy(h, lvs)
	heap.Init(&h)
	return &h
}

func (h *lvHeap) push(v LV) { heap.Push(h, v) }
func (h *lvHeap) pop() LV   { return heap.Pop(h).(LV) }
func (h *lvHeap) peek() LV  { return (*h)[0] }

// taggedLV packs an LV with a small flag, ordered primarily by LV, used by
// the dominator search (FindDominators). Packing as v*2+bit
// mirrors §4.2's FindDominators note ("encode (version, isInput) as
// v*2 + (isInput ? 0 : 1) in a max-heap").
type taggedLV struct {
	v   LV
	tag byte
}

type taggedHeap []taggedLV

func (h taggedHeap) Len() int { return len(h) }
func (h taggedHeap) Less(i, j int) bool {
	// Compare the packed v*2+tag key, not just v: at equal v, the ancestor
	// marker (tag == bitAncestor == 1) must pop before the input marker
	// (tag == bitInput == 0), per §4.2's FindDominators packing.
	return h[i].v*2+LV(h[i].tag) > h[j].v*2+LV(h[j].tag)
}
func (h taggedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taggedHeap) Push(x interface{}) {
	*h = append(*h, x.(taggedLV))
}
func (h *taggedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

func newTaggedHeap() *taggedHeap {
	h := &taggedHeap{}
	heap.Init(h)
	return h
}

func (h *taggedHeap) push(v LV, tag byte) { heap.Push(h, taggedLV{v, tag}) }
func (h *taggedHeap) pop() taggedLV       { return heap.Pop(h).(taggedLV) }
