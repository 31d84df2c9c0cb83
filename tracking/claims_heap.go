package tracking

// claim holds a current object with its best IoA score and the previous object it points to
type claim struct {
	score  float64
	row    int
	col    int
	currID int
	index  int
}

// claimHeap implements heap.Interface: max-heap by score, ties broken by smaller current ID
type claimHeap []*claim

func (h claimHeap) Len() int { return len(h) }

// Less returns true if i has higher score (max-heap). Equal scores pop smaller raw label first
func (h claimHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].currID < h[j].currID
}

func (h claimHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *claimHeap) Push(x any) {
	n := len(*h)
	item := x.(*claim)
	item.index = n
	*h = append(*h, item)
}

func (h *claimHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}
