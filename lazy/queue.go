package lazy

// activationQueue is a heap of queued items ordered by (priority,
// registration sequence): within a priority class items drain in
// registration order, and a higher class always drains ahead of a lower
// one.
type activationQueue []*item

func (q activationQueue) Len() int { return len(q) }

func (q activationQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q activationQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *activationQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *activationQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}
