package eventbus

import "container/heap"

// queueItem pairs an event with its enqueue sequence number. The sequence
// number breaks priority ties so delivery is FIFO within a priority level.
type queueItem struct {
	event Event
	seq   uint64
}

// priorityQueue is a min-heap ordered by (priority, sequence number).
type priorityQueue []queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].event.Priority != q[j].event.Priority {
		return q[i].event.Priority < q[j].event.Priority
	}
	return q[i].seq < q[j].seq
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x interface{}) {
	*q = append(*q, x.(queueItem))
}

func (q *priorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*q = old[:n-1]
	return item
}

// push adds an item maintaining heap order.
func (q *priorityQueue) push(item queueItem) {
	heap.Push(q, item)
}

// pop removes and returns the highest-priority, oldest item.
func (q *priorityQueue) pop() queueItem {
	return heap.Pop(q).(queueItem)
}
