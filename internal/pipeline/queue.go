package pipeline

import "sync"

type task struct {
	itemID  string
	attempt int
}

// workQueue hands each queued task to exactly one worker.
type workQueue struct {
	mu    sync.Mutex
	tasks []task
}

func newWorkQueue(itemIDs []string) *workQueue {
	tasks := make([]task, 0, len(itemIDs))
	for _, id := range itemIDs {
		tasks = append(tasks, task{itemID: id, attempt: 1})
	}
	return &workQueue{tasks: tasks}
}

func (q *workQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return task{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// pushFront makes t the next task handed out.
func (q *workQueue) pushFront(t task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append([]task{t}, q.tasks...)
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
