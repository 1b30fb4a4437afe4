package jobs

const minWorkingSetCap = 16

// WorkingSet is a FIFO of in-flight jobs backed by a growable ring buffer.
// Newly submitted jobs and jobs still running after a poll go to the back;
// a sweep takes from the front.
type WorkingSet struct {
	buf  []*Job
	head int
	size int
}

func NewWorkingSet() *WorkingSet {
	return &WorkingSet{buf: make([]*Job, minWorkingSetCap)}
}

func (w *WorkingSet) Len() int {
	return w.size
}

func (w *WorkingSet) PushBack(job *Job) {
	w.grow()
	w.buf[(w.head+w.size)%len(w.buf)] = job
	w.size++
}

// PushFront returns a job to the head of the queue, ahead of every other job.
func (w *WorkingSet) PushFront(job *Job) {
	w.grow()
	w.head = (w.head - 1 + len(w.buf)) % len(w.buf)
	w.buf[w.head] = job
	w.size++
}

func (w *WorkingSet) PopFront() (*Job, bool) {
	if w.size == 0 {
		return nil, false
	}
	job := w.buf[w.head]
	w.buf[w.head] = nil
	w.head = (w.head + 1) % len(w.buf)
	w.size--
	return job, true
}

// Jobs lists the queued jobs front to back.
func (w *WorkingSet) Jobs() []*Job {
	ret := make([]*Job, 0, w.size)
	for i := range w.size {
		ret = append(ret, w.buf[(w.head+i)%len(w.buf)])
	}
	return ret
}

func (w *WorkingSet) grow() {
	if len(w.buf) == 0 {
		w.buf = make([]*Job, minWorkingSetCap)
		return
	}
	if w.size < len(w.buf) {
		return
	}
	next := make([]*Job, len(w.buf)*2)
	copy(next, w.Jobs())
	w.buf = next
	w.head = 0
}
