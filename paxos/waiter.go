package paxos

// a deferred completion. Each completion is owned by exactly one
// waiter queue and is signalled at most once, with nil on success
// or an error on failure. Completions run on the caller of the
// handler that signalled them, after the handler lock is
// released, so they may call back into the instance
type Completion func(err error)

type finishedCompletion struct {
	cb  Completion
	err error
}

// moves every completion in the queue onto the finished list,
// to be invoked when the current handler returns
func (p *Paxos) finishWaiters(queue *[]Completion, err error) {
	for _, cb := range *queue {
		p.finished = append(p.finished, finishedCompletion{cb: cb, err: err})
	}
	*queue = nil
}

// the wait calls enqueue unconditionally; callers check the
// condition first (IsReadable and friends) the same way the
// monitor services drive them

func (p *Paxos) WaitForReadable(cb Completion) {
	p.enter(func() {
		p.waitingForReadable = append(p.waitingForReadable, cb)
	})
}

func (p *Paxos) WaitForWriteable(cb Completion) {
	p.enter(func() {
		p.waitingForWriteable = append(p.waitingForWriteable, cb)
	})
}

func (p *Paxos) WaitForActive(cb Completion) {
	p.enter(func() {
		p.waitingForActive = append(p.waitingForActive, cb)
	})
}

func (p *Paxos) WaitForCommit(cb Completion) {
	p.enter(func() {
		p.waitingForCommit = append(p.waitingForCommit, cb)
	})
}
