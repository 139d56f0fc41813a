package paxos

// read / write service interface. Reads are served locally under
// a live lease; writes queue a commit completion and drive a
// proposal round

func (p *Paxos) isReadable() bool {
	if p.mon.QuorumSize() == 1 {
		return true
	}
	return (p.mon.IsPeon() || p.mon.IsLeader()) &&
		p.state == STATE_ACTIVE &&
		p.clock.Now().Before(p.leaseExpire)
}

func (p *Paxos) IsReadable() bool {
	var readable bool
	p.enter(func() {
		readable = p.isReadable()
	})
	return readable
}

// returns the value at the given version, if this monitor is
// readable and the version exists
func (p *Paxos) Read(v uint64) ([]byte, bool) {
	var val []byte
	var ok bool
	p.enter(func() {
		if !p.isReadable() {
			return
		}
		if !p.log.exists(v) {
			return
		}
		val = p.log.get(v)
		ok = true
	})
	return val, ok
}

// returns the latest committed version and its value
func (p *Paxos) ReadCurrent() (uint64, []byte, bool) {
	var version uint64
	var val []byte
	var ok bool
	p.enter(func() {
		if !p.isReadable() {
			return
		}
		if !p.log.exists(p.lastCommitted) {
			return
		}
		version = p.lastCommitted
		val = p.log.get(p.lastCommitted)
		ok = true
	})
	return version, val, ok
}

func (p *Paxos) isWriteable() bool {
	if p.mon.QuorumSize() == 1 {
		return true
	}
	return p.mon.IsLeader() &&
		p.state == STATE_ACTIVE &&
		p.clock.Now().Before(p.leaseExpire)
}

func (p *Paxos) IsWriteable() bool {
	var writeable bool
	p.enter(func() {
		writeable = p.isWriteable()
	})
	return writeable
}

// proposes the given value for the next slot. Writeability is a
// hard precondition; callers gate on IsWriteable (or queue on
// WaitForWriteable) first. onCommit fires once the value is
// committed, or with an error if leadership is lost first
func (p *Paxos) ProposeNewValue(value []byte, onCommit Completion) {
	p.enter(func() {
		assert(p.isWriteable(), "propose_new_value while not writeable")

		// cancel lease renewal and timeout events; the commit
		// path re-extends the lease itself
		p.cancelEvents()

		logger.Debug("%v propose_new_value %v (%v bytes)", p.logPrefix(), p.lastCommitted+1, len(value))
		if onCommit != nil {
			p.waitingForCommit = append(p.waitingForCommit, onCommit)
		}
		p.begin(value)
	})
}
