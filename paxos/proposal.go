package paxos

const LAST_PROPOSAL_KEY = "last_paxos_proposal"

// returns a globally unique, monotonically increasing proposal
// number. Uniqueness across monitors comes from embedding the
// monitor id in the low two decimal digits; monotonicity from
// persisting each issued number before it goes on the wire
func (p *Paxos) newProposalNumber(gt uint64) uint64 {
	last, err := p.store.GetInt(LAST_PROPOSAL_KEY)
	fatalIfErr(err, "reading last proposal number")
	if last < gt {
		last = gt
	}

	last /= 100
	last++
	pn := last*100 + uint64(p.mon.GetId())

	fatalIfErr(p.store.PutInt(LAST_PROPOSAL_KEY, pn), "writing last proposal number")

	logger.Debug("%v new proposal number %v", p.logPrefix(), pn)
	return pn
}
