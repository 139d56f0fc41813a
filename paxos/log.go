package paxos

import (
	"github.com/kickboxerdb/monitor/store"
)

const LAST_COMMITTED_KEY = "last_committed"

// thin semantic over the store for this machine's slice of it:
// numbered slot values plus the last_committed marker. The store
// is assumed crash safe, so store failures are fatal here; a
// monitor that can't write its log can't participate
type durableLog struct {
	store store.Store
	name  string
}

func newDurableLog(s store.Store, name string) *durableLog {
	return &durableLog{store: s, name: name}
}

func (l *durableLog) exists(v uint64) bool {
	return l.store.ExistsVersion(l.name, v)
}

func (l *durableLog) get(v uint64) []byte {
	val, err := l.store.GetVersion(l.name, v)
	fatalIfErr(err, "reading log slot")
	return val
}

func (l *durableLog) put(v uint64, val []byte) {
	fatalIfErr(l.store.PutVersion(l.name, v, val), "writing log slot")
}

func (l *durableLog) getLastCommitted() uint64 {
	v, err := l.store.GetInt(l.name + "/" + LAST_COMMITTED_KEY)
	fatalIfErr(err, "reading last_committed")
	return v
}

func (l *durableLog) putLastCommitted(v uint64) {
	fatalIfErr(l.store.PutInt(l.name+"/"+LAST_COMMITTED_KEY, v), "writing last_committed")
}
