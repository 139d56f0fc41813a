package store

import (
	"encoding/binary"
)

import (
	"github.com/dgraph-io/badger/v2"
	logging "github.com/op/go-logging"
	"github.com/pkg/errors"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("store")
}

// persistent store backed by a badger db. Each badger write
// goes through a single Update transaction, which gives the
// atomic put the paxos machines assume
type BadgerStore struct {
	path string
	db   *badger.DB
}

var _ = Store(&BadgerStore{})

func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path}
}

func (s *BadgerStore) Start() error {
	opts := badger.DefaultOptions(s.path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return errors.Wrapf(err, "opening badger store at %v", s.path)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) Stop() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func badgerVersionKey(name string, v uint64) []byte {
	key := make([]byte, 0, len(name)+9)
	key = append(key, []byte(name)...)
	key = append(key, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(key, buf[:]...)
}

func badgerIntKey(key string) []byte {
	return append([]byte("int/"), []byte(key)...)
}

func (s *BadgerStore) get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

func (s *BadgerStore) put(key []byte, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *BadgerStore) ExistsVersion(name string, v uint64) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerVersionKey(name, v))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false
	}
	if err != nil {
		logger.Warning("error checking %v %v: %v", name, v, err)
		return false
	}
	return true
}

func (s *BadgerStore) GetVersion(name string, v uint64) ([]byte, error) {
	val, err := s.get(badgerVersionKey(name, v))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %v %v", name, v)
	}
	return val, nil
}

func (s *BadgerStore) PutVersion(name string, v uint64, val []byte) error {
	if err := s.put(badgerVersionKey(name, v), val); err != nil {
		return errors.Wrapf(err, "writing %v %v", name, v)
	}
	return nil
}

func (s *BadgerStore) GetInt(key string) (uint64, error) {
	val, err := s.get(badgerIntKey(key))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "reading int %v", key)
	}
	if len(val) != 8 {
		return 0, errors.Errorf("corrupt int value under %v: %v bytes", key, len(val))
	}
	return binary.LittleEndian.Uint64(val), nil
}

func (s *BadgerStore) PutInt(key string, val uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	if err := s.put(badgerIntKey(key), buf[:]); err != nil {
		return errors.Wrapf(err, "writing int %v", key)
	}
	return nil
}
