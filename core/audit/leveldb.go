package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore keeps records in a LevelDB database.
//
// Keys:
//
//	rec_<unix nanos, 20 digits>_<request id>  => Record JSON
//	req_<request id>                          => rec_ key of its latest record
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens or creates the database directory at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func recordKey(ts time.Time, requestID string) []byte {
	return []byte(fmt.Sprintf("rec_%020d_%s", ts.UnixNano(), requestID))
}

// Append stores the record and its request index entry atomically.
func (s *LevelDBStore) Append(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := recordKey(rec.Timestamp, rec.Request.ID)
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	batch.Put([]byte("req_"+rec.Request.ID), key)
	return s.db.Write(batch, nil)
}

// Query scans the time range in key order.
func (s *LevelDBStore) Query(ctx context.Context, q Query) ([]Record, error) {
	if q.RequestID != "" {
		return s.queryByRequest(q)
	}
	rng := util.BytesPrefix([]byte("rec_"))
	if !q.Start.IsZero() {
		rng.Start = []byte(fmt.Sprintf("rec_%020d", q.Start.UnixNano()))
	}
	if !q.End.IsZero() {
		rng.Limit = []byte(fmt.Sprintf("rec_%020d", q.End.UnixNano()+1))
	}
	it := s.db.NewIterator(rng, nil)
	defer it.Release()
	var res []Record
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r Record
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			continue
		}
		if !q.Match(r) {
			continue
		}
		res = append(res, r)
		if q.full(len(res)) {
			break
		}
	}
	return res, it.Error()
}

func (s *LevelDBStore) queryByRequest(q Query) ([]Record, error) {
	key, err := s.db.Get([]byte("req_"+q.RequestID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := s.db.Get(key, nil)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if !q.Match(r) {
		return nil, nil
	}
	return []Record{r}, nil
}

// Close closes the database.
func (s *LevelDBStore) Close() error { return s.db.Close() }
