package partialsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/livedb/store"
)

// ErrTransient marks server errors worth retrying: lost connections,
// timeouts, an unavailable server. Any other error from Server.Query rejects
// the subscription for good.
var ErrTransient = errors.New("partialsync: server unavailable")

// Server answers subscription queries with the matching rows.
type Server interface {
	Query(ctx context.Context, q store.Query) ([]Record, error)
}

// Record is one row downloaded from the server.
type Record struct {
	Table string
	Key   string
	Row   msgpack.RawMessage
}

// MemoryServer serves queries from a server-side store.DB.
type MemoryServer struct {
	db      *store.DB
	offline atomic.Bool
	queries atomic.Int64
}

func NewMemoryServer(db *store.DB) *MemoryServer {
	return &MemoryServer{db: db}
}

// SetOffline makes every following query fail with ErrTransient until the
// server is set back online.
func (s *MemoryServer) SetOffline(offline bool) {
	s.offline.Store(offline)
}

// QueryCount is the number of queries received so far, including failed ones.
func (s *MemoryServer) QueryCount() int {
	return int(s.queries.Load())
}

func (s *MemoryServer) Query(ctx context.Context, q store.Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offline := s.offline.Load()
	s.queries.Add(1)
	if offline {
		return nil, fmt.Errorf("memory server: %w", ErrTransient)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var records []Record
	err := s.db.Read(func(tx *store.Tx) error {
		snap, _, err := tx.Evaluate(q, nil)
		if err != nil {
			return err
		}
		records = make([]Record, 0, snap.Len())
		for i := range snap.Len() {
			records = append(records, Record{
				Table: q.Table,
				Key:   snap.Key(i),
				Row:   msgpack.RawMessage(snap.Raw(i)),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
