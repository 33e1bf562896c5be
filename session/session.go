package session

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/stemflow/store"
	"github.com/warriorguo/stemflow/types"
)

const (
	Prefix = "/session/"

	lockStripes = 64
)

/**
 * Store keeps session documents as JSON in a raw key-value store.
 * Writes of the same document are serialised inside the process, writes of
 * different documents never coordinate.
 */
type Store struct {
	kv    store.Store
	locks [lockStripes]sync.Mutex

	now func() time.Time
}

func NewStore(kv store.Store) *Store {
	return &Store{
		kv:  kv,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) lock(sessionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *Store) load(ctx context.Context, sessionID string) (types.Data, error) {
	b, err := s.kv.Get(ctx, Prefix, sessionID)
	if err != nil {
		return nil, errors.Annotatef(err, "load session %s", sessionID)
	}
	if b == nil {
		return nil, nil
	}
	doc := types.Data{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Annotatef(err, "decode session %s", sessionID)
	}
	return doc, nil
}

func (s *Store) save(ctx context.Context, sessionID string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Annotatef(err, "encode session %s", sessionID)
	}
	return errors.Annotatef(s.kv.Set(ctx, Prefix, sessionID, b), "save session %s", sessionID)
}

// CreateSession inserts a new document, the timestamps are filled when unset.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) (*types.Session, error) {
	if sess == nil || sess.SessionID == "" {
		return nil, errors.BadRequestf("session without id")
	}
	unlock := s.lock(sess.SessionID)
	defer unlock()

	existing, err := s.kv.Get(ctx, Prefix, sess.SessionID)
	if err != nil {
		return nil, errors.Annotatef(err, "load session %s", sess.SessionID)
	}
	if existing != nil {
		return nil, errors.AlreadyExistsf("session %s", sess.SessionID)
	}

	created := *sess
	now := s.now()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = now
	}
	if err := s.save(ctx, created.SessionID, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

/**
 * FindOne returns nil, nil when the session does not exist.
 * A projection keeps only the named top-level fields, sessionId is always kept.
 */
func (s *Store) FindOne(ctx context.Context, sessionID string, projection ...string) (*types.Session, error) {
	doc, err := s.load(ctx, sessionID)
	if err != nil || doc == nil {
		return nil, err
	}

	if len(projection) > 0 {
		projected := types.Data{"sessionId": doc["sessionId"]}
		for _, field := range projection {
			field, _, _ = strings.Cut(field, ".")
			if v, exists := doc[field]; exists {
				projected[field] = v
			}
		}
		doc = projected
	}

	sess := &types.Session{}
	if err := doc.Decode(sess); err != nil {
		return nil, errors.Annotatef(err, "decode session %s", sessionID)
	}
	return sess, nil
}

/**
 * UpdateOne applies set like a `$set`: every key is a dotted path into the
 * document. updatedAt is always refreshed.
 */
func (s *Store) UpdateOne(ctx context.Context, sessionID string, set types.Data) error {
	// normalise typed values into plain JSON objects so later dotted paths can cross them
	values, err := types.ToData(set)
	if err != nil {
		return errors.Annotatef(err, "encode update of session %s", sessionID)
	}

	unlock := s.lock(sessionID)
	defer unlock()

	doc, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.NotFoundf("session %s", sessionID)
	}

	paths := make([]string, 0, len(values))
	for path := range values {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if path == "sessionId" {
			return errors.NotValidf("update of sessionId")
		}
		if err := doc.SetPath(path, values[path]); err != nil {
			return errors.Trace(err)
		}
	}
	if err := doc.SetPath(types.FieldUpdatedAt, s.now()); err != nil {
		return errors.Trace(err)
	}
	return s.save(ctx, sessionID, doc)
}

// List walks the stored session ids in key order.
func (s *Store) List(ctx context.Context, iterator func(sessionID string) bool) error {
	return errors.Trace(s.kv.List(ctx, Prefix, iterator))
}

func (s *Store) Remove(ctx context.Context, sessionID string) error {
	unlock := s.lock(sessionID)
	defer unlock()
	return errors.Trace(s.kv.Remove(ctx, Prefix, sessionID))
}
