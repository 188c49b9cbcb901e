package docstore

import (
	"context"
	"sort"
	"sync"
)

// maxTxAttempts bounds the optimistic retry loop in RunTransaction.
const maxTxAttempts = 5

// MemoryStore implements Store using in-memory maps with per-document
// versions. RunTransaction runs a genuine optimistic retry loop, so tests
// can exercise conflicting concurrent writers without a network dependency.
type MemoryStore struct {
	mu          sync.Mutex
	docs        map[string]Document
	versions    map[string]int64
	docWatchers map[string][]*docWatcher
	allWatchers []*allWatcher

	// TxAttempts counts every transaction attempt, including retries.
	// Read it in tests to confirm conflicts actually occurred.
	txAttempts int64
}

type docWatcher struct {
	key    string
	ch     chan Snapshot
	closed bool
}

type allWatcher struct {
	ch     chan []Document
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]Document),
		versions:    make(map[string]int64),
		docWatchers: make(map[string][]*docWatcher),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return CopyDoc(doc), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, fields Document, merge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if merge {
		existing := s.docs[key]
		s.docs[key] = MergeDoc(CopyDoc(existing), fields)
	} else {
		s.docs[key] = CopyDoc(fields)
	}
	s.versions[key]++
	s.notifyLocked(key)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[key]; !ok {
		return nil
	}
	delete(s.docs, key)
	// Keep bumping the version counter for deleted keys so transactions that
	// read the document before the delete still detect the conflict.
	s.versions[key]++
	s.notifyLocked(key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotAllLocked(), nil
}

func (s *MemoryStore) snapshotAllLocked() []Document {
	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	docs := make([]Document, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, CopyDoc(s.docs[k]))
	}
	return docs
}

func (s *MemoryStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	s.mu.Lock()
	w := &docWatcher{key: key, ch: make(chan Snapshot, 8)}
	s.docWatchers[key] = append(s.docWatchers[key], w)
	// Initial emission reflects current state, including absence.
	doc, ok := s.docs[key]
	snap := Snapshot{Exists: ok}
	if ok {
		snap.Doc = CopyDoc(doc)
	}
	w.push(snap)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		watchers := s.docWatchers[key]
		for i, other := range watchers {
			if other == w {
				s.docWatchers[key] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		w.closed = true
		close(w.ch)
	}()

	return w.ch, nil
}

func (s *MemoryStore) WatchAll(ctx context.Context) (<-chan []Document, error) {
	s.mu.Lock()
	w := &allWatcher{ch: make(chan []Document, 8)}
	s.allWatchers = append(s.allWatchers, w)
	w.push(s.snapshotAllLocked())
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, other := range s.allWatchers {
			if other == w {
				s.allWatchers = append(s.allWatchers[:i], s.allWatchers[i+1:]...)
				break
			}
		}
		w.closed = true
		close(w.ch)
	}()

	return w.ch, nil
}

// push delivers a snapshot without blocking. Every emission is a full
// snapshot, so a slow receiver coalesces to the latest state.
func (w *docWatcher) push(snap Snapshot) {
	if w.closed {
		return
	}
	for {
		select {
		case w.ch <- snap:
			return
		default:
			select {
			case <-w.ch:
			default:
			}
		}
	}
}

func (w *allWatcher) push(docs []Document) {
	if w.closed {
		return
	}
	for {
		select {
		case w.ch <- docs:
			return
		default:
			select {
			case <-w.ch:
			default:
			}
		}
	}
}

// notifyLocked fans the current state out to all watchers. Callers hold s.mu.
func (s *MemoryStore) notifyLocked(key string) {
	if watchers := s.docWatchers[key]; len(watchers) > 0 {
		doc, ok := s.docs[key]
		snap := Snapshot{Exists: ok}
		if ok {
			snap.Doc = CopyDoc(doc)
		}
		for _, w := range watchers {
			w.push(snap)
		}
	}
	if len(s.allWatchers) > 0 {
		docs := s.snapshotAllLocked()
		for _, w := range s.allWatchers {
			w.push(docs)
		}
	}
}

// memTx buffers transaction reads and writes for optimistic commit.
type memTx struct {
	store  *MemoryStore
	reads  map[string]int64
	writes []memWrite
}

type memWrite struct {
	key    string
	fields Document
	merge  bool
}

func (t *memTx) Get(key string) (Document, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.reads[key] = t.store.versions[key]
	doc, ok := t.store.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return CopyDoc(doc), nil
}

func (t *memTx) Set(key string, doc Document) error {
	t.writes = append(t.writes, memWrite{key: key, fields: CopyDoc(doc)})
	return nil
}

func (t *memTx) Update(key string, fields Document) error {
	t.writes = append(t.writes, memWrite{key: key, fields: CopyDoc(fields), merge: true})
	return nil
}

// RunTransaction re-invokes fn against a fresh read whenever a concurrent
// writer touched any document read in the attempt. fn errors abort
// immediately and propagate unchanged.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		s.txAttempts++
		s.mu.Unlock()

		tx := &memTx{store: s, reads: make(map[string]int64)}
		if err := fn(tx); err != nil {
			return err
		}
		if s.commit(tx) {
			return nil
		}
	}
	return ErrConflict
}

// commit verifies read versions and applies buffered writes atomically.
func (s *MemoryStore) commit(tx *memTx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range tx.reads {
		if s.versions[key] != version {
			return false
		}
	}
	for _, w := range tx.writes {
		if w.merge {
			s.docs[w.key] = MergeDoc(CopyDoc(s.docs[w.key]), w.fields)
		} else {
			s.docs[w.key] = CopyDoc(w.fields)
		}
		s.versions[w.key]++
		s.notifyLocked(w.key)
	}
	return true
}

// TxAttempts returns the total number of transaction attempts so far.
func (s *MemoryStore) TxAttempts() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txAttempts
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements Store at compile time.
var _ Store = (*MemoryStore)(nil)
