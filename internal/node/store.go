package node

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/tidwall/wal"

	"github.com/ravi-kumar-24/distributed-search-frontend/internal/model"
)

const contentField = "content"

// Store is the local node's document index. Writes go to the WAL first and
// are replayed into bleve on open.
type Store struct {
	index bleve.Index
	log   *wal.Log
	mu    sync.Mutex

	// digests tracks the content hash of every indexed document.
	digests map[string][sha256.Size]byte
}

type Operation string

const (
	OpIndex  Operation = "INDEX"
	OpDelete Operation = "DELETE"
)

type logEntry struct {
	Op      Operation `json:"op"`
	Name    string    `json:"name"`
	Content string    `json:"content,omitempty"`
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	blevePath := filepath.Join(path, "bleve")

	var index bleve.Index
	var err error
	if _, statErr := os.Stat(blevePath); os.IsNotExist(statErr) {
		index, err = bleve.New(blevePath, documentMapping())
	} else {
		index, err = bleve.Open(blevePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}

	log, err := wal.Open(filepath.Join(path, "wal"), nil)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}

	s := &Store{index: index, log: log, digests: make(map[string][sha256.Size]byte)}
	if err := s.replay(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to replay wal: %w", err)
	}
	return s, nil
}

func (s *Store) replay() error {
	first, err := s.log.FirstIndex()
	if err != nil {
		return err
	}
	last, err := s.log.LastIndex()
	if err != nil {
		return err
	}
	if last == 0 {
		return nil
	}

	batch := s.index.NewBatch()
	for i := first; i <= last; i++ {
		data, err := s.log.Read(i)
		if err != nil {
			return err
		}
		var entry logEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if err := stage(batch, entry); err != nil {
			return err
		}
		s.track(entry)
	}
	return s.index.Batch(batch)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return err
	}
	return s.log.Close()
}

// BatchIndex indexes documents keyed by name in one WAL batch. Documents
// whose content is already indexed are skipped.
func (s *Store) BatchIndex(docs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.apply(s.changed(docs))
}

// SyncStats counts what a Sync changed.
type SyncStats struct {
	Indexed int
	Deleted int
}

// Sync makes the store hold exactly docs: new or modified documents are
// indexed and documents missing from docs are deleted. Unchanged documents
// cost nothing, so repeated syncs of the same set leave the WAL untouched.
func (s *Store) Sync(docs map[string]string) (SyncStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.changed(docs)
	indexed := len(entries)
	for _, name := range s.namesLocked() {
		if _, ok := docs[name]; !ok {
			entries = append(entries, logEntry{Op: OpDelete, Name: name})
		}
	}

	if err := s.apply(entries); err != nil {
		return SyncStats{}, err
	}
	return SyncStats{Indexed: indexed, Deleted: len(entries) - indexed}, nil
}

// Names returns the indexed document names in sorted order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namesLocked()
}

func (s *Store) namesLocked() []string {
	names := make([]string, 0, len(s.digests))
	for name := range s.digests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) DocCount() (uint64, error) {
	return s.index.DocCount()
}

func (s *Store) changed(docs map[string]string) []logEntry {
	entries := make([]logEntry, 0, len(docs))
	for name, content := range docs {
		if d, ok := s.digests[name]; ok && d == digest(content) {
			continue
		}
		entries = append(entries, logEntry{Op: OpIndex, Name: name, Content: content})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// apply writes entries to the WAL as one batch, then to bleve.
func (s *Store) apply(entries []logEntry) error {
	if len(entries) == 0 {
		return nil
	}

	last, err := s.log.LastIndex()
	if err != nil {
		return err
	}

	var walBatch wal.Batch
	batch := s.index.NewBatch()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		last++
		walBatch.Write(last, data)
		if err := stage(batch, entry); err != nil {
			return err
		}
	}

	if err := s.log.WriteBatch(&walBatch); err != nil {
		return err
	}
	if err := s.index.Batch(batch); err != nil {
		return err
	}
	for _, entry := range entries {
		s.track(entry)
	}
	return nil
}

func stage(batch *bleve.Batch, entry logEntry) error {
	switch entry.Op {
	case OpIndex:
		return batch.Index(entry.Name, indexedDocument(entry.Content))
	case OpDelete:
		batch.Delete(entry.Name)
	}
	return nil
}

func (s *Store) track(entry logEntry) {
	switch entry.Op {
	case OpIndex:
		s.digests[entry.Name] = digest(entry.Content)
	case OpDelete:
		delete(s.digests, entry.Name)
	}
}

func digest(content string) [sha256.Size]byte {
	return sha256.Sum256([]byte(content))
}

// Search returns at most limit documents ordered by descending relevance.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]model.DocumentStats, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField(contentField)

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	docs := make([]model.DocumentStats, 0, len(res.Hits))
	for _, hit := range res.Hits {
		docs = append(docs, model.DocumentStats{DocumentName: hit.ID, Score: hit.Score})
	}
	return docs, nil
}

func indexedDocument(content string) map[string]interface{} {
	return map[string]interface{}{contentField: content}
}

func documentMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	contentMapping := bleve.NewTextFieldMapping()
	contentMapping.Store = false
	m.DefaultMapping.AddFieldMappingsAt(contentField, contentMapping)
	return m
}
