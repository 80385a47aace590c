// Package chromemdb is the embedded vector store backend for single-node and
// demo deployments: same FragmentStore surface as the Postgres store, backed
// by chromem-go with optional on-disk persistence.
package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"summaid/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

type Store struct {
	db           *chromem.DB
	collection   *chromem.Collection
	registryPath string // empty in memory-only mode

	mu        sync.RWMutex
	fragments map[int64][]models.Fragment // patientID -> fragments, insertion order
}

const compress = false

// NewStore opens or creates the store. An empty path keeps everything in
// memory; otherwise both the chromem index and the fragment registry are
// reloaded from disk, so previously ingested patients stay retrievable
// across restarts.
func NewStore(path, collectionName string) (*Store, error) {
	var db *chromem.DB
	var err error
	registryPath := ""
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("opening vector database: %w", err)
		}
		// Sibling file: chromem owns the contents of its own directory.
		registryPath = path + ".registry.json"
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	s := &Store{
		db:           db,
		collection:   collection,
		registryPath: registryPath,
		fragments:    make(map[int64][]models.Fragment),
	}
	if err := s.loadRegistry(); err != nil {
		return nil, fmt.Errorf("loading fragment registry: %w", err)
	}
	return s, nil
}

// loadRegistry rehydrates the per-patient fragment registry. The chromem
// collection persists the vectors, but ListFragments needs full fragment
// metadata in insertion order, which chromem does not expose.
func (s *Store) loadRegistry() error {
	if s.registryPath == "" {
		return nil
	}
	data, err := os.ReadFile(s.registryPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, &s.fragments)
}

// saveRegistryLocked writes the registry to disk. Callers hold s.mu.
func (s *Store) saveRegistryLocked() error {
	if s.registryPath == "" {
		return nil
	}
	data, err := json.Marshal(s.fragments)
	if err != nil {
		return err
	}
	return os.WriteFile(s.registryPath, data, 0o644)
}

// AddFragments registers fragments for a patient and indexes their
// embeddings.
func (s *Store) AddFragments(ctx context.Context, patientID int64, fragments []models.Fragment) error {
	docs := make([]chromem.Document, 0, len(fragments))
	for _, f := range fragments {
		docs = append(docs, chromem.Document{
			ID:        fmt.Sprintf("%d-%d-%d", patientID, f.DocumentID, f.ID),
			Content:   f.Text,
			Embedding: f.Embedding,
			Metadata: map[string]string{
				"patient_id":  strconv.FormatInt(patientID, 10),
				"report_id":   strconv.FormatInt(f.DocumentID, 10),
				"chunk_id":    strconv.FormatInt(f.ID, 10),
				"page":        strconv.Itoa(f.Page),
				"chunk_index": strconv.Itoa(f.Position),
				"section":     f.Section,
			},
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	s.mu.Lock()
	s.fragments[patientID] = append(s.fragments[patientID], fragments...)
	err := s.saveRegistryLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persisting fragment registry: %w", err)
	}

	log.Info().Int64("patient_id", patientID).Int("fragments", len(fragments)).Msg("Indexed fragments")
	return nil
}

// ListFragments returns the patient's fragments in insertion order.
func (s *Store) ListFragments(_ context.Context, patientID int64) ([]models.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.fragments[patientID]
	out := make([]models.Fragment, len(stored))
	copy(out, stored)
	return out, nil
}

// SearchFragments ranks the patient's fragments by similarity to the query
// embedding using the chromem index.
func (s *Store) SearchFragments(ctx context.Context, patientID int64, queryVec []float32, limit int) ([]models.Fragment, error) {
	s.mu.RLock()
	known := len(s.fragments[patientID])
	s.mu.RUnlock()
	if known == 0 {
		return nil, nil
	}
	if limit > known || limit <= 0 {
		limit = known
	}

	results, err := s.collection.QueryEmbedding(ctx, queryVec, limit,
		map[string]string{"patient_id": strconv.FormatInt(patientID, 10)}, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	// chromem already returns by descending similarity; keep chunk order as
	// deterministic tie break.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	out := make([]models.Fragment, 0, len(results))
	for _, r := range results {
		out = append(out, resultToFragment(r))
	}
	return out, nil
}

func resultToFragment(r chromem.Result) models.Fragment {
	chunkID, _ := strconv.ParseInt(r.Metadata["chunk_id"], 10, 64)
	reportID, _ := strconv.ParseInt(r.Metadata["report_id"], 10, 64)
	page, _ := strconv.Atoi(r.Metadata["page"])
	position, _ := strconv.Atoi(r.Metadata["chunk_index"])
	return models.Fragment{
		ID:         chunkID,
		DocumentID: reportID,
		Text:       r.Content,
		Page:       page,
		Position:   position,
		Section:    r.Metadata["section"],
		Embedding:  r.Embedding,
	}
}
