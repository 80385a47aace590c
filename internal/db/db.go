// Package db is the Postgres document store: patients, reports, fragments
// with pgvector embeddings, persisted summaries and doctor annotations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"summaid/internal/config"
	"summaid/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// ErrSummaryNotFound is returned by FetchSummary when no summary has been
// generated for the patient yet.
var ErrSummaryNotFound = errors.New("summary not found")

type Patient struct {
	bun.BaseModel `bun:"table:patients,alias:p"`
	ID            int64  `bun:"patient_id,pk,autoincrement"`
	DisplayName   string `bun:"patient_display_name,notnull"`
	Age           int    `bun:"age"`
	Sex           string `bun:"sex"`
}

type Document struct {
	bun.BaseModel `bun:"table:reports,alias:r"`
	ID            int64  `bun:"report_id,pk,autoincrement"`
	PatientID     int64  `bun:"patient_id,notnull"`
	Type          string `bun:"report_type"`
	FilePointer   string `bun:"report_filepath_pointer"`
}

type Fragment struct {
	bun.BaseModel `bun:"table:report_chunks,alias:c"`
	ID            int64     `bun:"chunk_id,pk,autoincrement"`
	DocumentID    int64     `bun:"report_id,notnull"`
	Text          string    `bun:"chunk_text,notnull"`
	Page          int       `bun:"page"`
	Position      int       `bun:"chunk_index"`
	Section       string    `bun:"section_label"`
	Embedding     []float32 `bun:"embedding,notnull,type:vector(768)"`
}

type SummaryRecord struct {
	bun.BaseModel `bun:"table:summaries,alias:s"`
	PatientID     int64     `bun:"patient_id,pk"`
	SummaryJSON   string    `bun:"summary_json,notnull"`
	CitationsJSON string    `bun:"citations_json"`
	GeneratedAt   time.Time `bun:"generated_at,notnull"`
}

type Annotation struct {
	bun.BaseModel `bun:"table:annotations,alias:a"`
	ID            int64     `bun:"annotation_id,pk,autoincrement"`
	PatientID     int64     `bun:"patient_id,notnull"`
	Note          string    `bun:"doctor_note,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL + "?sslmode=disable"
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Password))), nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// Store wraps a bun.DB with the operations the pipeline needs. It satisfies
// retrieval.FragmentStore and retrieval.SimilaritySearcher.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Init creates all tables if they do not exist yet.
func (s *Store) Init(ctx context.Context) error {
	for _, model := range []any{(*Patient)(nil), (*Document)(nil), (*Fragment)(nil), (*SummaryRecord)(nil), (*Annotation)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ListFragments returns every fragment of the patient's documents in stable
// ingestion order.
func (s *Store) ListFragments(ctx context.Context, patientID int64) ([]models.Fragment, error) {
	var rows []Fragment
	err := s.db.NewSelect().
		Model(&rows).
		Join("JOIN reports AS r ON r.report_id = c.report_id").
		Where("r.patient_id = ?", patientID).
		OrderExpr("c.report_id, c.chunk_id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toModelFragments(rows), nil
}

// SearchFragments ranks the patient's fragments by vector distance to the
// query embedding, pushed down to pgvector.
func (s *Store) SearchFragments(ctx context.Context, patientID int64, queryVec []float32, limit int) ([]models.Fragment, error) {
	var rows []Fragment
	err := s.db.NewSelect().
		Model(&rows).
		Join("JOIN reports AS r ON r.report_id = c.report_id").
		Where("r.patient_id = ?", patientID).
		OrderExpr("c.embedding <-> ?, c.chunk_id", queryVec).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toModelFragments(rows), nil
}

func toModelFragments(rows []Fragment) []models.Fragment {
	out := make([]models.Fragment, len(rows))
	for i, row := range rows {
		out[i] = models.Fragment{
			ID:         row.ID,
			DocumentID: row.DocumentID,
			Text:       row.Text,
			Page:       row.Page,
			Position:   row.Position,
			Section:    row.Section,
			Embedding:  row.Embedding,
		}
	}
	return out
}

func (s *Store) ListPatients(ctx context.Context) ([]Patient, error) {
	var patients []Patient
	err := s.db.NewSelect().Model(&patients).Order("patient_id").Scan(ctx)
	return patients, err
}

func (s *Store) GetPatient(ctx context.Context, patientID int64) (*Patient, error) {
	patient := new(Patient)
	err := s.db.NewSelect().Model(patient).Where("patient_id = ?", patientID).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return patient, nil
}

// ListDocumentTypes returns the distinct report types of a patient, useful
// as a specialty hint.
func (s *Store) ListDocumentTypes(ctx context.Context, patientID int64) ([]string, error) {
	var types []string
	err := s.db.NewSelect().
		Model((*Document)(nil)).
		ColumnExpr("DISTINCT report_type").
		Where("patient_id = ?", patientID).
		OrderExpr("report_type").
		Scan(ctx, &types)
	return types, err
}

func (s *Store) InsertPatient(ctx context.Context, patient *Patient) error {
	_, err := s.db.NewInsert().Model(patient).Exec(ctx)
	return err
}

func (s *Store) InsertDocument(ctx context.Context, doc *Document) error {
	_, err := s.db.NewInsert().Model(doc).Exec(ctx)
	return err
}

func (s *Store) InsertFragments(ctx context.Context, fragments []Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().Model(&fragments).Exec(ctx)
	return err
}

// UpsertSummary atomically replaces the patient's summary and citations.
// Concurrent regenerations do not serialize; the last successful write wins.
func (s *Store) UpsertSummary(ctx context.Context, patientID int64, summaryJSON string, citationsJSON string) error {
	record := &SummaryRecord{
		PatientID:     patientID,
		SummaryJSON:   summaryJSON,
		CitationsJSON: citationsJSON,
		GeneratedAt:   time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (patient_id) DO UPDATE").
		Set("summary_json = EXCLUDED.summary_json").
		Set("citations_json = EXCLUDED.citations_json").
		Set("generated_at = EXCLUDED.generated_at").
		Exec(ctx)
	return err
}

func (s *Store) FetchSummary(ctx context.Context, patientID int64) (*SummaryRecord, error) {
	record := new(SummaryRecord)
	err := s.db.NewSelect().Model(record).Where("patient_id = ?", patientID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient %d: %w", patientID, ErrSummaryNotFound)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) SaveAnnotation(ctx context.Context, patientID int64, note string) (*Annotation, error) {
	annotation := &Annotation{PatientID: patientID, Note: note, CreatedAt: time.Now().UTC()}
	if _, err := s.db.NewInsert().Model(annotation).Exec(ctx); err != nil {
		return nil, err
	}
	return annotation, nil
}

func (s *Store) ListAnnotations(ctx context.Context, patientID int64) ([]Annotation, error) {
	var annotations []Annotation
	err := s.db.NewSelect().
		Model(&annotations).
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Scan(ctx)
	return annotations, err
}
