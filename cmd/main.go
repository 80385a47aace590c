package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"summaid/internal/chromemdb"
	"summaid/internal/config"
	"summaid/internal/db"
	"summaid/internal/embedding"
	"summaid/internal/helper"
	"summaid/internal/llmservice"
	"summaid/internal/models"
	"summaid/internal/parser"
	"summaid/internal/rag"
	"summaid/internal/retrieval"
	"summaid/internal/summary"
)

const (
	configFilePath = "./configs/config.yaml"
	collectionName = "report_fragments"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	patientID := flag.Int64("patient", 0, "Patient ID to operate on")
	summarize := flag.Bool("summarize", false, "Generate a structured summary for the patient")
	question := flag.String("ask", "", "Ask a question about the patient's reports")
	ingestFile := flag.String("ingest", "", "Path to a report file to ingest for the patient")
	reportType := flag.String("type", "General", "Report type for ingestion")
	annotate := flag.String("annotate", "", "Doctor note to attach to the patient")
	addPatient := flag.String("add-patient", "", "Register a patient with the given display name")
	showSummary := flag.Bool("show-summary", false, "Print the stored summary for the patient")
	showAnnotations := flag.Bool("annotations", false, "List the patient's annotations")
	listPatients := flag.Bool("list", false, "List patients")
	keywords := flag.String("keywords", "", "Comma-separated retrieval keywords")
	singleShot := flag.Bool("single-shot", false, "Use the monolithic prompt instead of parallel extraction")
	dryRun := flag.Bool("dry-run", false, "Do not persist results")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	ctx := context.Background()
	app, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building application")
	}
	defer app.Close()

	switch {
	case *listPatients:
		app.listPatients(ctx)
	case *addPatient != "":
		app.addPatient(ctx, *addPatient)
	case *ingestFile != "" && *patientID > 0:
		app.ingest(ctx, *patientID, *ingestFile, *reportType)
	case *annotate != "" && *patientID > 0:
		app.annotate(ctx, *patientID, *annotate)
	case *showSummary && *patientID > 0:
		app.showSummary(ctx, *patientID)
	case *showAnnotations && *patientID > 0:
		app.listAnnotations(ctx, *patientID)
	case *question != "" && *patientID > 0:
		app.ask(ctx, *patientID, *question, splitKeywords(*keywords))
	case *summarize && *patientID > 0:
		app.summarize(ctx, *patientID, splitKeywords(*keywords), *singleShot, *dryRun)
	default:
		log.Fatal().Msg("Provide -list or -add-patient, or -patient with one of -summarize, -ask, -ingest, -annotate, -show-summary, -annotations")
	}
}

type app struct {
	cfg      *config.Config
	rag      *rag.RAG
	embedder *embedding.Client
	sqlStore *db.Store // nil in chromem mode
	chromem  *chromemdb.Store
	closeFn  func()
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	// An API key means an OpenAI-compatible embedding endpoint; otherwise a
	// local ollama server.
	var embedder embedding.Embedder
	var err error
	if cfg.EmbedLLM.Key != "" {
		embedder, err = embedding.NewOpenAIEmbedder(&cfg.EmbedLLM)
	} else {
		embedder, err = embedding.NewOllamaEmbedder(&cfg.EmbedLLM)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	embedClient := embedding.NewClient(embedder, cfg.EmbedLLM.VectorDim)
	log.Debug().Str("model", cfg.EmbedLLM.Model).Int("vector_dim", embedClient.Dim()).Msg("Embedding client ready")

	genClient := llmservice.NewClient(cfg.GenLLM)
	orchestrator := summary.NewOrchestrator(genClient, cfg.GenLLM, cfg.Summary)

	a := &app{cfg: cfg, embedder: embedClient, closeFn: func() {}}

	var fragmentStore retrieval.FragmentStore
	var summaryStore rag.SummaryStore
	if cfg.Database.URL != "" {
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		store := db.NewStore(bunDB)
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		a.sqlStore = store
		a.closeFn = func() { bunDB.Close() }
		fragmentStore = store
		summaryStore = store
	} else {
		path := cfg.RAG.ChromemPath
		if cfg.RAG.InMemory {
			path = ""
		} else if path != "" {
			if err := helper.CreateFolder(path); err != nil {
				return nil, fmt.Errorf("creating vector store folder: %w", err)
			}
		}
		store, err := chromemdb.NewStore(path, collectionName)
		if err != nil {
			return nil, fmt.Errorf("opening vector store: %w", err)
		}
		a.chromem = store
		fragmentStore = store
		// Chromem mode has no summary persistence; results are printed only.
	}

	engine := retrieval.NewEngine(fragmentStore, embedClient)
	a.rag = rag.NewRAG(engine, orchestrator, summaryStore, cfg)
	return a, nil
}

func (a *app) Close() { a.closeFn() }

func (a *app) summarize(ctx context.Context, patientID int64, keywords []string, singleShot, dryRun bool) {
	label := a.patientLabel(ctx, patientID)
	if a.sqlStore != nil {
		if types, err := a.sqlStore.ListDocumentTypes(ctx, patientID); err == nil {
			log.Debug().Strs("report_types", types).Msg("Patient report types")
		}
	}
	response, err := a.rag.GenerateSummary(ctx, patientID, label, rag.SummaryOptions{
		Keywords:   keywords,
		SingleShot: singleShot,
		DryRun:     dryRun,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating summary")
	}
	log.Info().Bool("validated", response.Validated).Int("citations", len(response.Citations)).Msg("Summary generated")
	helper.PrettyPrint(response.Summary)
	helper.PrettyPrint(response.Citations)
}

func (a *app) ask(ctx context.Context, patientID int64, question string, keywords []string) {
	response, err := a.rag.AnswerQuestion(ctx, patientID, question, rag.SummaryOptions{Keywords: keywords})
	if err != nil {
		log.Fatal().Err(err).Msg("Error answering question")
	}
	fmt.Printf("%s\n\n", response.Answer)
	helper.PrettyPrint(response.Citations)
}

func (a *app) ingest(ctx context.Context, patientID int64, filePath, reportType string) {
	chunks, err := parser.ParseReport(filePath, a.cfg.RAG)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing report")
	}
	if len(chunks) == 0 {
		log.Fatal().Msg("Report produced no text")
	}

	fragments := make([]models.Fragment, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := a.embedder.EmbedQuery(ctx, chunk.Content)
		if err != nil {
			log.Fatal().Err(err).Msg("Error embedding chunk")
		}
		fragments = append(fragments, models.Fragment{
			Text:      chunk.Content,
			Page:      chunk.PageNumber,
			Position:  chunk.ChunkID,
			Section:   chunk.Section,
			Embedding: vec,
		})
	}

	if a.sqlStore != nil {
		doc := &db.Document{PatientID: patientID, Type: reportType, FilePointer: filePath}
		if err := a.sqlStore.InsertDocument(ctx, doc); err != nil {
			log.Fatal().Err(err).Msg("Error storing report")
		}
		rows := make([]db.Fragment, len(fragments))
		for i, f := range fragments {
			rows[i] = db.Fragment{
				DocumentID: doc.ID,
				Text:       f.Text,
				Page:       f.Page,
				Position:   f.Position,
				Section:    f.Section,
				Embedding:  f.Embedding,
			}
		}
		if err := a.sqlStore.InsertFragments(ctx, rows); err != nil {
			log.Fatal().Err(err).Msg("Error storing fragments")
		}
	} else {
		// Chromem mode mints synthetic identifiers; the batch ID ties the
		// fragments back to this ingestion in the logs.
		batchID, err := helper.GenerateUUID()
		if err != nil {
			log.Fatal().Err(err).Msg("Error generating batch ID")
		}
		docID := time.Now().UnixNano()
		for i := range fragments {
			fragments[i].ID = int64(i + 1)
			fragments[i].DocumentID = docID
		}
		if err := a.chromem.AddFragments(ctx, patientID, fragments); err != nil {
			log.Fatal().Err(err).Msg("Error indexing fragments")
		}
		log.Info().Str("batch", batchID).Int64("report_id", docID).Msg("Report indexed")
	}
	log.Info().Int("fragments", len(fragments)).Str("file", filePath).Msg("Ingestion complete")
}

func (a *app) annotate(ctx context.Context, patientID int64, note string) {
	if a.sqlStore == nil {
		log.Fatal().Msg("Annotations require the database backend")
	}
	annotation, err := a.sqlStore.SaveAnnotation(ctx, patientID, note)
	if err != nil {
		log.Fatal().Err(err).Msg("Error saving annotation")
	}
	log.Info().Int64("annotation_id", annotation.ID).Msg("Annotation saved")
}

func (a *app) addPatient(ctx context.Context, name string) {
	if a.sqlStore == nil {
		log.Fatal().Msg("Registering patients requires the database backend")
	}
	patient := &db.Patient{DisplayName: name}
	if err := a.sqlStore.InsertPatient(ctx, patient); err != nil {
		log.Fatal().Err(err).Msg("Error registering patient")
	}
	log.Info().Int64("patient_id", patient.ID).Str("name", name).Msg("Patient registered")
}

func (a *app) showSummary(ctx context.Context, patientID int64) {
	if a.sqlStore == nil {
		log.Fatal().Msg("Stored summaries require the database backend")
	}
	record, err := a.sqlStore.FetchSummary(ctx, patientID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error fetching summary")
	}
	fmt.Printf("Generated at %s\n%s\n", record.GeneratedAt.Format(time.RFC3339), record.SummaryJSON)
}

func (a *app) listAnnotations(ctx context.Context, patientID int64) {
	if a.sqlStore == nil {
		log.Fatal().Msg("Annotations require the database backend")
	}
	annotations, err := a.sqlStore.ListAnnotations(ctx, patientID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error listing annotations")
	}
	for _, annotation := range annotations {
		fmt.Printf("%d\t%s\t%s\n", annotation.ID, annotation.CreatedAt.Format(time.RFC3339), annotation.Note)
	}
}

func (a *app) listPatients(ctx context.Context) {
	if a.sqlStore == nil {
		log.Fatal().Msg("Listing patients requires the database backend")
	}
	patients, err := a.sqlStore.ListPatients(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error listing patients")
	}
	for _, p := range patients {
		fmt.Printf("%d\t%s\n", p.ID, p.DisplayName)
	}
}

func (a *app) patientLabel(ctx context.Context, patientID int64) string {
	if a.sqlStore != nil {
		if patient, err := a.sqlStore.GetPatient(ctx, patientID); err == nil {
			return patient.DisplayName
		}
	}
	return fmt.Sprintf("patient %d", patientID)
}

func splitKeywords(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, kw := range strings.Split(s, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
