package core

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/metrics"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

// Upload is one file handed to the pipeline.
type Upload interface {
	Name() string
	// MediaType is the declared media type, possibly with parameters.
	MediaType() string
	Read() ([]byte, error)
}

// BytesUpload is an Upload already held in memory.
type BytesUpload struct {
	FileName string
	Type     string
	Data     []byte
}

func (u BytesUpload) Name() string          { return u.FileName }
func (u BytesUpload) MediaType() string     { return u.Type }
func (u BytesUpload) Read() ([]byte, error) { return u.Data, nil }

// IngestResult is the per-file outcome. Content is set only for processed
// files; Error carries a readable cause for files in the error status.
type IngestResult struct {
	File    store.KnowledgeFile `json:"file"`
	Content string              `json:"-"`
	Error   string              `json:"error,omitempty"`
}

const defaultIngestConcurrency = 4

type IngestionPipeline struct {
	log         *logger.Logger
	blobs       blob.Store
	extractor   Extractor
	concurrency int
}

func NewIngestionPipeline(log *logger.Logger, blobs blob.Store, extractor Extractor) *IngestionPipeline {
	return &IngestionPipeline{
		log:         log.With("service", "IngestionPipeline"),
		blobs:       blobs,
		extractor:   extractor,
		concurrency: defaultIngestConcurrency,
	}
}

// Process ingests every upload independently and returns one result per
// upload in input order. It never fails as a batch.
func (p *IngestionPipeline) Process(ctx context.Context, ownerID string, uploads []Upload) []IngestResult {
	results := make([]IngestResult, len(uploads))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, u := range uploads {
		i, u := i, u
		g.Go(func() error {
			results[i] = p.processOne(ctx, ownerID, u)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		metrics.IngestedFiles.WithLabelValues(string(r.File.Status)).Inc()
	}
	return results
}

func (p *IngestionPipeline) processOne(ctx context.Context, ownerID string, u Upload) IngestResult {
	file := store.KnowledgeFile{Name: u.Name(), Type: u.MediaType()}

	switch baseMediaType(u.MediaType()) {
	case "text/plain", "text/csv":
		data, err := u.Read()
		if err != nil {
			return p.failed(file, fmt.Errorf("failed to read file: %w", err))
		}
		file.Status = store.FileProcessed
		return IngestResult{File: file, Content: NormalizeText(string(data))}

	case "application/pdf":
		return p.ingestDocument(ctx, ownerID, file, u)

	default:
		file.Status = store.FileUnsupported
		return IngestResult{File: file}
	}
}

// ingestDocument uploads the original, then extracts its text. The upload is
// removed again if anything after it fails.
func (p *IngestionPipeline) ingestDocument(ctx context.Context, ownerID string, file store.KnowledgeFile, u Upload) IngestResult {
	if strings.TrimSpace(ownerID) == "" {
		return p.failed(file, ErrUnauthenticated)
	}
	data, err := u.Read()
	if err != nil {
		return p.failed(file, fmt.Errorf("failed to read file: %w", err))
	}

	b := blob.Blob{Name: file.Name, ContentType: baseMediaType(file.Type), Data: data}
	locator, err := p.blobs.Put(ctx, b, ownerID)
	if err != nil {
		return p.failed(file, fmt.Errorf("failed to upload file: %w", err))
	}

	text, err := extract(ctx, p.extractor, b)
	if err != nil {
		p.blobs.Delete(context.WithoutCancel(ctx), locator)
		return p.failed(file, err)
	}

	file.Status = store.FileProcessed
	file.StorageLocator = locator
	return IngestResult{File: file, Content: text}
}

func (p *IngestionPipeline) failed(file store.KnowledgeFile, err error) IngestResult {
	p.log.Warn("File ingestion failed", "file", file.Name, "error", err)
	file.Status = store.FileError
	return IngestResult{File: file, Error: err.Error()}
}

var errEmptyExtraction = errors.New("text extraction returned no content")

// extract runs the extractor and normalizes its answer. The NoTextFound
// sentinel is a successful extraction of nothing.
func extract(ctx context.Context, extractor Extractor, b blob.Blob) (string, error) {
	text, err := extractor.ExtractText(ctx, b)
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}
	text = strings.TrimSpace(text)
	switch text {
	case "":
		return "", errEmptyExtraction
	case NoTextFound:
		return "", nil
	}
	return NormalizeText(text), nil
}

func baseMediaType(declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mt
}

// NormalizeText prepares extracted text for the corpus: no byte order mark,
// LF line endings, no line that could be read as a block header, and no
// surrounding whitespace.
func NormalizeText(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSpace(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "--- FILE: ") || strings.HasPrefix(line, "--- TIMETABLE: ") {
			lines[i] = " " + line
		}
	}
	return strings.Join(lines, "\n")
}
