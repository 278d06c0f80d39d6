// Package loader submits the record files of a directory as one pipeline batch
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

var (
	// ErrDirNotFound is returned when the data directory does not exist
	ErrDirNotFound = errors.New("data directory not found")

	// ErrNoFiles is returned when the data directory holds no loadable file
	ErrNoFiles = errors.New("no record files found")
)

// file name fragments checked in order
var sourceTypeHints = []struct {
	fragment   string
	sourceType models.SourceType
}{
	{"natural", models.SourceTypeNaturalization},
	{"immig", models.SourceTypeImmigration},
	{"census", models.SourceTypeCensus},
	{"obit", models.SourceTypeObituary},
	{"birth", models.SourceTypeBirth},
}

// InferSourceType guesses the source type from a file name, defaulting to naturalization
func InferSourceType(fileName string) models.SourceType {
	lower := strings.ToLower(filepath.Base(fileName))
	for _, hint := range sourceTypeHints {
		if strings.Contains(lower, hint.fragment) {
			return hint.sourceType
		}
	}
	return models.SourceTypeNaturalization
}

// recordFile is the on-disk layout of a record file
type recordFile struct {
	RecordType string           `json:"record_type,omitempty"`
	Records    []map[string]any `json:"records"`
}

// File describes a loadable record file
type File struct {
	Name       string            `json:"name"`
	Records    int               `json:"records"`
	SourceType models.SourceType `json:"type"`
}

// ReadFile decodes a record file into an ingest request. An explicit record_type in
// the file wins over the file name.
func ReadFile(path string) (models.IngestRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.IngestRequest{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var rf recordFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return models.IngestRequest{}, fmt.Errorf("invalid record file %s: %w", filepath.Base(path), err)
	}

	sourceType := InferSourceType(path)
	if explicit, err := models.ParseSourceType(rf.RecordType); err == nil {
		sourceType = explicit
	}

	return models.IngestRequest{
		SourceType: string(sourceType),
		FileName:   filepath.Base(path),
		Records:    rf.Records,
	}, nil
}

// ListFiles returns the *.json files of dir in name order. Unreadable files are skipped.
func ListFiles(dir string) ([]File, error) {
	paths, err := jsonFiles(dir)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(paths))
	for _, path := range paths {
		req, err := ReadFile(path)
		if err != nil {
			continue
		}
		files = append(files, File{Name: req.FileName, Records: len(req.Records), SourceType: models.SourceType(req.SourceType)})
	}
	return files, nil
}

func jsonFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrDirNotFound)
	}
	// Glob returns names in lexical order
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return paths, nil
}

// Submitter queues several files as one batch
type Submitter interface {
	SubmitBatch(ctx context.Context, batchID string, reqs []models.IngestRequest) ([]models.IngestResponse, error)
}

// Result reports what LoadDir submitted
type Result struct {
	Message string                  `json:"message"`
	BatchID string                  `json:"batch_id,omitempty"`
	JobIDs  []int64                 `json:"job_ids"`
	Jobs    []models.IngestResponse `json:"jobs"`
	Skipped map[string]string       `json:"skipped,omitempty"`
}

type Loader struct {
	dir       string
	submitter Submitter
	logger    ectologger.Logger
}

func NewLoader(dir string, submitter Submitter, logger ectologger.Logger) *Loader {
	return &Loader{dir: dir, submitter: submitter, logger: logger}
}

// Dir returns the directory the loader reads
func (l *Loader) Dir() string {
	return l.dir
}

// LoadDir submits every record file of the directory under one batch id. Files that
// can not be decoded or hold no records are skipped and reported.
func (l *Loader) LoadDir(ctx context.Context) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "loader.Loader.LoadDir")
	defer span.End()

	paths, err := jsonFiles(l.dir)
	if err != nil {
		return Result{}, err
	}

	result := Result{Skipped: map[string]string{}}
	reqs := make([]models.IngestRequest, 0, len(paths))
	for _, path := range paths {
		req, err := ReadFile(path)
		if err != nil {
			l.logger.WithContext(ctx).WithError(err).WithField("file", filepath.Base(path)).Warn("Skipping unreadable record file")
			result.Skipped[filepath.Base(path)] = err.Error()
			continue
		}
		if len(req.Records) == 0 {
			result.Skipped[req.FileName] = "no records"
			continue
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return result, fmt.Errorf("%s: %w", l.dir, ErrNoFiles)
	}

	responses, err := l.submitter.SubmitBatch(ctx, "", reqs)
	result.Jobs = responses
	result.JobIDs = ectolinq.Map(responses, func(r models.IngestResponse) int64 { return r.JobID })
	if len(responses) > 0 {
		result.BatchID = responses[0].BatchID
	}
	result.Message = fmt.Sprintf("Processing %d files", len(responses))
	if err != nil {
		tracing.RecordError(span, err)
		return result, err
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id": result.BatchID,
		"files":    len(responses),
		"skipped":  len(result.Skipped),
	}).Info("Submitted record files")
	return result, nil
}
