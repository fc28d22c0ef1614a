// Package ingest implements the Ingestor orchestrator (spec §4.5): the
// ten-step discover → extract → parse → insert → record flow, with
// per-archive failure isolation modeled on the teacher pack's
// ProcessDirectory orchestration (guttosm-b3pulse internal/ingestion):
// idempotency check via the ledger, delete-then-reprocess on a modified
// verdict, and a worker-pool fan-out for the CPU-bound parse step. Unlike
// that reference, archives here are isolated on failure rather than
// cancelling the whole run, per spec §4.5's "failure inside steps 3-7
// aborts this archive" contract.
package ingest

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fiidata/internal/applog"
	"fiidata/internal/calendar"
	"fiidata/internal/ledger"
	"fiidata/internal/parser"
	"fiidata/internal/pipeline"
	"fiidata/internal/quote"
)

// chunkLines mirrors the parser package's own default; kept local to
// avoid exporting an otherwise-internal constant just for this caller.
const chunkLines = 100_000

// smallArchiveLineThreshold: daily archives (or anything at/below this
// size) are parsed single-threaded per spec §4.1 ("for yearly/monthly
// archives only" chunked parallelism is used).
const smallArchiveLineThreshold = 50_000

// QuoteWriter is the write-side of QuoteStore the Ingestor depends on.
type QuoteWriter interface {
	BulkInsert(ctx context.Context, records []quote.Quote) (int64, error)
	DeleteRange(ctx context.Context, from, to string) (int64, error)
}

// Ingestor is the orchestrator component.
type Ingestor struct {
	ledger            *ledger.Ledger
	quotes            QuoteWriter
	oracle            calendar.CalendarOracle
	logger            applog.Logger
	extractRetries    int
	extractRetryDelay time.Duration
	workers           int
}

// Option configures an Ingestor at construction time.
type Option func(*Ingestor)

// WithExtractRetries overrides the ZIP-extraction retry policy.
func WithExtractRetries(attempts int, delay time.Duration) Option {
	return func(ig *Ingestor) {
		ig.extractRetries = attempts
		ig.extractRetryDelay = delay
	}
}

// WithWorkers overrides the chunk-parsing worker count.
func WithWorkers(workers int) Option {
	return func(ig *Ingestor) { ig.workers = workers }
}

// New builds an Ingestor over its collaborators.
func New(l *ledger.Ledger, quotes QuoteWriter, oracle calendar.CalendarOracle, logger applog.Logger, opts ...Option) *Ingestor {
	ig := &Ingestor{
		ledger:            l,
		quotes:            quotes,
		oracle:            oracle,
		logger:            logger,
		extractRetries:    3,
		extractRetryDelay: 200 * time.Millisecond,
		workers:           parser.DefaultWorkerCount(),
	}
	for _, opt := range opts {
		opt(ig)
	}
	return ig
}

// ArchiveResult reports the outcome of processing one archive.
type ArchiveResult struct {
	Archive      quote.Archive
	Verdict      quote.LedgerVerdict
	RowsInserted int64
	Malformed    int
	Skipped      bool // true when the verdict was Unchanged
}

// ProcessAll processes every archive path in ascending chronological
// order of the archive's date range (spec §5), isolating failures per
// archive: a failed archive is logged and skipped, never aborting the
// rest of the run. Every log line ProcessAll itself writes carries the
// same run_id so a single invocation's archives can be correlated
// afterward; lines logged inside ProcessArchive do not carry it.
func (ig *Ingestor) ProcessAll(ctx context.Context, archivePaths []string) ([]ArchiveResult, error) {
	runID := uuid.New().String()

	type classified struct {
		path string
		name string
		kind quote.Kind
		from string
	}
	var entries []classified
	for _, path := range archivePaths {
		name := filepath.Base(path)
		kind, from, _, err := parser.ClassifyArchive(name, ig.oracle)
		if err != nil {
			ig.logger.Warn(applog.Ingest, "skipping unclassifiable archive", zap.Error(err), zap.String("archive", name), zap.String("run_id", runID))
			continue
		}
		entries = append(entries, classified{path: path, name: name, kind: kind, from: from})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].from < entries[j].from })

	ig.logger.Info(applog.Ingest, "starting ingest run", zap.String("run_id", runID), zap.Int("archives", len(entries)))

	results := make([]ArchiveResult, 0, len(entries))
	for _, e := range entries {
		result, err := ig.ProcessArchive(ctx, e.path)
		if err != nil {
			ig.logger.Error(applog.Ingest, "archive processing failed, ledger untouched", zap.Error(err), zap.String("archive", e.name), zap.String("run_id", runID))
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// ProcessArchive runs the exact ten-step flow of spec §4.5 for one
// archive. Failure in steps 3-7 is returned without ever calling
// ledger.Record, so a retry later observes the archive as unseen/modified
// again; rows already inserted before the failure are left in place
// since bulk_insert is idempotent.
func (ig *Ingestor) ProcessArchive(ctx context.Context, archivePath string) (ArchiveResult, error) {
	name := filepath.Base(archivePath)

	// 1. Hash the compressed bytes (content survives deletion of any
	// extracted text).
	hash, err := hashFile(archivePath)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("ingest: hash %s: %w", name, err)
	}

	// 2. Consult the ledger.
	verdict, err := ig.ledger.IsProcessed(ctx, name, hash)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("ingest: is_processed %s: %w", name, err)
	}
	if verdict == quote.Unchanged {
		// Nothing is re-parsed, but the ledger entry is re-recorded with 0
		// new rows so processed_at advances.
		kind, _, _, err := parser.ClassifyArchive(name, ig.oracle)
		if err != nil {
			return ArchiveResult{}, fmt.Errorf("ingest: classify %s: %w", name, err)
		}
		if err := ig.ledger.Record(ctx, name, kind, 0, hash); err != nil {
			return ArchiveResult{}, fmt.Errorf("ingest: record %s: %w", name, err)
		}
		return ArchiveResult{Archive: quote.Archive{Name: name, Path: archivePath}, Verdict: verdict, Skipped: true}, nil
	}

	// 3. Extract the embedded fixed-width file, with retries.
	tmpPath, err := ig.extractWithRetries(ctx, archivePath)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("ingest: extract %s: %w", name, err)
	}
	defer os.Remove(tmpPath) // step 9, deferred so it runs on every exit path

	// 4. Classify.
	kind, from, to, err := parser.ClassifyArchive(name, ig.oracle)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("ingest: classify %s: %w", name, err)
	}
	archive := quote.Archive{Name: name, Path: archivePath, Kind: kind, From: from, To: to}

	// 5. On a modified verdict, supersede the archive's prior rows.
	if verdict == quote.Modified {
		if _, err := ig.quotes.DeleteRange(ctx, from, to); err != nil {
			return ArchiveResult{}, fmt.Errorf("ingest: delete_range %s: %w", name, err)
		}
	}

	// 6. Single-threaded for daily/small archives, else chunked parallel.
	parseResult, err := ig.parse(ctx, tmpPath, kind)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("ingest: parse %s: %w", name, err)
	}

	// 7. Bulk insert.
	inserted, err := ig.quotes.BulkInsert(ctx, parseResult.Records)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("ingest: bulk_insert %s: %w", name, err)
	}

	// 8. Record the ledger entry. Only now does this archive count as
	// durably processed.
	if err := ig.ledger.Record(ctx, name, kind, inserted, hash); err != nil {
		return ArchiveResult{}, fmt.Errorf("ingest: record %s: %w", name, err)
	}

	// 9. Temp-file cleanup already deferred above.
	// 10. Cache invalidation is the QuoteStore decorator's responsibility
	// (fiidata/internal/quotestore.Cached invalidates within BulkInsert
	// and DeleteRange themselves, in the same critical section).

	return ArchiveResult{
		Archive:      archive,
		Verdict:      verdict,
		RowsInserted: inserted,
		Malformed:    parseResult.Malformed,
	}, nil
}

func (ig *Ingestor) parse(ctx context.Context, path string, kind quote.Kind) (parser.ParseResult, error) {
	if kind == quote.KindDaily {
		return ig.parseSingleThreaded(path)
	}
	lineCount, err := countLines(path)
	if err != nil {
		return parser.ParseResult{}, err
	}
	if lineCount <= smallArchiveLineThreshold {
		return ig.parseSingleThreaded(path)
	}
	return parser.ParseFileParallel(ctx, path, ig.workers, chunkLines)
}

func (ig *Ingestor) parseSingleThreaded(path string) (parser.ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return parser.ParseResult{}, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()
	return parser.ParseReader(f)
}

// extractWithRetries extracts the sole member of the ZIP at archivePath
// into a temp file, retrying extract_retries times with
// extract_retry_delay between attempts on failure.
func (ig *Ingestor) extractWithRetries(ctx context.Context, archivePath string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= ig.extractRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(ig.extractRetryDelay):
			}
		}
		tmpPath, err := extractOnce(archivePath)
		if err == nil {
			return tmpPath, nil
		}
		lastErr = err
		ig.logger.Warn(applog.Ingest, "extract attempt failed", zap.Error(err), zap.String("archive", filepath.Base(archivePath)))
	}
	return "", fmt.Errorf("ingest: extraction exhausted %d retries: %w", ig.extractRetries, lastErr)
}

func extractOnce(archivePath string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", pipeline.IntegrityViolationError{Archive: filepath.Base(archivePath), Reason: err.Error()}
	}
	defer r.Close()
	if len(r.File) == 0 {
		return "", pipeline.IntegrityViolationError{Archive: filepath.Base(archivePath), Reason: "zip has no members"}
	}
	member := r.File[0]

	rc, err := member.Open()
	if err != nil {
		return "", fmt.Errorf("ingest: open zip member %s: %w", member.Name, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "fiidata-extract-*.txt")
	if err != nil {
		return "", fmt.Errorf("ingest: create temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, rc); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ingest: copy zip member: %w", err)
	}
	return tmp.Name(), nil
}

// hashFile computes an MD5 digest over the file's raw (compressed)
// bytes, per spec §3's "hashed over the compressed bytes" requirement.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, 64*1024)
	count := 0
	for {
		n, err := f.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] == '\n' {
				count++
			}
		}
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
	}
}
