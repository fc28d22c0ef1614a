package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"fiidata/internal/quote"
)

// defaultChunkLines is the approximate chunk size used when fanning out
// yearly/monthly archives to the worker pool (spec §4.1).
const defaultChunkLines = 100_000

// ParseResult is the outcome of decoding one archive's extracted text:
// the retained records plus a count of lines that failed decoding
// (spec's "malformed" counter — never fatal).
type ParseResult struct {
	Records   []quote.Quote
	Malformed int
}

// ParseReader decodes every line of r single-threaded, in encounter
// order. Used for daily archives and as the chunk worker for parallel
// parsing.
func ParseReader(r io.Reader) (ParseResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var out ParseResult
	for scanner.Scan() {
		q, retained, err := DecodeLine(scanner.Bytes())
		if err != nil {
			out.Malformed++
			continue
		}
		if retained {
			out.Records = append(out.Records, q)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan: %w", err)
	}
	return out, nil
}

// DefaultWorkerCount returns CPU count minus 1, floored at 1, as spec
// §4.1 prescribes for the chunk worker pool.
func DefaultWorkerCount() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// ParseFileParallel splits the text file at path into line-aligned chunks
// of approximately chunkLines lines each and fans them out to workers
// concurrent workers (errgroup-bounded). Order of returned records is
// irrelevant — the store deduplicates on (date, ticker) — so results from
// all chunks are simply concatenated in chunk order once every chunk has
// finished.
//
// Chunk boundaries never split a line: chunking is done by reading whole
// lines into an in-memory chunk buffer before dispatch, exactly as spec
// §4.1 requires.
func ParseFileParallel(ctx context.Context, path string, workers, chunkLines int) (ParseResult, error) {
	if workers < 1 {
		workers = DefaultWorkerCount()
	}
	if chunkLines < 1 {
		chunkLines = defaultChunkLines
	}

	f, err := os.Open(path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	chunks, err := splitIntoChunks(f, chunkLines)
	if err != nil {
		return ParseResult{}, fmt.Errorf("split %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return ParseResult{}, nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	results := make([]ParseResult, len(chunks))
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			res, err := ParseReader(newlineJoinedReader(chunk))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ParseResult{}, err
	}

	var merged ParseResult
	for _, r := range results {
		merged.Records = append(merged.Records, r.Records...)
		merged.Malformed += r.Malformed
	}
	return merged, nil
}

// splitIntoChunks reads r line by line, grouping lines into chunks of at
// most chunkLines lines. Lines are never split across chunks.
func splitIntoChunks(r io.Reader, chunkLines int) ([][][]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var chunks [][][]byte
	var current [][]byte
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		current = append(current, line)
		if len(current) >= chunkLines {
			chunks = append(chunks, current)
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

// newlineJoinedReader adapts a slice of lines back into an io.Reader so
// each chunk worker can reuse ParseReader's bufio.Scanner-based decoding.
func newlineJoinedReader(lines [][]byte) io.Reader {
	readers := make([]io.Reader, 0, len(lines)*2)
	for _, l := range lines {
		readers = append(readers, bytes.NewReader(l), bytes.NewReader([]byte("\n")))
	}
	return io.MultiReader(readers...)
}
