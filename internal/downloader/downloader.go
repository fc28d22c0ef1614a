// Package downloader implements the Downloader component (spec §4.2):
// HTTPS-only archive fetch with retry/backoff, certificate pinning,
// post-download integrity checks, and politeness delays between
// successive fetches. Grounded on the teacher's binance_downloader
// (cmd/binance_downloader/main.go — MD5 checksum verify, streamed
// download-to-file idiom) with retry/backoff adopted from
// github.com/cenkalti/backoff/v4 per AKJUS-bsc-erigon's go.mod.
package downloader

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.uber.org/zap"

	"fiidata/internal/applog"
	"fiidata/internal/calendar"
	"fiidata/internal/pipeline"
)

const minArchiveBytes = 128 // warn-only threshold (spec §4.2 post-verification c)

// Outcome is the three-valued result of one Fetch call (spec §4.2's
// public contract: {ok, permanent_fail, transient_fail}).
type Outcome struct {
	OK              bool
	PermanentFail   bool
	TransientFail   bool
	NotYetPublished bool
	Path            string
}

// Config bundles the downloader's tunables, lifted from spec §6.4.
type Config struct {
	BaseURL        string
	DataDir        string
	MaxRetries     int
	BackoffFactor  float64
	WaitMin        time.Duration
	WaitMax        time.Duration
	CertRotation   time.Duration
	StrictPinning  bool
	PinStorePath   string
}

// Downloader is the Downloader component.
type Downloader struct {
	cfg    Config
	client *http.Client
	pins   *PinStore
	logger applog.Logger
}

// New builds a Downloader, loading (or creating) the pin history file
// named in cfg.PinStorePath.
func New(cfg Config, logger applog.Logger) (*Downloader, error) {
	pins, err := LoadPinStore(cfg.PinStorePath)
	if err != nil {
		return nil, err
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Minute},
		pins:   pins,
		logger: logger,
	}, nil
}

// Fetch downloads archiveName into cfg.DataDir, per spec §4.2's full
// behavior: HTTPS-only, HEAD precheck (404 is permanent/not-yet-
// published), retried GET with exponential backoff, certificate pin
// check, and post-download ZIP integrity verification.
func (d *Downloader) Fetch(ctx context.Context, archiveName string) (Outcome, error) {
	target, err := url.Parse(d.cfg.BaseURL + "/" + archiveName)
	if err != nil {
		return Outcome{PermanentFail: true}, fmt.Errorf("downloader: bad url for %s: %w", archiveName, err)
	}
	if target.Scheme != "https" {
		return Outcome{PermanentFail: true}, fmt.Errorf("downloader: refusing non-https url %s", target)
	}

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return Outcome{PermanentFail: true}, fmt.Errorf("downloader: build HEAD request: %w", err)
	}
	headResp, err := d.client.Do(headReq)
	if err == nil {
		headResp.Body.Close()
		if headResp.StatusCode == http.StatusNotFound {
			return Outcome{PermanentFail: true, NotYetPublished: true},
				pipeline.NetworkPermanentError{Archive: archiveName, NotYetPublished: true}
		}
	}

	destPath := filepath.Join(d.cfg.DataDir, archiveName)
	var lastResp *http.Response
	retryErr := backoff.Retry(func() error {
		resp, err := d.attemptDownload(ctx, target.String(), destPath)
		lastResp = resp
		return err
	}, d.retryPolicy(ctx))

	if retryErr != nil {
		if lastResp != nil && lastResp.StatusCode == http.StatusNotFound {
			return Outcome{PermanentFail: true, NotYetPublished: true},
				pipeline.NetworkPermanentError{Archive: archiveName, NotYetPublished: true}
		}
		return Outcome{TransientFail: true}, pipeline.NetworkTransientError{Archive: archiveName, Err: retryErr}
	}

	if err := d.verifyIntegrity(destPath); err != nil {
		os.Remove(destPath)
		return Outcome{PermanentFail: true}, err
	}

	return Outcome{OK: true, Path: destPath}, nil
}

// retryPolicy builds an exponential backoff honoring cfg.BackoffFactor
// and cfg.MaxRetries (delay = backoff_factor ** attempt, per spec §4.2).
func (d *Downloader) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.Multiplier = d.cfg.BackoffFactor
	if eb.Multiplier <= 1 {
		eb.Multiplier = 2
	}
	eb.InitialInterval = time.Second
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0 // bounded by WithMaxRetries instead
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxInt(d.cfg.MaxRetries, 0))), ctx)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// attemptDownload performs one GET, streaming the body to destPath and
// checking the TLS leaf certificate's fingerprint against the pin store.
// A 404 here is returned as a permanent (non-retryable) error via
// backoff.Permanent.
func (d *Downloader) attemptDownload(ctx context.Context, rawURL, destPath string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err // transient: network error, let backoff retry
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp, backoff.Permanent(fmt.Errorf("archive not found"))
	}
	if resp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if resp.TLS != nil {
		if err := d.checkPin(req.URL.Hostname(), resp.TLS); err != nil {
			return resp, backoff.Permanent(err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return resp, backoff.Permanent(fmt.Errorf("downloader: mkdir: %w", err))
	}
	out, err := os.Create(destPath)
	if err != nil {
		return resp, backoff.Permanent(fmt.Errorf("downloader: create %s: %w", destPath, err))
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return resp, fmt.Errorf("downloader: stream body: %w", err)
	}
	return resp, nil
}

// checkPin fingerprints the leaf certificate and checks it against the
// pin store; a mismatch is logged to the security channel but does not
// abort the download unless StrictPinning is set.
func (d *Downloader) checkPin(host string, state *tls.ConnectionState) error {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	sum := sha256.Sum256(state.PeerCertificates[0].Raw)
	fingerprint := fmt.Sprintf("%x", sum)

	status, err := d.pins.Check(host, fingerprint, d.cfg.CertRotation, time.Now().UTC())
	if err != nil {
		d.logger.Warn(applog.Security, "pin store update failed", zap.Error(err), zap.String("host", host))
	}
	switch status {
	case PinMismatch:
		d.logger.Warn(applog.Security, "certificate pin mismatch",
			zap.String("host", host), zap.String("fingerprint", fingerprint))
		if d.cfg.StrictPinning {
			return pipeline.IntegrityViolationError{Archive: host, Reason: "certificate pin mismatch"}
		}
	case PinRotatedAccepted:
		d.logger.Info(applog.Security, "certificate pin rotated", zap.String("host", host))
	}
	return nil
}

// verifyIntegrity checks (a) the file is a valid ZIP, (b) it has at
// least one member, (c) it exceeds a minimum byte threshold (warn only).
func (d *Downloader) verifyIntegrity(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("downloader: stat %s: %w", path, err)
	}
	if info.Size() < minArchiveBytes {
		d.logger.Warn(applog.Download, "archive smaller than expected threshold", zap.String("path", path), zap.Int64("bytes", info.Size()))
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return pipeline.IntegrityViolationError{Archive: filepath.Base(path), Reason: fmt.Sprintf("not a valid zip: %v", err)}
	}
	defer r.Close()
	if len(r.File) == 0 {
		return pipeline.IntegrityViolationError{Archive: filepath.Base(path), Reason: "zip has no members"}
	}
	return nil
}

// PoliteSleep blocks for a uniform random duration in [WaitMin, WaitMax],
// the politeness delay spec §4.2 requires between successive downloads.
func (d *Downloader) PoliteSleep(ctx context.Context) {
	lo, hi := d.cfg.WaitMin, d.cfg.WaitMax
	if hi <= lo {
		select {
		case <-ctx.Done():
		case <-time.After(lo):
		}
		return
	}
	jitter := time.Duration(rand.Int63n(int64(hi - lo)))
	select {
	case <-ctx.Done():
	case <-time.After(lo + jitter):
	}
}

// MissingTradingDays computes the set of trading days between
// lastProcessed (exclusive) and today (inclusive), per spec §4.2's
// "auto" mode scheduling.
func MissingTradingDays(oracle calendar.CalendarOracle, lastProcessed, today time.Time) []time.Time {
	if !lastProcessed.Before(today) {
		return nil
	}
	start := lastProcessed.AddDate(0, 0, 1)
	return oracle.TradingDaysBetween(start, today)
}

// ArchiveNameForDay builds the daily archive filename for day, per spec
// §4.1's COTAHIST_D<DDMMYYYY>.ZIP pattern.
func ArchiveNameForDay(day time.Time) string {
	return fmt.Sprintf("COTAHIST_D%s.ZIP", day.Format("02012006"))
}
