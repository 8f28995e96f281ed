// Package snapshot periodically exports the job counts and the leaderboard
// to blob storage so progress survives a lost database.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/blob"
	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

const (
	summaryObject     = "summary.json"
	leaderboardObject = "leaderboard.json"
	latestDir         = "latest"
	stampLayout       = "20060102T150405Z"
)

// Source produces the documents written on each tick.
type Source interface {
	Summary(ctx context.Context) (jobs.Summary, error)
	LeaderboardJSON(ctx context.Context) ([]byte, error)
}

// Config controls the export cadence and object layout.
type Config struct {
	Interval time.Duration
	Prefix   string
}

// Result lists the URIs written by one export.
type Result struct {
	URIs []string
}

// Exporter writes timestamped and latest copies of each document.
type Exporter struct {
	cfg    Config
	src    Source
	blobs  blob.Store
	clock  jobs.Clock
	logger *zap.Logger
}

// New builds an Exporter.
func New(cfg Config, src Source, blobs blob.Store, clock jobs.Clock, logger *zap.Logger) (*Exporter, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("snapshot.interval must be > 0")
	}
	if src == nil || blobs == nil || clock == nil {
		return nil, fmt.Errorf("snapshot: source, blob store and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{cfg: cfg, src: src, blobs: blobs, clock: clock, logger: logger}, nil
}

// Run exports every interval until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := e.Export(ctx)
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Error("snapshot export failed", zap.Error(err))
				}
				continue
			}
			e.logger.Info("snapshot exported", zap.Strings("uris", res.URIs))
		}
	}
}

// Export writes one snapshot. The latest copies are only written once the
// timestamped ones succeed.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	sum, err := e.src.Summary(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot summary: %w", err)
	}
	summary, err := json.Marshal(sum)
	if err != nil {
		return Result{}, fmt.Errorf("encode summary: %w", err)
	}
	board, err := e.src.LeaderboardJSON(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot leaderboard: %w", err)
	}

	docs := []struct {
		name string
		body []byte
	}{
		{summaryObject, summary},
		{leaderboardObject, board},
	}
	stamp := e.clock.Now().UTC().Format(stampLayout)
	var res Result
	for _, dir := range []string{stamp, latestDir} {
		for _, doc := range docs {
			uri, err := e.blobs.PutObject(ctx, e.objectPath(dir, doc.name), "application/json", bytes.NewReader(doc.body))
			if err != nil {
				return res, fmt.Errorf("write %s/%s: %w", dir, doc.name, err)
			}
			res.URIs = append(res.URIs, uri)
		}
	}
	return res, nil
}

// Latest reads back the most recent copy of the named document. A missing
// snapshot wraps blob.ErrNotFound.
func (e *Exporter) Latest(ctx context.Context, name string) ([]byte, error) {
	rc, err := e.blobs.GetObject(ctx, e.objectPath(latestDir, name))
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", name, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) objectPath(dir, name string) string {
	return path.Join(e.cfg.Prefix, dir, name)
}
