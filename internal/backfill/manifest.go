// Package backfill resolves the job numbers named by an admin bulk
// mark-done request: an inline list, a manifest object, or both.
package backfill

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/JakeFAU/shard-coordinator/internal/blob"
	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// maxManifestLine bounds a single manifest line.
const maxManifestLine = 1 << 20

// Loader reads manifests from blob storage.
type Loader struct {
	blobs blob.Store
}

// NewLoader builds a Loader. A nil store rejects manifest references.
func NewLoader(blobs blob.Store) *Loader {
	return &Loader{blobs: blobs}
}

// Resolve merges inline numbers with the manifest's, returning a sorted,
// de-duplicated list.
func (l *Loader) Resolve(ctx context.Context, numbers []int64, manifest string) ([]int64, error) {
	out := slices.Clone(numbers)
	if manifest = strings.TrimSpace(manifest); manifest != "" {
		fromManifest, err := l.load(ctx, manifest)
		if err != nil {
			return nil, err
		}
		out = append(out, fromManifest...)
	}
	for _, n := range out {
		if n <= 0 {
			return nil, fmt.Errorf("%w: job number %d", jobs.ErrBadInput, n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no job numbers given", jobs.ErrBadInput)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (l *Loader) load(ctx context.Context, manifest string) ([]int64, error) {
	if l == nil || l.blobs == nil {
		return nil, fmt.Errorf("%w: manifests are not enabled", jobs.ErrBadInput)
	}
	rc, err := l.blobs.GetObject(ctx, manifest)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: manifest %s not found", jobs.ErrBadInput, manifest)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return Parse(rc)
}

// Parse reads job numbers separated by whitespace or commas. Text after #
// on a line is ignored.
func Parse(r io.Reader) ([]int64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxManifestLine)
	var out []int64
	line := 0
	for sc.Scan() {
		line++
		text, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		for _, f := range fields {
			n, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: manifest line %d: %q is not a job number", jobs.ErrBadInput, line, f)
			}
			out = append(out, n)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	return out, nil
}
