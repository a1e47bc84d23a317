package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/structrec/structrec/service/assemble"
	"github.com/structrec/structrec/service/graph"
	"github.com/structrec/structrec/service/logger"
)

// ArtifactStore writes and reads per-partition build artifacts under a
// single directory, gzipped.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) ArtifactStore {
	return ArtifactStore{dir: dir}
}

func (s ArtifactStore) ContextTablePath(city string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.context.bin.gz", city))
}

func (s ArtifactStore) NeighborGraphPath(city string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.neighbors.json.gz", city))
}

func (s ArtifactStore) WriteContextTable(ctx context.Context, t *assemble.ContextTable) (int, error) {
	b, err := t.MarshalBinary()
	if err != nil {
		return 0, errors.Wrapf(err, "encoding context table for %s", t.City)
	}
	n, err := s.writeGzip(s.ContextTablePath(t.City), b)
	if err != nil {
		return n, err
	}
	logger.For(ctx).Infof("wrote %d context entries for %s to %s", len(t.Entries), t.City, s.ContextTablePath(t.City))
	return n, nil
}

func (s ArtifactStore) ReadContextTable(ctx context.Context, city string) (*assemble.ContextTable, error) {
	f, err := os.Open(s.ContextTablePath(city))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading context table for %s", city)
	}
	defer gz.Close()

	var t assemble.ContextTable
	if err := t.UnmarshalBinaryFrom(gz); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s ArtifactStore) WriteNeighborGraph(ctx context.Context, city string, g *graph.Graph) (int, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return 0, errors.Wrapf(err, "encoding neighbor graph for %s", city)
	}
	n, err := s.writeGzip(s.NeighborGraphPath(city), b)
	if err != nil {
		return n, err
	}
	logger.For(ctx).Infof("wrote neighbor graph for %s to %s", city, s.NeighborGraphPath(city))
	return n, nil
}

// writeGzip writes to a temp file and renames it into place so an
// interrupted build never leaves a truncated artifact behind.
func (s ArtifactStore) writeGzip(path string, b []byte) (int, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	gz := gzip.NewWriter(f)
	n, err := io.Copy(gz, bytes.NewReader(b))
	if err == nil {
		err = gz.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return int(n), err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return int(n), err
	}
	return int(n), nil
}
