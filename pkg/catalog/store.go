package catalog

import (
	"context"
	"io/fs"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/skillgate/skillgate/pkg/logger"
)

// Store holds the catalog snapshot readers consult. Reload is the only write
// path: it builds a new catalog entirely off to the side and atomically swaps
// the pointer, so in-flight readers never observe a half-updated corpus and a
// failed reload leaves the previous snapshot serving.
type Store struct {
	snap atomic.Pointer[Catalog]
}

// NewStore returns an empty store; Snapshot is nil until a Reload succeeds.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns the current catalog, or nil before the first successful
// load. The returned catalog is immutable and safe to use for a whole
// invocation even if reloads happen concurrently.
func (s *Store) Snapshot() *Catalog {
	return s.snap.Load()
}

// Ready reports whether a catalog is being served.
func (s *Store) Ready() bool {
	return s.snap.Load() != nil
}

// Reload loads the corpus from fsys and swaps it in. On validation failure
// nothing is applied and the error lists every violation found.
func (s *Store) Reload(ctx context.Context, fsys fs.FS) (*Catalog, error) {
	cat, err := Load(ctx, fsys)
	if err != nil {
		return nil, err
	}

	if old := s.snap.Load(); old != nil {
		cat.generation = old.generation + 1
	} else {
		cat.generation = 1
	}
	s.snap.Store(cat)

	logger.G(ctx).WithFields(logrus.Fields{
		"generation":  cat.Generation(),
		"definitions": cat.Len(),
		"fingerprint": cat.Fingerprint()[:12],
	}).Info("catalog swapped")
	return cat, nil
}
