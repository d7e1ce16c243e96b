package main

import (
	"context"
	"io/fs"
	"os"

	"github.com/pkg/errors"

	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/catalog/builtin"
	"github.com/skillgate/skillgate/pkg/presenter"
)

// corpusFS resolves the corpus source: an explicit directory when one is
// configured, the embedded builtin corpus otherwise.
func corpusFS(dir string) (fs.FS, error) {
	if dir == "" {
		return builtin.FS(), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "corpus directory %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("corpus path %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// loadCorpus builds a store serving the corpus at dir, or the builtin corpus
// when dir is empty.
func loadCorpus(ctx context.Context, dir string) (*catalog.Store, fs.FS, error) {
	fsys, err := corpusFS(dir)
	if err != nil {
		return nil, nil, err
	}
	store := catalog.NewStore()
	if _, err := store.Reload(ctx, fsys); err != nil {
		return nil, nil, err
	}
	return store, fsys, nil
}

// exitCorpusError reports a failed corpus load, listing every violation when
// the corpus was rejected by validation, and exits.
func exitCorpusError(err error) {
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		presenter.Error(errors.Errorf("corpus rejected with %d violation(s)", len(verr.Violations)), "corpus validation failed")
		for _, v := range verr.Violations {
			presenter.Info("  " + v.String())
		}
		os.Exit(1)
	}
	presenter.Error(err, "failed to load the corpus")
	os.Exit(1)
}
