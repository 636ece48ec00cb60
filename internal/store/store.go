// Package store persists pipeline tables as CSV files in the data directory
// and reads them back for the agent tools.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/seenimoa/stockagent/internal/frame"
	"github.com/seenimoa/stockagent/internal/transform"
)

// Table file names under the data directory.
const (
	AllPrices        = "all_prices.csv"
	HistoricalPrices = "historical_prices.csv"
	Financials       = "financials.csv"
	Info             = "info.csv"
	Metrics          = "metrics.csv"
	News             = "news.csv"
)

// ErrNotFound is returned when a table file does not exist. It wraps
// fs.ErrNotExist.
var ErrNotFound = fmt.Errorf("store: table not found: %w", fs.ErrNotExist)

// Store reads and writes tables in one directory.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// New creates the data directory if needed.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Open returns a store over an existing directory without creating it.
func Open(dir string, logger zerolog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the full path of a file in the data directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether the named table file exists.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// WriteFrame writes f to name, replacing any previous file. The file is
// written to a temporary name first and renamed into place.
func (s *Store) WriteFrame(name string, f *frame.Frame) error {
	path := s.Path(name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := frame.WriteCSV(tmp, f); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	s.logger.Info().Str("file", path).Int("rows", f.Len()).Int("columns", f.Width()).Msg("saved table")
	return nil
}

// ReadFrame reads a table written by WriteFrame. A missing file yields
// ErrNotFound.
func (s *Store) ReadFrame(name string) (*frame.Frame, error) {
	path := s.Path(name)
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	defer fh.Close()

	f, err := frame.ReadCSV(fh)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	s.logger.Debug().Str("file", path).Int("rows", f.Len()).Msg("loaded table")
	return f, nil
}

// WriteNews persists news documents as news.csv.
func (s *Store) WriteNews(docs []transform.NewsDocument) error {
	return s.WriteFrame(News, transform.NewsFrame(docs))
}

// ReadNews loads news documents from news.csv.
func (s *Store) ReadNews() ([]transform.NewsDocument, error) {
	f, err := s.ReadFrame(News)
	if err != nil {
		return nil, err
	}
	return transform.DocumentsFromFrame(f), nil
}

// WriteFile writes raw bytes (for example a rendered chart) to name.
func (s *Store) WriteFile(name string, data []byte) (string, error) {
	path := s.Path(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store: write %s: %w", path, err)
	}
	s.logger.Info().Str("file", path).Int("bytes", len(data)).Msg("saved file")
	return path, nil
}
