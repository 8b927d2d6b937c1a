package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/vigyanshaala/kalpana/pkg/pipeline"
)

const (
	fileSuffix      = ".json"
	timestampLayout = "2006_01_02_15_04_05"
)

var ErrNoRuns = errors.New("no previous run found")

// Store keeps one JSON file per run report in a directory.
type Store struct {
	fs  afero.Fs
	dir string
}

func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

func (s *Store) fileName(r *pipeline.Report) string {
	started := r.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return started.UTC().Format(timestampLayout) + "_" + r.RunID + fileSuffix
}

// Save writes the report and returns the path it was written to.
func (s *Store) Save(r *pipeline.Report) (string, error) {
	if r.RunID == "" {
		return "", errors.New("cannot save a run without a run id")
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create the state directory %s", s.dir)
	}

	buf, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal the run report")
	}

	path := filepath.Join(s.dir, s.fileName(r))
	if err := afero.WriteFile(s.fs, path, buf, 0o600); err != nil {
		return "", errors.Wrapf(err, "failed to write the run state to %s", path)
	}

	return path, nil
}

// Latest loads the most recent run. File names start with the UTC start time, so they sort chronologically.
func (s *Store) Latest() (*pipeline.Report, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRuns
		}
		return nil, errors.Wrapf(err, "failed to list the state directory %s", s.dir)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileSuffix) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, ErrNoRuns
	}
	sort.Strings(files)

	return s.read(filepath.Join(s.dir, files[len(files)-1]))
}

func (s *Store) read(path string) (*pipeline.Report, error) {
	buf, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read the run state from %s", path)
	}

	r := &pipeline.Report{}
	if err := json.Unmarshal(buf, r); err != nil {
		return nil, errors.Wrapf(err, "failed to parse the run state in %s", path)
	}
	return r, nil
}

// FailedTables returns the tables that failed in the most recent run, in run order.
func (s *Store) FailedTables() ([]string, error) {
	r, err := s.Latest()
	if err != nil {
		return nil, err
	}
	return r.FailedTables(), nil
}
