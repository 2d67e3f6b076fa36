package media

import (
	"os"
	"path/filepath"

	"github.com/ManuGH/streamops/internal/fsutil"
)

// Staging hands out per-job scratch paths under the cache directory. Every
// path carries the job id as prefix so Cleanup can sweep a job's leftovers
// after success, failure or a crash-restart.
type Staging struct {
	root string
}

func NewStaging(root string) (*Staging, error) {
	if err := fsutil.EnsureDir(root); err != nil {
		return nil, err
	}
	return &Staging{root: root}, nil
}

func (s *Staging) Root() string { return s.root }

// Path returns a scratch path for the job; name distinguishes multiple
// artifacts of one job.
func (s *Staging) Path(jobID, name string) string {
	return filepath.Join(s.root, jobID+"_"+name)
}

// Cleanup removes everything the job staged.
func (s *Staging) Cleanup(jobID string) error {
	if jobID == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(s.root, jobID+"_*"))
	if err != nil {
		return err
	}
	var firstErr error
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
