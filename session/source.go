package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/nasa-jpl/scanlab/scan"
	"pkt.systems/pslog"
)

// ErrNoParameters is returned by a Source which has nothing to give
var ErrNoParameters = errors.New("no scan parameters have been set")

// Source produces the current scan parameters.  Each call returns a fresh
// value; the controller never modifies what it is given.
type Source interface {
	Parameters() (scan.ParameterSet, error)
}

// Setter is a Source which can also be written to
type Setter interface {
	Source
	SetParameters(scan.ParameterSet) error
}

// StaticSource holds parameters in memory
type StaticSource struct {
	mu  sync.Mutex
	ps  scan.ParameterSet
	set bool
}

// NewStaticSource returns a source holding ps
func NewStaticSource(ps scan.ParameterSet) *StaticSource {
	return &StaticSource{ps: ps, set: true}
}

// Parameters returns the held parameters
func (s *StaticSource) Parameters() (scan.ParameterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return scan.ParameterSet{}, ErrNoParameters
	}
	return s.ps.Clone(), nil
}

// SetParameters replaces the held parameters
func (s *StaticSource) SetParameters(ps scan.ParameterSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ps, s.set = ps.Clone(), true
	return nil
}

// FileSource reads parameters from a parameter file on every call
type FileSource struct {
	Path     string
	Designer scan.Designer
	Log      pslog.Logger
}

// Parameters loads the file
func (f FileSource) Parameters() (scan.ParameterSet, error) {
	return scan.LoadParametersFile(f.Path, f.Designer)
}

// SetParameters saves ps to the file
func (f FileSource) SetParameters(ps scan.ParameterSet) error {
	return scan.SaveParametersFile(f.Path, ps)
}

// Watch calls changed whenever the file is written, created or renamed into
// place, until ctx is done.  The directory is watched so that editors which
// replace the file are seen.
func (f FileSource) Watch(ctx context.Context, changed func()) error {
	log := f.Log
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	target := filepath.Clean(f.Path)
	if err = w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	log.Info("watching parameter file", "path", target)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Debug("parameter file changed", "op", ev.Op.String())
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("parameter file watcher", "err", err)
		}
	}
}
