package perm

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Scanner discovers permission request files dropped by the hook. It watches
// the scratch directory with fsnotify and also polls, because the hook may
// write the file before the watch is established or from another mount.
type Scanner struct {
	dir          string
	relaySession string

	events chan struct{}
}

// NewScanner returns a scanner for one relay session's request files.
func NewScanner(dir, relaySession string) *Scanner {
	return &Scanner{
		dir:          dir,
		relaySession: relaySession,
		events:       make(chan struct{}, 1),
	}
}

// Events signals when the scratch directory may hold new request files. The
// channel carries wakeups, not requests; call Drain to collect them.
func (s *Scanner) Events() <-chan struct{} {
	return s.events
}

// Watch runs until ctx is done, nudging Events on directory activity. The
// fsnotify watch is best effort; callers should still Drain on a timer.
func (s *Scanner) Watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("perm: fsnotify unavailable, relying on polling: %v", err)
		<-ctx.Done()
		return
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		log.Printf("perm: watch %s: %v", s.dir, err)
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if !strings.Contains(filepath.Base(ev.Name), "telegent_perm_req_"+s.relaySession+"_") {
				continue
			}
			s.nudge()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("perm: watcher error: %v", err)
		}
	}
}

func (s *Scanner) nudge() {
	select {
	case s.events <- struct{}{}:
	default:
	}
}

// Drain consumes every request file currently on disk for this relay
// session, oldest first. Files are always deleted, including unparseable or
// invalid ones; a request the relay cannot trust must not linger and retry.
func (s *Scanner) Drain() []*Request {
	paths, err := filepath.Glob(RequestGlob(s.dir, s.relaySession))
	if err != nil || len(paths) == 0 {
		return nil
	}

	type fileInfo struct {
		path string
		mod  time.Time
	}
	infos := make([]fileInfo, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, fileInfo{p, st.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].mod.Before(infos[j].mod) })

	var reqs []*Request
	for _, fi := range infos {
		req, err := ParseRequestFile(fi.path)
		_ = os.Remove(fi.path)
		if err != nil {
			log.Printf("perm: dropping bad request file %s: %v", fi.path, err)
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs
}
