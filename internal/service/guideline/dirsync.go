package guideline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

const (
	DefaultWatchInterval = 30 * time.Second
	debounceDelay        = 200 * time.Millisecond
)

var guidelineExts = map[string]bool{".md": true, ".markdown": true, ".txt": true}

// SyncResult reports what one scan did to a single file.
type SyncResult struct {
	Path       string
	DocumentID string
	Action     string // created, modified, deleted, failed
	Chunks     int
	Error      error
}

type fileState struct {
	modTime time.Time
	size    int64
}

// DirSync keeps the index in step with a directory of guideline files. The
// document id of a file is its name without extension.
type DirSync struct {
	index    *Index
	dir      string
	interval time.Duration

	mu     sync.Mutex
	states map[string]fileState

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewDirSync(index *Index, dir string, interval time.Duration) *DirSync {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &DirSync{
		index:    index,
		dir:      filepath.Clean(dir),
		interval: interval,
		states:   make(map[string]fileState),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Sync scans the directory once. Created and modified files are ingested,
// documents of files that disappeared since the previous scan are deleted.
// Per-file failures are reported in the results; the file is retried next scan.
func (s *DirSync) Sync(ctx context.Context) ([]SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			klog.V(6).Infof("[GuidelineSync] directory does not exist: %s", s.dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read guideline directory: %w", err)
	}

	current := make(map[string]fileState)
	var results []SyncResult
	for _, entry := range entries {
		if entry.IsDir() || !guidelineExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		state := fileState{modTime: info.ModTime(), size: info.Size()}

		old, seen := s.states[path]
		if seen && old == state {
			current[path] = state
			continue
		}
		action := "created"
		if seen {
			action = "modified"
		}
		result := s.ingestFile(ctx, path, action)
		if result.Error == nil {
			current[path] = state
		} else if seen {
			// zero state retries next scan and keeps the document tracked
			current[path] = fileState{}
		}
		results = append(results, result)
	}

	for path := range s.states {
		if _, ok := current[path]; ok {
			continue
		}
		id := documentID(path)
		result := SyncResult{Path: path, DocumentID: id, Action: "deleted"}
		if err := s.index.DeleteDocument(id); err != nil {
			result.Action, result.Error = "failed", err
			current[path] = s.states[path]
		}
		results = append(results, result)
	}
	s.states = current

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	for _, r := range results {
		if r.Error != nil {
			klog.Warningf("[GuidelineSync] %s failed: %v", r.Path, r.Error)
			continue
		}
		klog.V(6).Infof("[GuidelineSync] %s %s: chunks=%d", r.Action, r.DocumentID, r.Chunks)
	}
	return results, nil
}

func (s *DirSync) ingestFile(ctx context.Context, path, action string) SyncResult {
	id := documentID(path)
	result := SyncResult{Path: path, DocumentID: id, Action: action}
	data, err := os.ReadFile(path)
	if err != nil {
		result.Action, result.Error = "failed", err
		return result
	}
	text := string(data)
	chunks, err := s.index.Ingest(ctx, domain.GuidelineDocument{
		ID:     id,
		Title:  titleOf(text, id),
		Source: path,
		Text:   text,
	})
	if err != nil {
		result.Action, result.Error = "failed", err
		return result
	}
	result.Chunks = len(chunks)
	return result
}

// Start runs one scan and then rescans on file events for the directory,
// debounced, until Stop or ctx is done. The poll interval stays active as a
// fallback and is the only trigger when the directory cannot be watched.
func (s *DirSync) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	watcher := s.watch()
	go func() {
		defer close(s.done)
		var (
			events <-chan fsnotify.Event
			errs   <-chan error
		)
		if watcher != nil {
			defer watcher.Close()
			events, errs = watcher.Events, watcher.Errors
		}
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		rescan := time.NewTimer(0)
		defer rescan.Stop()

		for {
			select {
			case <-rescan.C:
				s.scan(ctx)
			case <-ticker.C:
				s.scan(ctx)
			case event, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if relevant(event) {
					klog.V(6).Infof("[GuidelineSync] %s %s", event.Op, event.Name)
					rescan.Reset(debounceDelay)
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				klog.Warningf("[GuidelineSync] watcher error: %v", err)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// watch returns nil when the directory cannot be watched, e.g. it does not
// exist yet. Polling then picks the directory up once it appears.
func (s *DirSync) watch() *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		klog.Warningf("[GuidelineSync] file watcher unavailable, polling every %v: %v", s.interval, err)
		return nil
	}
	if err := watcher.Add(s.dir); err != nil {
		klog.V(6).Infof("[GuidelineSync] cannot watch %s, polling every %v: %v", s.dir, s.interval, err)
		watcher.Close()
		return nil
	}
	klog.V(6).Infof("[GuidelineSync] watching directory: %s", s.dir)
	return watcher
}

func (s *DirSync) scan(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		klog.Warningf("[GuidelineSync] scan failed: %v", err)
	}
}

func relevant(event fsnotify.Event) bool {
	if !guidelineExts[strings.ToLower(filepath.Ext(event.Name))] {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// Stop ends the loop started by Start and waits for it.
func (s *DirSync) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

func documentID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func titleOf(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(line, "#")); title != "" {
				return title
			}
		}
	}
	return fallback
}
