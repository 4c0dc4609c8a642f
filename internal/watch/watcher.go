// SPDX-License-Identifier: MPL-2.0

// Package watch tracks module artifacts (descriptor files, packaged module
// directories and archives) under a set of directories and reports debounced
// batches of add, modify and remove events.
//
// Raw filesystem events are mapped to the artifact they belong to: any change
// under a package's META-INF directory is a change of the package directory
// itself. When the debounce window closes, each touched artifact is compared
// with the tracker's snapshot to decide whether it was added, modified or
// removed.
package watch

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modkit/modkit/pkg/descriptor"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the quiet period before a batch is delivered.
const defaultDebounce = 500 * time.Millisecond

const (
	// OpAdd reports an artifact that was not known before.
	OpAdd Op = iota + 1
	// OpModify reports a known artifact that changed.
	OpModify
	// OpRemove reports a known artifact that disappeared.
	OpRemove
)

var (
	// DefaultPatterns select module artifacts by name.
	DefaultPatterns = []string{
		"**/module.{cue,toml,yaml,yml}",
		"**/*.module.{cue,toml,yaml,yml}",
		"**/*.fragments.{cue,toml,yaml,yml}",
		"**/*.zip",
		"**/" + descriptor.PackageMetaDir + "/**",
	}

	// defaultIgnores are always excluded.
	defaultIgnores = []string{
		"**/.git/**",
		"**/*.swp",
		"**/*.swo",
		"**/*~",
		"**/.DS_Store",
	}
)

type (
	// Op is the kind of change reported for an artifact.
	Op int

	// Event is one coalesced artifact change.
	Event struct {
		Op Op
		// Path is the absolute path of the artifact: a descriptor file, a
		// package directory or an archive.
		Path string
	}

	// Config holds the parameters for a Tracker.
	Config struct {
		// Dirs are the module directories to watch.
		Dirs []string
		// Patterns select artifact paths relative to their directory.
		// Empty means DefaultPatterns.
		Patterns []string
		// Ignore are additional patterns that never produce events.
		Ignore []string
		// Debounce is the quiet period after the last event before a batch
		// is delivered. Zero or negative values fall back to 500ms.
		Debounce time.Duration
		// OnBatch receives every non-empty batch. Errors are logged.
		OnBatch func(ctx context.Context, events []Event) error
		Logger  *slog.Logger
	}

	// Tracker watches module directories and delivers artifact batches.
	// Run must be called exactly once.
	Tracker struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		dirs     []string
		patterns []string
		ignores  []string
		debounce time.Duration
		logger   *slog.Logger
		started  atomic.Bool

		mu      sync.Mutex
		known   map[string]struct{}
		pending map[string]struct{}
	}
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// New creates a Tracker, registers every non-ignored directory under
// cfg.Dirs and takes the initial artifact snapshot. Missing directories are
// skipped with a warning.
func New(cfg Config) (*Tracker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if err := validatePatterns(patterns, "watch"); err != nil {
		return nil, err
	}
	if err := validatePatterns(cfg.Ignore, "ignore"); err != nil {
		return nil, err
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	dirs := make([]string, 0, len(cfg.Dirs))
	for _, d := range cfg.Dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve %q: %w", d, err)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			logger.Warn("module directory not watched", "dir", abs)
			continue
		}
		dirs = append(dirs, abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	t := &Tracker{
		cfg:      cfg,
		fsw:      fsw,
		dirs:     dirs,
		patterns: patterns,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		debounce: debounce,
		logger:   logger,
		known:    make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}
	for _, d := range dirs {
		if err := t.addTree(d, t.known); err != nil {
			fsw.Close() //nolint:errcheck // best-effort cleanup
			return nil, err
		}
	}
	return t, nil
}

// Known returns the artifacts in the current snapshot, sorted.
func (t *Tracker) Known() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.known))
}

// Close releases the underlying watcher of a Tracker that will not be run.
func (t *Tracker) Close() error {
	if !t.started.CompareAndSwap(false, true) {
		return nil
	}
	return t.fsw.Close()
}

// Run processes filesystem events until ctx is cancelled and delivers
// debounced batches to OnBatch. It returns nil on cancellation and an error
// when the underlying watcher breaks.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("watch: Run called more than once")
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			// A batch is still being applied; retry once it is done.
			timerMu.Lock()
			timer.Reset(t.debounce)
			timerMu.Unlock()
			return
		}
		defer running.Store(false)

		events := t.collect()
		if len(events) == 0 || t.cfg.OnBatch == nil {
			return
		}
		t.logger.Debug("module artifacts changed", "events", len(events))
		if err := t.cfg.OnBatch(ctx, events); err != nil {
			t.logger.Error("apply module changes", "error", err)
		}
	}

	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
		if err := t.fsw.Close(); err != nil {
			t.logger.Warn("close fsnotify", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-t.fsw.Events:
			if !ok {
				return fmt.Errorf("watch: fsnotify event channel closed unexpectedly")
			}
			if !t.note(evt) {
				continue
			}
			timerMu.Lock()
			if timer == nil {
				timer = time.AfterFunc(t.debounce, fire)
			} else {
				timer.Reset(t.debounce)
			}
			timerMu.Unlock()

		case err, ok := <-t.fsw.Errors:
			if !ok {
				return fmt.Errorf("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalWatchError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			t.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// note records the artifacts touched by evt and reports whether any were.
func (t *Tracker) note(evt fsnotify.Event) bool {
	touched := make(map[string]struct{})

	if art, ok := t.artifactFor(evt.Name); ok {
		touched[art] = struct{}{}
	}
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := t.addTree(evt.Name, touched); err != nil {
				t.logger.Warn("watch new directory", "dir", evt.Name, "error", err)
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
		prefix := evt.Name + string(filepath.Separator)
		for k := range t.known {
			if k == evt.Name || strings.HasPrefix(k, prefix) {
				touched[k] = struct{}{}
			}
		}
	}
	for k := range touched {
		t.pending[k] = struct{}{}
	}
	return len(touched) > 0
}

// collect drains the pending set and compares it with the snapshot.
// Removals come first, then additions, then modifications.
func (t *Tracker) collect() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := make([]Event, 0, len(t.pending))
	for p := range t.pending {
		_, known := t.known[p]
		_, err := os.Stat(p)
		exists := err == nil
		switch {
		case exists && known:
			events = append(events, Event{Op: OpModify, Path: p})
		case exists:
			t.known[p] = struct{}{}
			events = append(events, Event{Op: OpAdd, Path: p})
		case known:
			delete(t.known, p)
			events = append(events, Event{Op: OpRemove, Path: p})
		}
	}
	clear(t.pending)

	rank := map[Op]int{OpRemove: 0, OpAdd: 1, OpModify: 2}
	slices.SortFunc(events, func(a, b Event) int {
		return cmp.Or(cmp.Compare(rank[a.Op], rank[b.Op]), strings.Compare(a.Path, b.Path))
	})
	return events
}

// addTree watches every non-ignored directory under root and records the
// artifacts found into into.
func (t *Tracker) addTree(root string, into map[string]struct{}) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			t.logger.Warn("skipping inaccessible path", "path", path, "error", walkErr)
			return nil //nolint:nilerr // inaccessible paths are skipped
		}
		if d.IsDir() {
			if rel, ok := t.relative(path); ok && rel != "." && (t.isIgnored(rel) || t.isIgnored(rel+"/")) {
				return filepath.SkipDir
			}
			if err := t.fsw.Add(path); err != nil {
				return fmt.Errorf("watch: add directory %q: %w", path, err)
			}
			return nil
		}
		if art, ok := t.artifactFor(path); ok {
			t.mu.Lock()
			into[art] = struct{}{}
			t.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %s: %w", root, err)
	}
	return nil
}

// artifactFor maps an absolute path to the artifact it belongs to.
func (t *Tracker) artifactFor(path string) (string, bool) {
	rel, ok := t.relative(path)
	if !ok || t.isIgnored(rel) || !t.matches(rel) {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if i := slices.Index(parts, descriptor.PackageMetaDir); i >= 0 {
		if i == 0 {
			return "", false
		}
		return filepath.Join(t.baseOf(path), filepath.FromSlash(strings.Join(parts[:i], "/"))), true
	}
	return path, true
}

// relative returns path relative to the watched directory containing it.
func (t *Tracker) relative(path string) (string, bool) {
	base := t.baseOf(path)
	if base == "" {
		return "", false
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// baseOf returns the longest watched directory containing path.
func (t *Tracker) baseOf(path string) string {
	best := ""
	for _, d := range t.dirs {
		if (path == d || strings.HasPrefix(path, d+string(filepath.Separator))) && len(d) > len(best) {
			best = d
		}
	}
	return best
}

func (t *Tracker) isIgnored(rel string) bool {
	return matchAny(t.ignores, rel)
}

func (t *Tracker) matches(rel string) bool {
	return matchAny(t.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// validatePatterns checks that every pattern is a valid doublestar glob.
func validatePatterns(patterns []string, label string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid %s pattern %q", label, pat)
		}
	}
	return nil
}
