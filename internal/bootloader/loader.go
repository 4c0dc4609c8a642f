// SPDX-License-Identifier: MPL-2.0

package bootloader

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultBootPrefixes are the prefixes always answered by the parent source:
// the standard runtime set, XML support and the API shared by bootstrap and
// kernel.
var DefaultBootPrefixes = []string{"std/", "xml/", "modkit/api/"}

type (
	// Options configures a Loader.
	Options struct {
		// BootPrefixes replaces DefaultBootPrefixes when non-empty.
		BootPrefixes []string
		// DelegationPrefixes are added to the boot prefixes.
		DelegationPrefixes []string
		// Parent answers boot-prefixed requests.
		Parent Source
		// Wiring is the initial wiring context.
		Wiring Wiring
		Logger *slog.Logger
	}

	// Loader resolves units through boot delegation or the current wiring.
	// It is safe for concurrent use.
	Loader struct {
		prefixes map[string]struct{}
		parent   Source
		wiring   atomic.Pointer[wiringRef]
		group    singleflight.Group
		logger   *slog.Logger

		mu    sync.RWMutex
		cache map[string]*Unit
	}

	// wiringRef carries a generation so results from a swapped-out wiring are
	// never cached.
	wiringRef struct {
		w   Wiring
		gen uint64
	}

	// noWiring is used until a wiring is installed.
	noWiring struct{}
)

// Locate implements Wiring.
func (noWiring) Locate(requester, name string) (*Unit, error) {
	return nil, &NotFoundError{Requester: requester, Name: name}
}

// New creates a Loader.
func New(opts Options) *Loader {
	prefixes := opts.BootPrefixes
	if len(prefixes) == 0 {
		prefixes = DefaultBootPrefixes
	}
	l := &Loader{
		prefixes: make(map[string]struct{}),
		parent:   opts.Parent,
		logger:   opts.Logger,
		cache:    make(map[string]*Unit),
	}
	for _, p := range append(append([]string(nil), prefixes...), opts.DelegationPrefixes...) {
		l.prefixes[normalizePrefix(p)] = struct{}{}
	}
	if l.parent == nil {
		l.parent = &FSSource{FS: emptyFS{}, Origin: "boot"}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	w := opts.Wiring
	if w == nil {
		w = noWiring{}
	}
	l.wiring.Store(&wiringRef{w: w, gen: 1})
	return l
}

// IsBoot reports whether name falls under a boot prefix. Candidates are
// produced by truncating name at each '/' from the right, so the most
// specific prefix is tried first.
func (l *Loader) IsBoot(name string) bool {
	if _, ok := l.prefixes[name]; ok {
		return true
	}
	for i := strings.LastIndexByte(name, '/'); i >= 0; i = strings.LastIndexByte(name[:i], '/') {
		if _, ok := l.prefixes[name[:i+1]]; ok {
			return true
		}
	}
	return false
}

// Load resolves name on behalf of requester. Only one resolution per
// (requester, name) and wiring runs at a time; distinct keys proceed
// independently.
// Wired results are cached until the wiring is swapped.
func (l *Loader) Load(requester, name string) (*Unit, error) {
	if l.IsBoot(name) {
		u, err := l.parent.Find(name)
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Requester: requester, Name: name}
		}
		return u, err
	}

	key := requester + "\x00" + name
	l.mu.RLock()
	u, ok := l.cache[key]
	ref := l.wiring.Load()
	l.mu.RUnlock()
	if ok {
		return u, nil
	}

	// Callers only share a resolution made against the same wiring.
	flight := strconv.FormatUint(ref.gen, 10) + "\x00" + key
	v, err, _ := l.group.Do(flight, func() (any, error) {
		u, err := ref.w.Locate(requester, name)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		if l.wiring.Load().gen == ref.gen {
			l.cache[key] = u
		}
		l.mu.Unlock()
		return u, nil
	})
	if err != nil {
		l.logger.Debug("unit not loaded", "requester", requester, "name", name, "error", err)
		return nil, err
	}
	return v.(*Unit), nil
}

// SetWiring swaps the wiring context and drops cached units.
func (l *Loader) SetWiring(w Wiring) {
	if w == nil {
		w = noWiring{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.wiring.Load()
	l.wiring.Store(&wiringRef{w: w, gen: prev.gen + 1})
	clear(l.cache)
}

// Wiring returns the current wiring context.
func (l *Loader) Wiring() Wiring {
	return l.wiring.Load().w
}

// Invalidate drops cached units, for wirings whose content changed in place.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.wiring.Load()
	l.wiring.Store(&wiringRef{w: prev.w, gen: prev.gen + 1})
	clear(l.cache)
}

func normalizePrefix(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
