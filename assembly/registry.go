package assembly

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/image"
	"github.com/wippyai/interop-bridge/managed"
)

// Descriptor describes a loaded assembly. Descriptors are created once per
// image and never mutated afterwards.
type Descriptor struct {
	Name       string
	FullName   string
	Path       string
	Version    string
	References []string
	MVID       uuid.UUID
	Image      managed.ImageID

	key string
}

// AssemblyName returns the parsed identity, or just the short name if the
// full name does not parse.
func (d *Descriptor) AssemblyName() image.AssemblyName {
	n, err := image.ParseAssemblyName(d.FullName)
	if err != nil {
		return image.AssemblyName{Name: d.Name}
	}
	return n
}

func (d *Descriptor) String() string {
	return d.FullName
}

// Registry tracks loaded assemblies. Entries are kept sorted by short name
// (case-insensitive) and image id.
type Registry struct {
	rt       managed.Runtime
	searcher *Searcher

	mu      sync.RWMutex
	entries []*Descriptor
	byImage map[managed.ImageID]*Descriptor
	byPath  map[string]*Descriptor
	onLoad  []func(*Descriptor)

	loads singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithSearcher makes the registry resolve assembly names through s, both
// for LoadName and for the runtime's search hook.
func WithSearcher(s *Searcher) Option {
	return func(r *Registry) {
		r.searcher = s
	}
}

// NewRegistry creates an empty registry over rt. Call Install to receive
// images loaded by the runtime itself.
func NewRegistry(rt managed.Runtime, opts ...Option) *Registry {
	r := &Registry{
		rt:      rt,
		byImage: make(map[managed.ImageID]*Descriptor),
		byPath:  make(map[string]*Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install registers the registry's load hook and, when a searcher is
// configured, its search hook with the runtime.
func (r *Registry) Install() {
	r.rt.SetLoadHook(func(id managed.ImageID) {
		if _, err := r.Wrap(id); err != nil {
			Logger().Warn("wrap loaded image", zap.Uint64("image", uint64(id)), zap.Error(err))
		}
	})
	if r.searcher != nil {
		r.rt.SetSearchHook(r.searcher.Locate)
	}
}

// Searcher returns the configured searcher, or nil.
func (r *Registry) Searcher() *Searcher {
	return r.searcher
}

// OnLoad registers fn to run once for every new descriptor, including
// those created for images the runtime loaded implicitly.
func (r *Registry) OnLoad(fn func(*Descriptor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLoad = append(r.onLoad, fn)
}

// Load opens the assembly at path. Loading a path twice, or a file whose
// image the runtime already holds, returns the existing descriptor.
// Concurrent loads of one path share a single runtime load.
func (r *Registry) Load(ctx context.Context, path string) (*Descriptor, error) {
	return r.load(ctx, path, nil)
}

// LoadBytes opens an assembly from memory. path identifies the source for
// idempotent reloading and may be empty.
func (r *Registry) LoadBytes(ctx context.Context, path string, data []byte) (*Descriptor, error) {
	return r.load(ctx, path, data)
}

func (r *Registry) load(ctx context.Context, path string, data []byte) (*Descriptor, error) {
	key := cleanPath(path)
	if key != "" {
		r.mu.RLock()
		d := r.byPath[key]
		r.mu.RUnlock()
		if d != nil {
			return d, nil
		}
	}

	open := func() (any, error) {
		id, err := r.rt.OpenImage(ctx, key, data)
		if err != nil {
			return nil, errors.AssemblyLoad(path, err)
		}
		d, err := r.Wrap(id)
		if err != nil {
			return nil, err
		}
		if key != "" {
			r.mu.Lock()
			if _, ok := r.byPath[key]; !ok {
				r.byPath[key] = d
			}
			r.mu.Unlock()
		}
		return d, nil
	}
	if key == "" {
		d, err := open()
		if err != nil {
			return nil, err
		}
		return d.(*Descriptor), nil
	}

	v, err, _ := r.loads.Do(key, open)
	if err != nil {
		return nil, err
	}
	return v.(*Descriptor), nil
}

// LoadName locates an assembly by display name through the searcher and
// loads it. An assembly already registered under a matching name is
// returned without searching.
func (r *Registry) LoadName(ctx context.Context, name string) (*Descriptor, error) {
	want, err := image.ParseAssemblyName(name)
	if err != nil {
		return nil, errors.AssemblyLoad(name, err)
	}
	if d := r.FindName(want); d != nil {
		return d, nil
	}
	if r.searcher == nil {
		return nil, errors.AssemblyLoad(name, errors.NotFound(errors.PhaseLoad, "assembly", name))
	}
	data, path, ok := r.searcher.Locate(name)
	if !ok {
		return nil, errors.AssemblyLoad(name, errors.NotFound(errors.PhaseLoad, "assembly", name))
	}
	return r.LoadBytes(ctx, path, data)
}

// Wrap returns the descriptor of a loaded image, creating it on first use.
// The first descriptor registered for an image wins.
func (r *Registry) Wrap(id managed.ImageID) (*Descriptor, error) {
	r.mu.RLock()
	d := r.byImage[id]
	r.mu.RUnlock()
	if d != nil {
		return d, nil
	}

	info, ok := r.rt.Image(id)
	if !ok {
		return nil, errors.AssemblyLoad("#"+strconv.FormatUint(uint64(id), 10), errors.NotFound(errors.PhaseLoad, "image", strconv.FormatUint(uint64(id), 10)))
	}
	built := &Descriptor{
		Name:       info.Name,
		FullName:   info.FullName,
		Path:       info.Path,
		Version:    info.Version,
		References: info.References,
		MVID:       info.MVID,
		Image:      info.ID,
		key:        strings.ToLower(info.Name),
	}

	r.mu.Lock()
	if existing := r.byImage[id]; existing != nil {
		r.mu.Unlock()
		return existing, nil
	}
	r.insertLocked(built)
	callbacks := append([]func(*Descriptor){}, r.onLoad...)
	r.mu.Unlock()

	Logger().Debug("assembly registered",
		zap.String("name", built.FullName),
		zap.String("path", built.Path),
		zap.Uint64("image", uint64(built.Image)))
	for _, fn := range callbacks {
		fn(built)
	}
	return built, nil
}

func (r *Registry) insertLocked(d *Descriptor) {
	lo, hi := 0, len(r.entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if less(r.entries[mid], d) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	r.entries = slices.Insert(r.entries, lo, d)

	r.byImage[d.Image] = d
	if p := cleanPath(d.Path); p != "" {
		if _, ok := r.byPath[p]; !ok {
			r.byPath[p] = d
		}
	}
}

func less(a, b *Descriptor) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.Image < b.Image
}

// Find looks an assembly up by short name, or by full display name when
// isShortName is false. Display names compare by their parsed identity. With several assemblies sharing a short name, the
// short-name form returns the one with the lowest image id.
func (r *Registry) Find(name string, isShortName bool) *Descriptor {
	short := name
	var want image.AssemblyName
	if !isShortName {
		var err error
		if want, err = image.ParseAssemblyName(name); err != nil {
			return nil
		}
		short = want.Name
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	first := r.firstLocked(strings.ToLower(short))
	if first < 0 {
		return nil
	}
	if isShortName {
		return r.entries[first]
	}
	for i := first; i < len(r.entries) && r.entries[i].key == r.entries[first].key; i++ {
		if r.entries[i].AssemblyName().Equal(want) {
			return r.entries[i]
		}
	}
	return nil
}

// FindName returns the first assembly whose identity satisfies want.
func (r *Registry) FindName(want image.AssemblyName) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	first := r.firstLocked(strings.ToLower(want.Name))
	if first < 0 {
		return nil
	}
	for i := first; i < len(r.entries) && r.entries[i].key == r.entries[first].key; i++ {
		if r.entries[i].AssemblyName().Matches(want) {
			return r.entries[i]
		}
	}
	return nil
}

// firstLocked binary searches for any entry with the short name key, then
// walks back to the first one. It returns -1 when there is none.
func (r *Registry) firstLocked(key string) int {
	lo, hi := 0, len(r.entries)-1
	hit := -1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		switch k := r.entries[mid].key; {
		case k < key:
			lo = mid + 1
		case k > key:
			hi = mid - 1
		default:
			hit = mid
			lo = hi + 1
		}
	}
	if hit < 0 {
		return -1
	}
	for hit > 0 && r.entries[hit-1].key == key {
		hit--
	}
	return hit
}

// ByImage returns the descriptor of an image without creating one.
func (r *Registry) ByImage(id managed.ImageID) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byImage[id]
}

// All returns the descriptors in registry order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Descriptor(nil), r.entries...)
}

// Len returns the number of registered assemblies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func cleanPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.Contains(path, archiveSeparator) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
