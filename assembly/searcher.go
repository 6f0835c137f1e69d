package assembly

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/image"
)

// archiveSeparator joins an archive path and an entry name in the paths
// reported for archived assemblies.
const archiveSeparator = "!/"

// Extensions tried, in order, when looking for an assembly file.
var Extensions = []string{".dll", ".wasm"}

// Searcher locates assembly bytes by name. Archives are consulted before
// the filesystem roots, in the order they were added.
type Searcher struct {
	mu       sync.RWMutex
	roots    []string
	archives []*archive
}

type archive struct {
	path    string
	rc      *zip.ReadCloser
	entries map[string]*zip.File
}

// NewSearcher creates a searcher over the given roots and zip archives.
func NewSearcher(roots []string, archives ...string) (*Searcher, error) {
	s := &Searcher{}
	for _, root := range roots {
		s.AddRoot(root)
	}
	for _, a := range archives {
		if err := s.AddArchive(a); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// AddRoot appends a directory to the search roots.
func (s *Searcher) AddRoot(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = append(s.roots, filepath.Clean(dir))
}

// AddArchive opens a zip archive and indexes its entries by lowercased
// base name.
func (s *Searcher) AddArchive(p string) error {
	rc, err := zip.OpenReader(p)
	if err != nil {
		return errors.AssemblyLoad(p, err)
	}
	a := &archive{path: p, rc: rc, entries: make(map[string]*zip.File, len(rc.File))}
	for _, f := range rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		key := strings.ToLower(path.Base(f.Name))
		if _, dup := a.entries[key]; !dup {
			a.entries[key] = f
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives = append(s.archives, a)
	return nil
}

// Roots returns the search roots.
func (s *Searcher) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.roots...)
}

// Candidates returns the file names tried for an assembly name.
func Candidates(name string) []string {
	short := name
	if an, err := image.ParseAssemblyName(name); err == nil {
		short = an.Name
	}
	for _, ext := range Extensions {
		if strings.EqualFold(filepath.Ext(short), ext) {
			return []string{short}
		}
	}
	out := make([]string, len(Extensions))
	for i, ext := range Extensions {
		out[i] = short + ext
	}
	return out
}

// Locate finds the bytes of the assembly called name. It has the shape of
// the runtime's search hook.
func (s *Searcher) Locate(name string) ([]byte, string, bool) {
	candidates := Candidates(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.archives {
		for _, c := range candidates {
			f, ok := a.entries[strings.ToLower(c)]
			if !ok {
				continue
			}
			data, err := readZipFile(f)
			if err != nil {
				Logger().Warn("read archived assembly", zap.String("archive", a.path), zap.String("entry", f.Name), zap.Error(err))
				continue
			}
			Logger().Debug("assembly found in archive", zap.String("name", name), zap.String("archive", a.path))
			return data, a.path + archiveSeparator + f.Name, true
		}
	}

	for _, root := range s.roots {
		for _, c := range candidates {
			p := filepath.Join(root, c)
			data, err := os.ReadFile(p)
			if err != nil {
				if !os.IsNotExist(err) {
					Logger().Warn("read assembly", zap.String("path", p), zap.Error(err))
				}
				continue
			}
			Logger().Debug("assembly found", zap.String("name", name), zap.String("path", p))
			return data, p, true
		}
	}

	Logger().Debug("assembly not found", zap.String("name", name), zap.Strings("candidates", candidates))
	return nil, "", false
}

func readZipFile(f *zip.File) ([]byte, error) {
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Close closes every archive.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, a := range s.archives {
		err = multierr.Append(err, a.rc.Close())
	}
	s.archives = nil
	return err
}
