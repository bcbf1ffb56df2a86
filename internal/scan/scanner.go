// Package scan enumerates removal candidates: localization directories and
// universal binaries under the scopes of a request.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lakshaymaurya-felt/monolingual/internal/config"
	"github.com/lakshaymaurya-felt/monolingual/internal/macho"
	"github.com/lakshaymaurya-felt/monolingual/internal/request"
)

const (
	lprojExt    = ".lproj"
	maxWarnings = 500
	sniffSize   = 8
)

// Kind classifies a candidate.
type Kind int

const (
	// KindLanguage is a <lang>.lproj directory.
	KindLanguage Kind = iota
	// KindBinary is a universal binary with slices to thin.
	KindBinary
	// KindFile is an explicitly requested item removed as a whole.
	KindFile
	// KindScanError is a path that could not be scanned.
	KindScanError
)

func (k Kind) String() string {
	switch k {
	case KindLanguage:
		return "language"
	case KindBinary:
		return "binary"
	case KindFile:
		return "file"
	case KindScanError:
		return "scan-error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Candidate is one classified item.
type Candidate struct {
	Path     string
	Kind     Kind
	BundleID string

	// Language is the lproj name without its extension.
	Language string

	// Architectures lists every slice of a binary; Thin the ones to remove.
	Architectures []string
	Thin          []string

	// Skip, when set, is the reason the item must be reported as skipped.
	Skip string
	// Err is set for scan errors and unreadable binaries.
	Err error
}

// Options configures a Scanner.
type Options struct {
	Logger  *log.Logger
	Bundles *BundleResolver
}

// Scanner walks the scopes of one request. It is single-use.
type Scanner struct {
	req     *request.HelperRequest
	filter  Filter
	thin    request.StringSet
	bundles *BundleResolver
	logger  *log.Logger

	seen map[string]bool

	mu           sync.Mutex
	warnings     []string
	scannedCount atomic.Int64
}

// New creates a scanner for req.
func New(req *request.HelperRequest, opts Options) *Scanner {
	bundles := opts.Bundles
	if bundles == nil {
		bundles = NewBundleResolver(0)
	}
	return &Scanner{
		req:     req,
		filter:  NewFilter(req.Includes, req.Excludes),
		thin:    req.ThinSet(),
		bundles: bundles,
		logger:  opts.Logger,
		seen:    make(map[string]bool),
	}
}

// Warnings returns any warnings accumulated during scanning.
func (s *Scanner) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

// ScannedCount returns the number of entries visited so far.
func (s *Scanner) ScannedCount() int64 {
	return s.scannedCount.Load()
}

func (s *Scanner) addWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.warnings) < maxWarnings {
		s.warnings = append(s.warnings, msg)
	}
}

func (s *Scanner) debugf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// ─── Scopes ──────────────────────────────────────────────────────────────────

type scope struct {
	path          string
	languages     bool
	architectures bool
	explicit      bool
	err           error
}

// scopes canonicalizes and merges every root, directory and file of the
// request. A path named both as a directory and as a file is walked.
func (s *Scanner) scopes() []scope {
	var raw []scope
	for _, r := range s.req.Roots {
		raw = append(raw, scope{path: r.Path, languages: r.Languages, architectures: r.Architectures})
	}
	for _, d := range s.req.Directories.Sorted() {
		raw = append(raw, scope{path: d, languages: true, architectures: true})
	}
	for _, f := range s.req.Files {
		raw = append(raw, scope{path: f, explicit: true})
	}

	var out []scope
	index := make(map[string]int)
	for _, sc := range raw {
		canonical, err := canonicalize(sc.path)
		if err != nil {
			out = append(out, scope{path: filepath.Clean(sc.path), err: err})
			continue
		}
		sc.path = canonical
		i, dup := index[canonical]
		if !dup {
			index[canonical] = len(out)
			out = append(out, sc)
			continue
		}
		prev := &out[i]
		prev.languages = prev.languages || sc.languages
		prev.architectures = prev.architectures || sc.architectures
		prev.explicit = prev.explicit && sc.explicit
	}
	return out
}

func canonicalize(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// ─── Iteration ───────────────────────────────────────────────────────────────

var errStop = errors.New("scan stopped")

// Candidates returns the lazy sequence of classified items. Iteration stops
// early when ctx is done or the consumer breaks out of the loop. Each path
// is produced at most once.
func (s *Scanner) Candidates(ctx context.Context) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		emit := func(c Candidate) bool {
			if s.seen[c.Path] {
				return true
			}
			s.seen[c.Path] = true
			return yield(c)
		}

		for _, sc := range s.scopes() {
			if ctx.Err() != nil {
				return
			}
			switch {
			case sc.err != nil:
				s.addWarning("cannot resolve " + sc.path + ": " + sc.err.Error())
				if !emit(Candidate{Path: sc.path, Kind: KindScanError, Err: sc.err}) {
					return
				}
			case sc.explicit:
				if c, ok := s.classifyExplicit(sc.path); ok && !emit(c) {
					return
				}
			default:
				if !s.walk(ctx, sc, emit) {
					return
				}
			}
		}
	}
}

// walk reports false when the consumer asked to stop.
func (s *Scanner) walk(ctx context.Context, sc scope, emit func(Candidate) bool) bool {
	wantBinaries := sc.architectures && s.thin != nil
	if !sc.languages && !wantBinaries {
		return true
	}
	if id := s.bundles.Owner(sc.path); s.req.Blacklisted(id) {
		s.debugf("skipping %s: inside blacklisted bundle %s", sc.path, id)
		return true
	}

	err := filepath.WalkDir(sc.path, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Permission denied or other error: report, don't fail.
			s.addWarning("cannot read " + p + ": " + err.Error())
			if !emit(Candidate{Path: p, Kind: KindScanError, Err: err}) {
				return errStop
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		s.scannedCount.Add(1)

		// Symlinks are never followed.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, config.StagingPrefix) {
				return filepath.SkipDir
			}
			if strings.EqualFold(filepath.Ext(name), lprojExt) {
				if sc.languages {
					if c, ok := s.classifyLanguage(p); ok && !emit(c) {
						return errStop
					}
				}
				return filepath.SkipDir
			}
			if id, ok := s.bundles.Lookup(p); ok && s.req.Blacklisted(id) {
				s.debugf("skipping blacklisted bundle %s (%s)", p, id)
				return filepath.SkipDir
			}
			return nil
		}

		if wantBinaries && d.Type().IsRegular() && mayBeBinary(d) {
			if c, ok := s.classifyBinary(p); ok && !emit(c) {
				return errStop
			}
		}
		return nil
	})
	if errors.Is(err, errStop) {
		return false
	}
	if err != nil && ctx.Err() == nil {
		s.addWarning("walk " + sc.path + ": " + err.Error())
	}
	return ctx.Err() == nil
}

// ─── Classification ──────────────────────────────────────────────────────────

func (s *Scanner) classifyLanguage(p string) (Candidate, bool) {
	lang := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	owner := s.bundles.Owner(filepath.Dir(p))
	if s.req.Blacklisted(owner) || !s.filter.Language(lang, owner) {
		return Candidate{}, false
	}
	return Candidate{Path: p, Kind: KindLanguage, Language: lang, BundleID: owner}, true
}

func mayBeBinary(d fs.DirEntry) bool {
	ext := strings.ToLower(filepath.Ext(d.Name()))
	if ext == ".dylib" || ext == ".so" {
		return true
	}
	info, err := d.Info()
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// classifyBinary sniffs p and returns a candidate when it is a universal
// binary holding at least one slice to remove.
func (s *Scanner) classifyBinary(p string) (Candidate, bool) {
	owner := s.bundles.Owner(filepath.Dir(p))
	if s.req.Blacklisted(owner) || !s.filter.Binary(owner) {
		return Candidate{}, false
	}

	fat, header, err := openFat(p)
	if err != nil {
		if macho.IsFat(header) {
			// Fat magic but unusable: report per file.
			return Candidate{Path: p, Kind: KindBinary, BundleID: owner, Err: err}, true
		}
		return Candidate{}, false
	}
	c := s.binaryCandidate(p, owner, fat)
	if len(c.Thin) == 0 {
		return Candidate{}, false
	}
	return c, true
}

func (s *Scanner) binaryCandidate(p, owner string, fat *macho.FatFile) Candidate {
	c := Candidate{Path: p, Kind: KindBinary, BundleID: owner, Architectures: fat.Architectures()}
	for _, arch := range c.Architectures {
		if s.thin.Has(arch) {
			c.Thin = append(c.Thin, arch)
		}
	}
	return c
}

// classifyExplicit handles one entry of the files list. Mach-O files are
// only ever thinned; anything else is removed as a whole.
func (s *Scanner) classifyExplicit(p string) (Candidate, bool) {
	owner := s.bundles.Owner(p)
	info, err := os.Lstat(p)
	if err != nil {
		return Candidate{Path: p, Kind: KindScanError, Err: err}, true
	}
	s.scannedCount.Add(1)

	if info.Mode().IsRegular() {
		fat, header, err := openFat(p)
		switch {
		case err == nil:
			c := s.binaryCandidate(p, owner, fat)
			switch {
			case s.req.Blacklisted(owner):
				c.Skip = "bundle " + owner + " is blacklisted"
			case s.thin == nil:
				c.Skip = "architecture stripping not requested"
			case len(c.Thin) == 0:
				c.Skip = "no requested architecture present"
			case !s.filter.Binary(owner):
				c.Skip = "bundle " + owner + " is excluded"
			}
			return c, true
		case macho.IsFat(header):
			return Candidate{Path: p, Kind: KindBinary, BundleID: owner, Err: err}, true
		case macho.IsMachO(header):
			return Candidate{Path: p, Kind: KindBinary, BundleID: owner, Skip: "not a universal binary"}, true
		}
	}

	c := Candidate{Path: p, Kind: KindFile, BundleID: owner}
	if s.req.Blacklisted(owner) {
		c.Skip = "bundle " + owner + " is blacklisted"
	}
	return c, true
}

// openFat parses p as a universal binary. The sniffed header is returned
// even on failure so callers can tell "not fat" from "broken fat".
func openFat(p string) (*macho.FatFile, []byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	header := make([]byte, sniffSize)
	n, _ := f.ReadAt(header, 0)
	header = header[:n]
	if !macho.IsFat(header) {
		return nil, header, macho.ErrNotFat
	}
	info, err := f.Stat()
	if err != nil {
		return nil, header, err
	}
	fat, err := macho.Open(f, info.Size())
	return fat, header, err
}

// SortCandidates orders candidates by path, for stable reports.
func SortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Path < cs[j].Path })
}
