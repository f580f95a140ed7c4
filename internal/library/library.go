// Package library is the local media library: a filesystem rooted at the
// library directory, read and written through the filesystem worker pool,
// and the Indexer that keeps the local half of the catalog in step with it.
package library

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/zeebo/blake3"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/logging"
	"github.com/dmitrijs2005/mediakeeper/internal/mediafile"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/pool"
)

// partialSuffix marks downloads that have not been renamed into place yet.
const partialSuffix = ".mkpart"

// NormalizePath turns user or filesystem input into a catalog path.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("path is empty: %w", common.ErrValidation)
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) || (len(p) > 1 && p[1] == ':') {
		return "", fmt.Errorf("path %q is absolute: %w", p, common.ErrValidation)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q escapes the library: %w", p, common.ErrValidation)
		}
	}
	p = path.Clean(p)
	if p == "." {
		return "", fmt.Errorf("path is empty: %w", common.ErrValidation)
	}
	return p, nil
}

// LocalIdentity is the identity of the local entry at path p.
func LocalIdentity(p string) string {
	sum := blake3.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])
}

// Library reads and writes the media library. Every filesystem call runs
// on the filesystem pool.
type Library struct {
	fs     billy.Filesystem
	pool   *pool.Pool
	logger logging.Logger
}

func New(fsys billy.Filesystem, p *pool.Pool, logger logging.Logger) *Library {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Library{fs: fsys, pool: p, logger: logger}
}

// Open returns a Library rooted at dir on the OS filesystem, creating dir if
// needed. Paths cannot escape dir.
func Open(dir string, p *pool.Pool, logger logging.Logger) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create library dir: %w", err)
	}
	return New(osfs.New(dir, osfs.WithBoundOS()), p, logger), nil
}

func (l *Library) files(ctx context.Context, root string) ([]mediafile.File, error) {
	var out []mediafile.File
	err := l.pool.Do(ctx, func(ctx context.Context) error {
		return util.Walk(l.fs, root, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				if p == root && errors.Is(err, os.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			name := info.Name()
			if p != root && strings.HasPrefix(name, ".") {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() || !info.Mode().IsRegular() || strings.HasSuffix(name, partialSuffix) {
				return nil
			}
			out = append(out, mediafile.File{
				Path:    filepath.ToSlash(p),
				Size:    info.Size(),
				ModTime: info.ModTime().UTC(),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk library: %w", err)
	}
	return out, nil
}

// siblings lists the regular files directly in dir.
func (l *Library) siblings(ctx context.Context, dir string) ([]mediafile.File, error) {
	if dir == "." {
		dir = ""
	}
	return pool.Call(ctx, l.pool, func(ctx context.Context) ([]mediafile.File, error) {
		infos, err := l.fs.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read dir %q: %w", dir, err)
		}
		out := make([]mediafile.File, 0, len(infos))
		for _, info := range infos {
			if info.IsDir() || !info.Mode().IsRegular() || strings.HasSuffix(info.Name(), partialSuffix) {
				continue
			}
			out = append(out, mediafile.File{
				Path:    path.Join(dir, info.Name()),
				Size:    info.Size(),
				ModTime: info.ModTime().UTC(),
			})
		}
		return out, nil
	})
}

func entryFor(u mediafile.Unit) models.CatalogEntry {
	return models.CatalogEntry{
		Identity:   LocalIdentity(u.Media.Path),
		Location:   models.LocationLocal,
		Path:       u.Media.Path,
		Size:       u.Media.Size,
		CreatedAt:  u.Media.ModTime,
		ModifiedAt: u.Media.ModTime,
		Assets:     u.Assets,
	}
}

// Scan enumerates the whole library and returns one local entry per media
// file, sorted by path.
func (l *Library) Scan(ctx context.Context) ([]models.CatalogEntry, error) {
	files, err := l.files(ctx, "")
	if err != nil {
		return nil, err
	}
	units, orphans := mediafile.Group(files)
	if len(orphans) > 0 {
		l.logger.Debug(ctx, "library files without a media owner", "count", len(orphans))
	}
	out := make([]models.CatalogEntry, 0, len(units))
	for _, u := range units {
		out = append(out, entryFor(u))
	}
	return out, nil
}

// Describe builds the local entry for the media file at p.
func (l *Library) Describe(ctx context.Context, p string) (models.CatalogEntry, error) {
	p, err := NormalizePath(p)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	if !mediafile.IsMedia(p) {
		return models.CatalogEntry{}, fmt.Errorf("%s is not a media file: %w", p, common.ErrValidation)
	}
	files, err := l.siblings(ctx, path.Dir(p))
	if err != nil {
		return models.CatalogEntry{}, err
	}
	units, _ := mediafile.Group(files)
	for _, u := range units {
		if u.Media.Path == p {
			return entryFor(u), nil
		}
	}
	return models.CatalogEntry{}, fmt.Errorf("%s: %w", p, common.ErrNotFound)
}

// Owner returns the media file that side-file p belongs to, whether or not p
// itself still exists.
func (l *Library) Owner(ctx context.Context, p string) (string, bool, error) {
	files, err := l.siblings(ctx, path.Dir(p))
	if err != nil {
		return "", false, err
	}
	present := false
	for _, f := range files {
		if f.Path == p {
			present = true
			break
		}
	}
	if !present {
		files = append(files, mediafile.File{Path: p})
	}
	units, _ := mediafile.Group(files)
	for _, u := range units {
		for _, a := range u.Assets {
			if a.Path == p {
				return u.Media.Path, true, nil
			}
		}
	}
	return "", false, nil
}

// OpenFile opens p for reading along with its size.
func (l *Library) OpenFile(ctx context.Context, p string) (billy.File, int64, error) {
	type opened struct {
		f    billy.File
		size int64
	}
	o, err := pool.Call(ctx, l.pool, func(ctx context.Context) (opened, error) {
		info, err := l.fs.Stat(p)
		if err != nil {
			return opened{}, err
		}
		f, err := l.fs.Open(p)
		if err != nil {
			return opened{}, err
		}
		return opened{f: f, size: info.Size()}, nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", p, common.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return o.f, o.size, nil
}

// CreatePartial creates the temporary file a download of p is written to.
// Commit moves it into place.
func (l *Library) CreatePartial(ctx context.Context, p string) (billy.File, error) {
	return pool.Call(ctx, l.pool, func(ctx context.Context) (billy.File, error) {
		if dir := path.Dir(p); dir != "." {
			if err := l.fs.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		f, err := l.fs.Create(p + partialSuffix)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", p, err)
		}
		return f, nil
	})
}

// Commit renames the partial download of p into place.
func (l *Library) Commit(ctx context.Context, p string) error {
	return l.pool.Do(ctx, func(ctx context.Context) error {
		if err := l.fs.Rename(p+partialSuffix, p); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", p, err)
		}
		return nil
	})
}

// Discard removes the partial download of p.
func (l *Library) Discard(ctx context.Context, p string) error {
	return l.pool.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		err := l.fs.Remove(p + partialSuffix)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}
