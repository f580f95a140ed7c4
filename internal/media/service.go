// Package media runs the remote media operations: uploads, deletes, renames,
// thumbnail updates and downloads. Every operation is a job; each job writes
// its result through to the catalog and publishes at most once.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/catalog"
	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/jobs"
	"github.com/dmitrijs2005/mediakeeper/internal/library"
	"github.com/dmitrijs2005/mediakeeper/internal/logging"
	"github.com/dmitrijs2005/mediakeeper/internal/mediafile"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/reconcile"
	"github.com/dmitrijs2005/mediakeeper/internal/remote"
)

// Publisher is told once per job that the remote catalog changed.
type Publisher interface {
	AfterMutation(ctx context.Context) error
}

// Service submits media jobs.
type Service struct {
	lib     *library.Library
	indexer *library.Indexer
	cat     *catalog.Store
	objects remote.ObjectStore
	pub     Publisher
	orch    *jobs.Orchestrator
	prefix  string
	logger  logging.Logger
	now     func() time.Time
}

func NewService(lib *library.Library, indexer *library.Indexer, cat *catalog.Store, objects remote.ObjectStore, pub Publisher, orch *jobs.Orchestrator, prefix string, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		lib:     lib,
		indexer: indexer,
		cat:     cat,
		objects: objects,
		pub:     pub,
		orch:    orch,
		prefix:  prefix,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func mediaPath(p string) (string, error) {
	p, err := library.NormalizePath(p)
	if err != nil {
		return "", err
	}
	if !mediafile.IsMedia(p) {
		return "", fmt.Errorf("%s is not a media file: %w", p, common.ErrValidation)
	}
	return p, nil
}

func mediaPaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths given: %w", common.ErrValidation)
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		n, err := mediaPath(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func identities(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no identities given: %w", common.ErrValidation)
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("identity is empty: %w", common.ErrValidation)
		}
	}
	return ids, nil
}

// publish runs after the last mutation of a job. A failed publish is noted
// on the job; it does not fail it.
func (s *Service) publish(ctx context.Context, rep *jobs.Reporter, mutated int) {
	if mutated == 0 || s.pub == nil {
		return
	}
	err := s.pub.AfterMutation(ctx)
	switch {
	case err == nil:
	case reconcile.IsGuardError(err):
		rep.Note(fmt.Sprintf("catalog not published: %v; import or force a publish", err))
	default:
		rep.Note(fmt.Sprintf("catalog not published (%s): %v", common.KindOf(err), err))
	}
}

// stopped turns the error of an interrupted transfer into ErrCancelled when
// the job was cancelled meanwhile.
func stopped(rep *jobs.Reporter, err error) error {
	if cerr := rep.Checkpoint(); cerr != nil {
		return cerr
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, remote.ErrObjectNotFound) {
		return fmt.Errorf("%w: %w", common.ErrNotFound, err)
	}
	return err
}

func (s *Service) remoteEntry(ctx context.Context, identity string) (*models.CatalogEntry, error) {
	e, err := s.cat.Get(ctx, models.LocationRemote, identity)
	if err != nil {
		return nil, fmt.Errorf("remote entry %s: %w", identity, err)
	}
	return e, nil
}

// Upload copies the media file at p and its side-files to the remote store.
func (s *Service) Upload(ctx context.Context, p string) (string, error) {
	p, err := mediaPath(p)
	if err != nil {
		return "", err
	}
	return s.orch.Submit(ctx, models.JobUpload, func(ctx context.Context, rep *jobs.Reporter) error {
		rep.Item(0, 1, p)
		if err := s.upload(ctx, rep, p); err != nil {
			return err
		}
		rep.Item(1, 1, "")
		s.publish(ctx, rep, 1)
		return nil
	})
}

// BatchUpload uploads every path in one job and publishes once at the end.
// It stops at the first failure; uploads finished before it stay.
func (s *Service) BatchUpload(ctx context.Context, paths []string) (string, error) {
	paths, err := mediaPaths(paths)
	if err != nil {
		return "", err
	}
	return s.orch.Submit(ctx, models.JobBatchUpload, func(ctx context.Context, rep *jobs.Reporter) error {
		done := 0
		defer func() { s.publish(ctx, rep, done) }()
		for i, p := range paths {
			rep.Item(i, len(paths), p)
			if err := s.upload(ctx, rep, p); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			done++
		}
		rep.Item(len(paths), len(paths), "")
		return nil
	})
}

func (s *Service) upload(ctx context.Context, rep *jobs.Reporter, p string) error {
	if err := rep.Checkpoint(); err != nil {
		return err
	}
	local, err := s.lib.Describe(ctx, p)
	if err != nil {
		return err
	}
	key := mediafile.ObjectKey(s.prefix, p)

	files := []string{local.Path}
	for _, a := range local.Assets {
		files = append(files, a.Path)
	}
	for _, f := range files {
		if err := s.put(ctx, rep, f); err != nil {
			return err
		}
	}

	uploaded := make([]models.Asset, 0, len(local.Assets))
	for _, a := range local.Assets {
		a.RemoteObjectID = mediafile.ObjectKey(s.prefix, a.Path)
		uploaded = append(uploaded, a)
	}

	var prev []models.Asset
	e, err := s.cat.Update(ctx, models.LocationRemote, key, func(cur *models.CatalogEntry) (models.CatalogEntry, error) {
		next := models.CatalogEntry{
			Identity:       key,
			Location:       models.LocationRemote,
			Path:           local.Path,
			Size:           local.Size,
			CreatedAt:      s.now(),
			ModifiedAt:     s.now(),
			RemoteObjectID: key,
			Assets:         uploaded,
		}
		prev = nil
		if cur != nil {
			next.CreatedAt = cur.CreatedAt
			next.Extra = cur.Extra
			next.Assets = mergeAssets(cur.Assets, uploaded)
			prev = cur.Assets
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	s.dropStaleAssets(ctx, prev, e.Assets)
	s.logger.Info(ctx, "media uploaded", "path", p, "assets", len(e.Assets), "job", rep.JobID())
	return nil
}

func (s *Service) put(ctx context.Context, rep *jobs.Reporter, p string) error {
	f, size, err := s.lib.OpenFile(ctx, p)
	if err != nil {
		return err
	}
	defer f.Close()

	rep.AddBytesTotal(size)
	if _, err := s.objects.Put(ctx, mediafile.ObjectKey(s.prefix, p), rep.Reader(f), size, remote.PutOptions{}); err != nil {
		return stopped(rep, fmt.Errorf("failed to upload %s: %w", p, err))
	}
	return nil
}

// mergeAssets returns cur plus every asset of prev whose kind cur does not
// provide. A thumbnail set on the remote entry survives a re-upload of media
// that has none locally.
func mergeAssets(prev, cur []models.Asset) []models.Asset {
	out := append([]models.Asset(nil), cur...)
	for _, a := range prev {
		if !slices.ContainsFunc(cur, func(c models.Asset) bool { return c.Kind == a.Kind }) {
			out = append(out, a)
		}
	}
	mediafile.SortAssets(out)
	return out
}

// dropStaleAssets deletes remote side-files the new version no longer has.
func (s *Service) dropStaleAssets(ctx context.Context, prev, cur []models.Asset) {
	for _, a := range prev {
		if slices.ContainsFunc(cur, func(c models.Asset) bool { return c.RemoteObjectID == a.RemoteObjectID }) {
			continue
		}
		if err := s.objects.Delete(ctx, a.RemoteObjectID); err != nil {
			s.logger.Warn(ctx, "failed to delete stale asset", "key", a.RemoteObjectID, "error", err)
		}
	}
}

// DeleteRemote deletes a remote entry and its objects.
func (s *Service) DeleteRemote(ctx context.Context, identity string) (string, error) {
	if _, err := identities([]string{identity}); err != nil {
		return "", err
	}
	return s.orch.Submit(ctx, models.JobDelete, func(ctx context.Context, rep *jobs.Reporter) error {
		rep.Item(0, 1, identity)
		if err := s.delete(ctx, rep, identity); err != nil {
			return err
		}
		rep.Item(1, 1, "")
		s.publish(ctx, rep, 1)
		return nil
	})
}

// BatchDeleteRemote deletes every entry in one job and publishes once.
func (s *Service) BatchDeleteRemote(ctx context.Context, ids []string) (string, error) {
	ids, err := identities(ids)
	if err != nil {
		return "", err
	}
	return s.orch.Submit(ctx, models.JobBatchDelete, func(ctx context.Context, rep *jobs.Reporter) error {
		done := 0
		defer func() { s.publish(ctx, rep, done) }()
		for i, id := range ids {
			rep.Item(i, len(ids), id)
			if err := s.delete(ctx, rep, id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			done++
		}
		rep.Item(len(ids), len(ids), "")
		return nil
	})
}

func (s *Service) delete(ctx context.Context, rep *jobs.Reporter, identity string) error {
	if err := rep.Checkpoint(); err != nil {
		return err
	}
	e, err := s.remoteEntry(ctx, identity)
	if err != nil {
		return err
	}
	for _, a := range e.Assets {
		if err := s.objects.Delete(ctx, a.RemoteObjectID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", a.RemoteObjectID, err)
		}
	}
	if err := s.objects.Delete(ctx, e.RemoteObjectID); err != nil {
		return fmt.Errorf("failed to delete %s: %w", e.RemoteObjectID, err)
	}
	if err := s.cat.Remove(ctx, models.LocationRemote, identity); err != nil {
		return err
	}
	s.logger.Info(ctx, "remote media deleted", "path", e.Path, "job", rep.JobID())
	return nil
}

// RenameRemote moves a remote entry and its side-files to newPath. Objects
// are copied first and the old ones deleted after every copy succeeded.
func (s *Service) RenameRemote(ctx context.Context, identity, newPath string) (string, error) {
	if _, err := identities([]string{identity}); err != nil {
		return "", err
	}
	newPath, err := mediaPath(newPath)
	if err != nil {
		return "", err
	}
	return s.orch.Submit(ctx, models.JobRename, func(ctx context.Context, rep *jobs.Reporter) error {
		if err := rep.Checkpoint(); err != nil {
			return err
		}
		e, err := s.remoteEntry(ctx, identity)
		if err != nil {
			return err
		}
		if e.Path == newPath {
			return fmt.Errorf("%s is already at %s: %w", identity, newPath, common.ErrValidation)
		}
		newKey := mediafile.ObjectKey(s.prefix, newPath)
		if _, err := s.cat.Get(ctx, models.LocationRemote, newKey); err == nil {
			return fmt.Errorf("%s already exists: %w", newPath, common.ErrValidation)
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		moved := e.Clone()
		moved.Identity = newKey
		moved.Path = newPath
		moved.RemoteObjectID = newKey
		moved.ModifiedAt = s.now()
		oldStem, newStem := mediafile.Stem(e.Path), mediafile.Stem(newPath)
		for i := range moved.Assets {
			p := newStem + strings.TrimPrefix(moved.Assets[i].Path, oldStem)
			moved.Assets[i].Path = p
			moved.Assets[i].RemoteObjectID = mediafile.ObjectKey(s.prefix, p)
		}

		total := len(moved.Assets) + 1
		copies := [][2]string{{e.RemoteObjectID, moved.RemoteObjectID}}
		for i := range moved.Assets {
			copies = append(copies, [2]string{e.Assets[i].RemoteObjectID, moved.Assets[i].RemoteObjectID})
		}
		for i, c := range copies {
			if err := rep.Checkpoint(); err != nil {
				return err
			}
			rep.Item(i, total, c[1])
			if err := s.objects.Copy(ctx, c[0], c[1]); err != nil {
				return fmt.Errorf("failed to copy %s: %w", c[0], notFound(err))
			}
		}

		if err := s.cat.Move(ctx, identity, moved); err != nil {
			return err
		}
		for _, c := range copies {
			if err := s.objects.Delete(ctx, c[0]); err != nil {
				s.logger.Warn(ctx, "failed to delete renamed object", "key", c[0], "error", err)
			}
		}
		rep.Item(total, total, "")
		s.logger.Info(ctx, "remote media renamed", "from", e.Path, "to", newPath, "job", rep.JobID())
		s.publish(ctx, rep, 1)
		return nil
	})
}

// UpdateThumbnail uploads the local image at thumbPath as the thumbnail of
// a remote entry, replacing any previous one.
func (s *Service) UpdateThumbnail(ctx context.Context, identity, thumbPath string) (string, error) {
	if _, err := identities([]string{identity}); err != nil {
		return "", err
	}
	thumbPath, err := library.NormalizePath(thumbPath)
	if err != nil {
		return "", err
	}
	if k, ok := mediafile.AssetKindOf(thumbPath); !ok || k != models.AssetThumbnail {
		return "", fmt.Errorf("%s is not an image: %w", thumbPath, common.ErrValidation)
	}
	return s.orch.Submit(ctx, models.JobThumbnail, func(ctx context.Context, rep *jobs.Reporter) error {
		if err := rep.Checkpoint(); err != nil {
			return err
		}
		e, err := s.remoteEntry(ctx, identity)
		if err != nil {
			return err
		}
		f, size, err := s.lib.OpenFile(ctx, thumbPath)
		if err != nil {
			return err
		}
		defer f.Close()

		target := mediafile.ThumbnailPath(e.Path, path.Ext(thumbPath))
		key := mediafile.ObjectKey(s.prefix, target)
		rep.Item(0, 1, target)
		rep.AddBytesTotal(size)
		if _, err := s.objects.Put(ctx, key, rep.Reader(f), size, remote.PutOptions{}); err != nil {
			return stopped(rep, fmt.Errorf("failed to upload thumbnail: %w", err))
		}

		var prev []models.Asset
		updated, err := s.cat.Update(ctx, models.LocationRemote, identity, func(cur *models.CatalogEntry) (models.CatalogEntry, error) {
			if cur == nil {
				return models.CatalogEntry{}, fmt.Errorf("remote entry %s: %w", identity, common.ErrNotFound)
			}
			next := cur.Clone()
			next.Assets = []models.Asset{{Kind: models.AssetThumbnail, Path: target, Size: size, RemoteObjectID: key}}
			for _, a := range cur.Assets {
				if a.Kind != models.AssetThumbnail {
					next.Assets = append(next.Assets, a)
				}
			}
			next.ModifiedAt = s.now()
			prev = cur.Assets
			return next, nil
		})
		if err != nil {
			return err
		}
		s.dropStaleAssets(ctx, prev, updated.Assets)
		rep.Item(1, 1, "")
		s.publish(ctx, rep, 1)
		return nil
	})
}

// DownloadRemote copies a remote entry into the library. The local entry is
// indexed directly; nothing is published.
func (s *Service) DownloadRemote(ctx context.Context, identity string) (string, error) {
	if _, err := identities([]string{identity}); err != nil {
		return "", err
	}
	return s.orch.Submit(ctx, models.JobDriveDownload, func(ctx context.Context, rep *jobs.Reporter) error {
		if err := rep.Checkpoint(); err != nil {
			return err
		}
		e, err := s.remoteEntry(ctx, identity)
		if err != nil {
			return err
		}

		type item struct{ key, path string }
		items := []item{{e.RemoteObjectID, e.Path}}
		for _, a := range e.Assets {
			items = append(items, item{a.RemoteObjectID, a.Path})
		}
		for i, it := range items {
			if err := rep.Checkpoint(); err != nil {
				return err
			}
			rep.Item(i, len(items), it.path)
			if err := s.fetch(ctx, rep, it.key, it.path); err != nil {
				return err
			}
		}
		rep.Item(len(items), len(items), "")

		if _, err := s.indexer.FileLanded(ctx, e.Path); err != nil {
			return fmt.Errorf("failed to index %s: %w", e.Path, err)
		}
		s.logger.Info(ctx, "remote media downloaded", "path", e.Path, "job", rep.JobID())
		return nil
	})
}

func (s *Service) fetch(ctx context.Context, rep *jobs.Reporter, key, p string) error {
	body, info, err := s.objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", key, notFound(err))
	}
	defer body.Close()
	rep.AddBytesTotal(info.Size)

	f, err := s.lib.CreatePartial(ctx, p)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, rep.Reader(body))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if derr := s.lib.Discard(ctx, p); derr != nil {
			s.logger.Warn(ctx, "failed to discard partial download", "path", p, "error", derr)
		}
		return stopped(rep, fmt.Errorf("failed to download %s: %w", key, err))
	}
	return s.lib.Commit(ctx, p)
}
