// Package reconcile keeps the remote half of the catalog and the remote
// snapshot in step: import pulls the snapshot into the catalog, publish pushes
// the catalog to the snapshot, and rebuild re-derives both from a full
// listing of the object store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/mediakeeper/internal/catalog"
	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/jobs"
	"github.com/dmitrijs2005/mediakeeper/internal/logging"
	"github.com/dmitrijs2005/mediakeeper/internal/mediafile"
	"github.com/dmitrijs2005/mediakeeper/internal/metrics"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
	"github.com/dmitrijs2005/mediakeeper/internal/remote"
	"github.com/dmitrijs2005/mediakeeper/internal/snapshot"
)

// Options are the reconciliation policies.
type Options struct {
	// RemotePrefix is the key prefix media objects live under.
	RemotePrefix string
	// AutoPublish makes AfterMutation publish.
	AutoPublish bool
	// LegacyListingFallback answers sync queries from a live listing while
	// the remote catalog has never been populated.
	LegacyListingFallback bool
	// Publisher is recorded in published snapshots.
	Publisher string
}

// Service runs import, publish and rebuild, one at a time.
type Service struct {
	cat       *catalog.Store
	transport *snapshot.Transport
	objects   remote.ObjectStore
	orch      *jobs.Orchestrator
	opts      Options
	logger    logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// lock admits one reconciliation at a time.
	lock *semaphore.Weighted
}

func New(cat *catalog.Store, transport *snapshot.Transport, objects remote.ObjectStore, orch *jobs.Orchestrator, opts Options, logger logging.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		cat:       cat,
		transport: transport,
		objects:   objects,
		orch:      orch,
		opts:      opts,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		lock:      semaphore.NewWeighted(1),
	}
}

// Result describes a finished reconciliation.
type Result struct {
	Entries int
	Bytes   int
	ETag    string
	Skipped int
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for reconciliation lock: %w: %w", common.ErrResourceExhausted, err)
	}
	return func() { s.lock.Release(1) }, nil
}

// Import replaces the remote rows of the catalog with the remote snapshot.
// Nothing is applied when the snapshot cannot be fetched or decoded.
func (s *Service) Import(ctx context.Context) (res Result, err error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()
	defer func() { s.metrics.Reconciled("import", res.Bytes, err) }()

	data, etag, err := s.transport.Fetch(ctx)
	if err != nil {
		return Result{}, err
	}
	items, st, err := snapshot.Decode(data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := s.cat.ReplaceLocation(ctx, models.LocationRemote, items, st.SchemaVersion); err != nil {
		return Result{}, fmt.Errorf("failed to apply snapshot: %w", err)
	}

	now := s.now()
	if _, err := s.cat.UpdateState(ctx, func(cs *models.CatalogState) error {
		cs.LastImportedAt = &now
		cs.SnapshotETag = etag
		return nil
	}); err != nil {
		return Result{}, err
	}

	s.logger.Info(ctx, "snapshot imported", "entries", len(items), "bytes", len(data), "publisher", st.Publisher)
	return Result{Entries: len(items), Bytes: len(data), ETag: etag}, nil
}

// Publish uploads the remote rows of the catalog as the new snapshot.
//
// Unless force is set, publishing over an existing artifact requires that
// this catalog imported it before or published that exact version itself
// (common.ErrForceRequired), and that nobody replaced it since
// (common.ErrSnapshotConflict). The upload itself is conditional on the
// version that was checked.
func (s *Service) Publish(ctx context.Context, force bool) (Result, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()
	return s.publish(ctx, force)
}

func (s *Service) publish(ctx context.Context, force bool) (res Result, err error) {
	defer func() { s.metrics.Reconciled("publish", res.Bytes, err) }()

	st, err := s.cat.State(ctx)
	if err != nil {
		return Result{}, err
	}
	current, exists, err := s.transport.Stat(ctx)
	if err != nil {
		return Result{}, err
	}

	var pre snapshot.Precondition
	if !force {
		if exists {
			if st.LastImportedAt == nil && st.SnapshotETag != current {
				return Result{}, fmt.Errorf("publish over %s: %w", s.transport.Key(), common.ErrForceRequired)
			}
			if st.SnapshotETag != current {
				return Result{}, fmt.Errorf("publish over %s: %w", s.transport.Key(), common.ErrSnapshotConflict)
			}
			pre.IfMatch = current
		} else {
			pre.IfAbsent = true
		}
	}

	items, err := s.cat.ListAll(ctx, models.LocationRemote)
	if err != nil {
		return Result{}, err
	}
	now := s.now()
	data, err := snapshot.Encode(items, snapshot.State{PublishedAt: now, Publisher: s.opts.Publisher})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	etag, err := s.transport.Store(ctx, data, pre)
	if err != nil {
		return Result{}, err
	}

	if _, err := s.cat.UpdateState(ctx, func(cs *models.CatalogState) error {
		cs.LastPublishedAt = &now
		cs.SnapshotETag = etag
		return nil
	}); err != nil {
		return Result{}, err
	}

	s.logger.Info(ctx, "snapshot published", "entries", len(items), "bytes", len(data), "forced", force)
	return Result{Entries: len(items), Bytes: len(data), ETag: etag}, nil
}

// Rebuild lists every media object under the remote prefix, replaces the
// remote rows with the result and publishes it with force. It is the only
// operation that enumerates the remote store. Extra bags of surviving
// entries are kept.
func (s *Service) Rebuild(ctx context.Context) (res Result, err error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()
	defer func() { s.metrics.Reconciled("rebuild", res.Bytes, err) }()

	items, skipped, err := s.listRemote(ctx)
	if err != nil {
		return Result{}, err
	}

	prev, err := s.cat.ListAll(ctx, models.LocationRemote)
	if err != nil {
		return Result{}, err
	}
	extra := make(map[string]map[string]string, len(prev))
	for _, e := range prev {
		if len(e.Extra) > 0 {
			extra[e.Identity] = e.Extra
		}
	}
	for i := range items {
		items[i].Extra = extra[items[i].Identity]
	}

	if err := s.cat.ReplaceLocation(ctx, models.LocationRemote, items, common.SchemaVersion); err != nil {
		return Result{}, fmt.Errorf("failed to apply listing: %w", err)
	}
	s.logger.Info(ctx, "remote catalog rebuilt", "entries", len(items), "skipped", skipped)

	res, err = s.publish(ctx, true)
	res.Skipped = skipped
	return res, err
}

// listRemote builds remote entries from a live listing. Keys that do not
// map to a valid library path are skipped.
func (s *Service) listRemote(ctx context.Context) ([]models.CatalogEntry, int, error) {
	objs, err := s.objects.List(ctx, s.opts.RemotePrefix)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list remote objects: %w", err)
	}

	skipped := 0
	files := make([]mediafile.File, 0, len(objs))
	for _, o := range objs {
		if o.Key == s.transport.Key() || strings.HasSuffix(o.Key, "/") {
			continue
		}
		p, ok := mediafile.PathOf(s.opts.RemotePrefix, o.Key)
		if !ok || models.ValidatePath(p) != nil {
			s.logger.Warn(ctx, "remote object skipped", "key", o.Key)
			skipped++
			continue
		}
		files = append(files, mediafile.File{Path: p, Size: o.Size, ModTime: o.LastModified, ObjectID: o.Key})
	}

	units, _ := mediafile.Group(files)
	items := make([]models.CatalogEntry, 0, len(units))
	for _, u := range units {
		items = append(items, models.CatalogEntry{
			Identity:       u.Media.ObjectID,
			Location:       models.LocationRemote,
			Path:           u.Media.Path,
			Size:           u.Media.Size,
			CreatedAt:      u.Media.ModTime,
			ModifiedAt:     u.Media.ModTime,
			RemoteObjectID: u.Media.ObjectID,
			Assets:         u.Assets,
		})
	}
	return items, skipped, nil
}

// AfterMutation publishes when AutoPublish is on. Media jobs call it once
// per job; its error is for the caller to note, not to fail on.
func (s *Service) AfterMutation(ctx context.Context) error {
	if !s.opts.AutoPublish {
		return nil
	}
	if _, err := s.Publish(ctx, false); err != nil {
		s.logger.Warn(ctx, "publish after mutation failed", "error", err, "kind", common.KindOf(err))
		return err
	}
	return nil
}

// IsGuardError reports whether err is one an operator resolves by importing
// or forcing.
func IsGuardError(err error) bool {
	return errors.Is(err, common.ErrForceRequired) || errors.Is(err, common.ErrSnapshotConflict)
}
