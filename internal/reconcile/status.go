package reconcile

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/catalog"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

const (
	warnNeverPopulated = "remote catalog was never populated; run import or rebuild"
	warnLiveListing    = "remote catalog was never populated; showing a live listing"
)

// Status is the catalog overview.
type Status struct {
	SchemaVersion        int
	Counts               models.Counts
	LastLocalBootstrapAt *time.Time
	LastImportedAt       *time.Time
	LastPublishedAt      *time.Time
	SnapshotETag         string
	AutoPublish          bool
	Warning              string
}

// Status reads the catalog state. Failures degrade to an empty status with
// a warning.
func (s *Service) Status(ctx context.Context) Status {
	st, err := s.cat.State(ctx)
	if err != nil {
		s.logger.Warn(ctx, "status read failed", "error", err)
		return Status{AutoPublish: s.opts.AutoPublish, Warning: "catalog unavailable: " + err.Error()}
	}
	s.metrics.SetCatalogCounts(st.Counts.Local, st.Counts.Remote)

	out := Status{
		SchemaVersion:        st.SchemaVersion,
		Counts:               st.Counts,
		LastLocalBootstrapAt: st.LastLocalBootstrapAt,
		LastImportedAt:       st.LastImportedAt,
		LastPublishedAt:      st.LastPublishedAt,
		SnapshotETag:         st.SnapshotETag,
		AutoPublish:          s.opts.AutoPublish,
	}
	if neverPopulated(st) {
		out.Warning = warnNeverPopulated
	}
	return out
}

func neverPopulated(st models.CatalogState) bool {
	return st.Counts.Remote == 0 && st.LastImportedAt == nil && st.LastPublishedAt == nil
}

// diff returns the diff to answer sync queries from, with a warning when
// the answer is degraded. It never fails: errors become warnings.
func (s *Service) diff(ctx context.Context) (models.Diff, string, bool) {
	st, err := s.cat.State(ctx)
	if err != nil {
		s.logger.Warn(ctx, "sync read failed", "error", err)
		return models.Diff{}, "catalog unavailable: " + err.Error(), false
	}

	if neverPopulated(st) {
		if !s.opts.LegacyListingFallback {
			return models.Diff{}, warnNeverPopulated, false
		}
		local, err := s.cat.ListAll(ctx, models.LocationLocal)
		if err != nil {
			return models.Diff{}, "catalog unavailable: " + err.Error(), false
		}
		live, _, err := s.listRemote(ctx)
		if err != nil {
			s.logger.Warn(ctx, "live listing failed", "error", err)
			return models.Diff{}, warnNeverPopulated, false
		}
		return catalog.DiffEntries(local, live), warnLiveListing, true
	}

	d, err := s.cat.Diff(ctx)
	if err != nil {
		s.logger.Warn(ctx, "sync read failed", "error", err)
		return models.Diff{}, "catalog unavailable: " + err.Error(), false
	}
	return d, "", false
}

// SyncStatus counts the diff partitions. It reads only the catalog unless
// the legacy listing fallback applies.
func (s *Service) SyncStatus(ctx context.Context) models.SyncSummary {
	d, warning, live := s.diff(ctx)
	return models.SyncSummary{
		LocalOnly:  len(d.LocalOnly),
		RemoteOnly: len(d.RemoteOnly),
		Synced:     len(d.Synced),
		Warning:    warning,
		Live:       live,
	}
}

// SyncItems pages through one diff partition. Only an unknown partition is
// an error; read failures come back as an empty page and a warning.
func (s *Service) SyncItems(ctx context.Context, part models.Partition, page, pageSize int) (models.Page[models.SyncItem], string, error) {
	d, warning, _ := s.diff(ctx)
	p, err := catalog.PagePartition(d, part, page, pageSize)
	if err != nil {
		return models.Page[models.SyncItem]{}, "", err
	}
	return p, warning, nil
}
