package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

// DiffEntries partitions local and remote entries by correlation path.
// When one side holds several entries for a path, the first one in
// (path, identity) order represents it. Every partition is sorted by path.
func DiffEntries(local, remote []models.CatalogEntry) models.Diff {
	l := byPath(local)
	r := byPath(remote)

	var d models.Diff
	for p, le := range l {
		if re, ok := r[p]; ok {
			d.Synced = append(d.Synced, models.SyncedPair{Path: p, Local: le, Remote: re})
			continue
		}
		d.LocalOnly = append(d.LocalOnly, le)
	}
	for p, re := range r {
		if _, ok := l[p]; !ok {
			d.RemoteOnly = append(d.RemoteOnly, re)
		}
	}

	sort.Slice(d.LocalOnly, func(i, j int) bool { return d.LocalOnly[i].Path < d.LocalOnly[j].Path })
	sort.Slice(d.RemoteOnly, func(i, j int) bool { return d.RemoteOnly[i].Path < d.RemoteOnly[j].Path })
	sort.Slice(d.Synced, func(i, j int) bool { return d.Synced[i].Path < d.Synced[j].Path })
	return d
}

func byPath(items []models.CatalogEntry) map[string]models.CatalogEntry {
	m := make(map[string]models.CatalogEntry, len(items))
	for _, e := range items {
		if cur, ok := m[e.Path]; ok && !models.Less(e, cur) {
			continue
		}
		m[e.Path] = e
	}
	return m
}

// Diff compares the local and remote sides of the catalog. It never touches
// the remote store or the filesystem.
func (s *Store) Diff(ctx context.Context) (models.Diff, error) {
	local, err := s.ListAll(ctx, models.LocationLocal)
	if err != nil {
		return models.Diff{}, err
	}
	remote, err := s.ListAll(ctx, models.LocationRemote)
	if err != nil {
		return models.Diff{}, err
	}
	return DiffEntries(local, remote), nil
}

// DiffPage returns one page of a diff partition. Pages start at 1.
func (s *Store) DiffPage(ctx context.Context, part models.Partition, page, pageSize int) (models.Page[models.SyncItem], error) {
	d, err := s.Diff(ctx)
	if err != nil {
		return models.Page[models.SyncItem]{}, err
	}
	return PagePartition(d, part, page, pageSize)
}

// PagePartition slices one partition of d into a page.
func PagePartition(d models.Diff, part models.Partition, page, pageSize int) (models.Page[models.SyncItem], error) {
	var items []models.SyncItem
	switch part {
	case models.PartitionLocalOnly:
		for i := range d.LocalOnly {
			items = append(items, models.SyncItem{Path: d.LocalOnly[i].Path, Local: &d.LocalOnly[i]})
		}
	case models.PartitionRemoteOnly:
		for i := range d.RemoteOnly {
			items = append(items, models.SyncItem{Path: d.RemoteOnly[i].Path, Remote: &d.RemoteOnly[i]})
		}
	case models.PartitionSynced:
		for i := range d.Synced {
			items = append(items, models.SyncItem{Path: d.Synced[i].Path, Local: &d.Synced[i].Local, Remote: &d.Synced[i].Remote})
		}
	default:
		return models.Page[models.SyncItem]{}, fmt.Errorf("unknown partition %q: %w", part, common.ErrValidation)
	}

	page, pageSize = normalizePage(page, pageSize)
	out := models.Page[models.SyncItem]{Page: page, PageSize: pageSize, Total: len(items)}
	start := (page - 1) * pageSize
	if start < len(items) {
		end := min(start+pageSize, len(items))
		out.Items = items[start:end]
	}
	return out, nil
}
