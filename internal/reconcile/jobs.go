package reconcile

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/mediakeeper/internal/jobs"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

// SubmitImport runs Import as a catalog-import job.
func (s *Service) SubmitImport(ctx context.Context) (string, error) {
	return s.orch.Submit(ctx, models.JobCatalogImport, func(ctx context.Context, rep *jobs.Reporter) error {
		if err := rep.Checkpoint(); err != nil {
			return err
		}
		rep.Note("importing snapshot")
		res, err := s.Import(ctx)
		if err != nil {
			return err
		}
		report(rep, res, fmt.Sprintf("imported %d entries", res.Entries))
		return nil
	})
}

// SubmitPublish runs Publish as a catalog-publish job.
func (s *Service) SubmitPublish(ctx context.Context, force bool) (string, error) {
	return s.orch.Submit(ctx, models.JobCatalogPublish, func(ctx context.Context, rep *jobs.Reporter) error {
		if err := rep.Checkpoint(); err != nil {
			return err
		}
		rep.Note("publishing snapshot")
		res, err := s.Publish(ctx, force)
		if err != nil {
			return err
		}
		report(rep, res, fmt.Sprintf("published %d entries", res.Entries))
		return nil
	})
}

// SubmitRebuild runs Rebuild as a catalog-rebuild job.
func (s *Service) SubmitRebuild(ctx context.Context) (string, error) {
	return s.orch.Submit(ctx, models.JobCatalogRebuild, func(ctx context.Context, rep *jobs.Reporter) error {
		if err := rep.Checkpoint(); err != nil {
			return err
		}
		rep.Note("listing remote store")
		res, err := s.Rebuild(ctx)
		if err != nil {
			return err
		}
		note := fmt.Sprintf("rebuilt %d entries", res.Entries)
		if res.Skipped > 0 {
			note += fmt.Sprintf(", %d objects skipped", res.Skipped)
		}
		report(rep, res, note)
		return nil
	})
}

func report(rep *jobs.Reporter, res Result, note string) {
	rep.Report(models.Progress{
		ItemsDone:  res.Entries,
		ItemsTotal: res.Entries,
		BytesDone:  int64(res.Bytes),
		BytesTotal: int64(res.Bytes),
		Note:       note,
	})
}
