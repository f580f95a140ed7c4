package jobs

import "github.com/dmitrijs2005/mediakeeper/internal/models"

// Domain groups job types that share a concurrency limit.
type Domain string

const (
	DomainTransfer    Domain = "transfer"
	DomainMutation    Domain = "mutation"
	DomainReconcile   Domain = "reconcile"
	DomainMaintenance Domain = "maintenance"
)

// DomainOf returns the domain that runs jobs of type t.
func DomainOf(t models.JobType) Domain {
	switch t {
	case models.JobUpload, models.JobBatchUpload, models.JobDownload, models.JobDriveDownload:
		return DomainTransfer
	case models.JobDelete, models.JobBatchDelete, models.JobRename, models.JobThumbnail:
		return DomainMutation
	case models.JobCatalogImport, models.JobCatalogPublish, models.JobCatalogRebuild:
		return DomainReconcile
	default:
		return DomainMaintenance
	}
}
