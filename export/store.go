package export

import (
	"context"
	"time"

	"github.com/praxishq/entitle/id"
)

// Store is the export pipeline slice of the unified storage interface.
type Store interface {
	CreateExportJob(ctx context.Context, j *Job) error
	GetExportJob(ctx context.Context, jobID id.ExportJobID) (*Job, error)
	// ListExportJobs returns the user's jobs, most recent first.
	ListExportJobs(ctx context.Context, userID string, opts ListOpts) ([]*Job, error)
	// ClaimExportJob atomically moves a queued job to processing on
	// behalf of workerID. At most one claimer wins; every other claim
	// attempt, including any on a terminal job, loses the race.
	ClaimExportJob(ctx context.Context, jobID id.ExportJobID, workerID string, at time.Time) (*Job, error)
	// CompleteExportJob moves a processing job to completed with its
	// result location. Terminal jobs never transition again.
	CompleteExportJob(ctx context.Context, jobID id.ExportJobID, resultLocation string, at time.Time) error
	// FailExportJob moves a queued or processing job to failed with a
	// reason.
	FailExportJob(ctx context.Context, jobID id.ExportJobID, reason string, at time.Time) error
	// FailActiveExportJobs fails all of a user's non-terminal jobs with
	// the given reason, returning how many were failed. Used when the
	// requesting subscription becomes invalid mid-processing.
	FailActiveExportJobs(ctx context.Context, userID string, reason string, at time.Time) (int64, error)
}
