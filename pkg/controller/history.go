package controller

import (
	"context"
	"errors"

	"github.com/psantana5/subgen/pkg/logging"
	"github.com/psantana5/subgen/pkg/models"
	"github.com/psantana5/subgen/pkg/store"
)

func (c *Controller) recordJob(rec *models.JobRecord) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if err := c.history.RecordJob(ctx, rec); err != nil {
		c.logger.Warn("Failed to record job", logging.Fields{"job_id": rec.JobID, "error": err.Error()})
	}
}

// ensureRecorded adds a history entry for a job first seen through its address
func (c *Controller) ensureRecorded(jobID string) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	_, err := c.history.GetJob(ctx, jobID)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrJobNotFound) {
		c.logger.Warn("Failed to read job history", logging.Fields{"job_id": jobID, "error": err.Error()})
		return
	}
	c.recordJob(&models.JobRecord{JobID: jobID, Status: models.StatusChecking})
}

func (c *Controller) updateJob(st State) {
	if c.history == nil || st.JobID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	err := c.history.UpdateJobStatus(ctx, st.JobID, st.Status, st.DownloadURL, st.Err)
	if err != nil {
		c.logger.Warn("Failed to update job history", logging.Fields{"job_id": st.JobID, "error": err.Error()})
	}
}
