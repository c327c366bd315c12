package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	config "github.com/maheshrc27/gramflow/configs"
	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/internal/scheduler"
	"github.com/maheshrc27/gramflow/internal/transfer"
)

// TriggerScheduler is the part of a scheduler engine the job service drives.
// Both the in-process engine and the asynq engine satisfy it.
type TriggerScheduler interface {
	Schedule(ctx context.Context, jobID int64, fireAt time.Time) (*models.ScheduledTrigger, error)
	Cancel(ctx context.Context, jobID int64) (bool, error)
	Lookup(ctx context.Context, jobID int64) (*models.ScheduledTrigger, error)
	Triggers(ctx context.Context) ([]*models.ScheduledTrigger, error)
}

// JobService is the outward boundary for publish jobs. Every call is made on
// behalf of an owner, the external id of the session's Instagram account, and
// only sees that account's jobs.
type JobService interface {
	SubmitJob(ctx context.Context, owner string, req *transfer.SubmitJobRequest) (*transfer.SubmitJobResponse, error)
	CancelJob(ctx context.Context, owner string, jobID int64) error
	GetJobStatus(ctx context.Context, owner string, jobID int64) (*transfer.JobSnapshot, error)
	ListJobs(ctx context.Context, owner string, filter repository.JobFilter) ([]transfer.JobListItem, error)
	Retrigger(ctx context.Context, owner string, jobID int64, at *time.Time) (*transfer.SubmitJobResponse, error)
	Abandon(ctx context.Context, owner string, jobID int64, detail string) error
	ListTriggers(ctx context.Context, owner string) ([]*models.ScheduledTrigger, error)
}

type jobService struct {
	cfg      config.Config
	jobs     repository.JobRepository
	accounts repository.AccountRepository
	history  repository.PostingHistoryRepository
	engine   TriggerScheduler
	validate *validator.Validate
	now      func() time.Time
}

func NewJobService(
	cfg config.Config,
	jobs repository.JobRepository,
	accounts repository.AccountRepository,
	history repository.PostingHistoryRepository,
	engine TriggerScheduler) JobService {
	return &jobService{
		cfg:      cfg,
		jobs:     jobs,
		accounts: accounts,
		history:  history,
		engine:   engine,
		validate: validator.New(),
		now:      time.Now,
	}
}

// SubmitJob stores a pending job and schedules its trigger. Without
// scheduled_at, or with one in the past, the trigger fires immediately
// through the same worker pool.
//
// When the job is stored but scheduling fails, the response carries the job
// id next to an ErrNotScheduled error; Retrigger schedules it later.
func (s *jobService) SubmitJob(ctx context.Context, owner string, req *transfer.SubmitJobRequest) (*transfer.SubmitJobResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationFailure(err)
	}
	if n := utf8.RuneCountInString(ComposeCaption(req.Caption, req.Hashtags)); n > MaxCaptionLength {
		return nil, validationError("caption with hashtags is %d characters, Instagram allows %d", n, MaxCaptionLength)
	}
	if _, err := NormalizeMediaURL(s.cfg.PublicBaseURL, req.MediaURL); err != nil {
		return nil, err
	}

	account, err := s.ownerAccount(ctx, owner)
	if err != nil {
		return nil, err
	}
	if (req.AccountID > 0 && req.AccountID != account.ID) ||
		(req.InstagramUserID != "" && req.InstagramUserID != account.ExternalAccountID) {
		return nil, fmt.Errorf("%w: jobs can only be submitted for the signed-in account", ErrForbidden)
	}

	job := &models.PublishJob{
		AccountID:    &account.ID,
		SourcePrompt: req.Prompt,
		MediaKind:    models.MediaKind(req.MediaType),
		CaptionText:  req.Caption,
		HashtagText:  req.Hashtags,
		MediaURL:     strings.TrimSpace(req.MediaURL),
		ScheduledAt:  req.ScheduledAt,
	}
	if _, err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	fireAt := s.now()
	if req.ScheduledAt != nil && req.ScheduledAt.After(fireAt) {
		fireAt = *req.ScheduledAt
	}

	trigger, err := s.engine.Schedule(ctx, job.ID, fireAt)
	if err != nil {
		slog.Error("job stored but not scheduled", "job_id", job.ID, "error", err)
		return &transfer.SubmitJobResponse{JobID: job.ID, Status: string(job.Status)},
			fmt.Errorf("job %d: %w: %v", job.ID, ErrNotScheduled, err)
	}

	slog.Info("publish job submitted", "job_id", job.ID, "account_id", account.ID, "fire_at", trigger.FireAt)
	return &transfer.SubmitJobResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		FireAt:  trigger.FireAt,
		Trigger: trigger.ID,
	}, nil
}

// CancelJob removes the job's trigger. Cancelling a job without a trigger, or
// one already running, is a no-op.
func (s *jobService) CancelJob(ctx context.Context, owner string, jobID int64) error {
	job, err := s.ownedJob(ctx, owner, jobID)
	if err != nil {
		return err
	}

	removed, err := s.engine.Cancel(ctx, jobID)
	if err != nil {
		return err
	}
	slog.Info("cancel requested", "job_id", jobID, "status", job.Status, "trigger_removed", removed)
	return nil
}

func (s *jobService) GetJobStatus(ctx context.Context, owner string, jobID int64) (*transfer.JobSnapshot, error) {
	job, err := s.ownedJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}

	trigger, err := s.engine.Lookup(ctx, jobID)
	if err != nil && !errors.Is(err, scheduler.ErrNoTrigger) {
		return nil, err
	}

	history, err := s.history.ListByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []*models.PostingHistory{}
	}

	return &transfer.JobSnapshot{
		Job:     job,
		Trigger: trigger,
		History: history,
		Stale:   s.isStale(job),
	}, nil
}

func (s *jobService) ListJobs(ctx context.Context, owner string, filter repository.JobFilter) ([]transfer.JobListItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationError("unknown status %q", filter.Status)
	}

	account, err := s.ownerAccount(ctx, owner)
	if err != nil {
		return nil, err
	}
	filter.AccountID = account.ID

	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]transfer.JobListItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, transfer.JobListItem{PublishJob: job, Stale: s.isStale(job)})
	}
	return items, nil
}

// Retrigger schedules a pending job again, typically after a misfire or a
// failed schedule at submit time.
func (s *jobService) Retrigger(ctx context.Context, owner string, jobID int64, at *time.Time) (*transfer.SubmitJobResponse, error) {
	job, err := s.ownedJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending {
		return nil, fmt.Errorf("job %d is %s: %w", jobID, job.Status, repository.ErrConflict)
	}

	fireAt := s.now()
	if at != nil && at.After(fireAt) {
		fireAt = *at
	}

	trigger, err := s.engine.Schedule(ctx, jobID, fireAt)
	if err != nil {
		return nil, err
	}

	slog.Info("job retriggered", "job_id", jobID, "fire_at", trigger.FireAt)
	return &transfer.SubmitJobResponse{
		JobID:   jobID,
		Status:  string(job.Status),
		FireAt:  trigger.FireAt,
		Trigger: trigger.ID,
	}, nil
}

// Abandon marks a job stuck in running as failed once an operator has
// reconciled it with the platform.
func (s *jobService) Abandon(ctx context.Context, owner string, jobID int64, detail string) error {
	job, err := s.ownedJob(ctx, owner, jobID)
	if err != nil {
		return err
	}
	if detail == "" {
		detail = "abandoned by operator"
	}
	detail = truncate(detail, maxErrorDetail)

	err = s.jobs.UpdateStatus(ctx, jobID, models.JobStatusRunning, models.JobStatusFailed, models.StatusUpdate{
		FailureReason: models.ReasonAbandoned,
		ErrorDetail:   detail,
	})
	if err != nil {
		return err
	}

	if _, err := s.history.Create(ctx, &models.PostingHistory{
		JobID:        jobID,
		AccountID:    job.AccountID,
		Outcome:      models.OutcomeFailed,
		Reason:       models.ReasonAbandoned,
		ErrorMessage: detail,
	}); err != nil {
		slog.Error("failed to write posting history", "job_id", jobID, "error", err)
	}

	slog.Warn("running job abandoned", "job_id", jobID, "container_id", job.ContainerID)
	return nil
}

// ListTriggers returns the owner's triggers that have not fired yet.
func (s *jobService) ListTriggers(ctx context.Context, owner string) ([]*models.ScheduledTrigger, error) {
	account, err := s.ownerAccount(ctx, owner)
	if err != nil {
		return nil, err
	}

	pending, err := s.jobs.List(ctx, repository.JobFilter{Status: models.JobStatusPending, AccountID: account.ID})
	if err != nil {
		return nil, err
	}
	owned := make(map[int64]bool, len(pending))
	for _, job := range pending {
		owned[job.ID] = true
	}

	triggers, err := s.engine.Triggers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ScheduledTrigger, 0, len(triggers))
	for _, t := range triggers {
		if owned[t.JobID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *jobService) ownerAccount(ctx context.Context, owner string) (*models.Account, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: no account on the session", ErrForbidden)
	}
	acc, err := s.accounts.GetByExternalID(ctx, owner)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

// ownedJob loads a job of the owner's account. Jobs of other accounts are
// reported as not found.
func (s *jobService) ownedJob(ctx context.Context, owner string, jobID int64) (*models.PublishJob, error) {
	account, err := s.ownerAccount(ctx, owner)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.AccountID == nil || *job.AccountID != account.ID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *jobService) isStale(job *models.PublishJob) bool {
	return job.Status == models.JobStatusRunning &&
		s.cfg.StaleRunningAfter > 0 &&
		s.now().Sub(job.UpdatedAt) > s.cfg.StaleRunningAfter
}

func validationFailure(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}
