package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	config "github.com/maheshrc27/gramflow/configs"
	"github.com/maheshrc27/gramflow/internal/metrics"
	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/internal/transfer"
)

const (
	maxErrorDetail  = 2000
	finalizeTimeout = 15 * time.Second
)

// RetryPolicy bounds the video readiness poll. Attempt n (0-based) is
// followed by Delay(n) before the next status check.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

func RetryPolicyFromConfig(p config.Polling) RetryPolicy {
	policy := DefaultRetryPolicy()
	if p.MaxAttempts > 0 {
		policy.MaxAttempts = p.MaxAttempts
	}
	if p.InitialDelay > 0 {
		policy.InitialDelay = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		policy.MaxDelay = p.MaxDelay
	}
	return policy
}

func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// PublishService executes one publish job per trigger fire. It owns every
// status change after submission.
type PublishService interface {
	Execute(ctx context.Context, jobID int64) error
	HandleMisfire(ctx context.Context, jobID int64, lateness time.Duration) error
}

type publishService struct {
	publicBaseURL string
	jobs          repository.JobRepository
	history       repository.PostingHistoryRepository
	creds         CredentialService
	ig            InstagramService
	policy        RetryPolicy
	log           *slog.Logger
}

func NewPublishService(
	cfg config.Config,
	jobs repository.JobRepository,
	history repository.PostingHistoryRepository,
	creds CredentialService,
	ig InstagramService,
	policy RetryPolicy,
	log *slog.Logger) PublishService {
	if log == nil {
		log = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return &publishService{
		publicBaseURL: cfg.PublicBaseURL,
		jobs:          jobs,
		history:       history,
		creds:         creds,
		ig:            ig,
		policy:        policy,
		log:           log.With("component", "publisher"),
	}
}

// failure is a classified terminal outcome.
type failure struct {
	reason string
	detail string
}

func (s *publishService) Execute(ctx context.Context, jobID int64) (err error) {
	log := s.log.With("job_id", jobID)

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("job for fired trigger does not exist")
			return ErrJobNotFound
		}
		return err
	}
	if job.Status != models.JobStatusPending {
		log.Info("job already handled, skipping", "status", job.Status)
		return nil
	}

	if err := s.jobs.UpdateStatus(ctx, jobID, models.JobStatusPending, models.JobStatusRunning, models.StatusUpdate{}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			log.Info("another execution claimed the job")
			return nil
		}
		return err
	}
	job.Status = models.JobStatusRunning

	// The job is ours now and must not be left running.
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, job, &failure{reason: models.ReasonInternal, detail: fmt.Sprintf("panic: %v", r)}, log)
			err = fmt.Errorf("publish job %d panicked: %v", jobID, r)
		}
	}()

	postID, f := s.publish(ctx, job, log)
	if f != nil {
		s.fail(ctx, job, f, log)
		return nil
	}
	s.complete(ctx, job, postID, log)
	return nil
}

func (s *publishService) publish(ctx context.Context, job *models.PublishJob, log *slog.Logger) (string, *failure) {
	if job.AccountID == nil {
		return "", &failure{reason: models.ReasonCredentialExpired, detail: "job has no account"}
	}

	cred, err := s.creds.GetCredential(ctx, *job.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrCredentialExpired) {
			return "", &failure{reason: models.ReasonCredentialExpired, detail: err.Error()}
		}
		return "", &failure{reason: models.ReasonInternal, detail: err.Error()}
	}

	mediaURL, err := NormalizeMediaURL(s.publicBaseURL, job.MediaURL)
	if err != nil {
		return "", &failure{reason: models.ReasonInternal, detail: err.Error()}
	}
	caption := ComposeCaption(job.CaptionText, job.HashtagText)

	containerID, err := s.ig.CreateContainer(ctx, cred.Token, cred.ExternalAccountID, job.MediaKind, mediaURL, caption)
	if err != nil {
		return "", platformFailure(err)
	}
	log = log.With("container_id", containerID)
	log.Info("media container created")

	if err := s.jobs.SetContainerID(ctx, job.ID, containerID); err != nil {
		log.Warn("failed to record container id", "error", err)
	}

	if job.MediaKind == models.MediaKindVideo {
		if f := s.waitReady(ctx, cred, containerID, log); f != nil {
			return "", f
		}
	}

	postID, err := s.ig.Publish(ctx, cred.Token, cred.ExternalAccountID, containerID)
	if err != nil {
		return "", platformFailure(err)
	}
	return postID, nil
}

// waitReady polls the container exactly MaxAttempts times at most.
func (s *publishService) waitReady(ctx context.Context, cred *Credential, containerID string, log *slog.Logger) *failure {
	last := "unknown"
	for attempt := 0; attempt < s.policy.MaxAttempts; attempt++ {
		status, err := s.ig.CheckStatus(ctx, cred.Token, containerID)
		switch {
		case err != nil && errors.Is(err, ErrCredentialExpired):
			return &failure{reason: models.ReasonCredentialExpired, detail: err.Error()}
		case err != nil:
			log.Warn("container status check failed", "attempt", attempt+1, "error", err)
			last = err.Error()
		default:
			last = status.StatusCode
			switch status.StatusCode {
			case transfer.ContainerFinished, transfer.ContainerPublished:
				return nil
			case transfer.ContainerError, transfer.ContainerExpired:
				return &failure{
					reason: models.ReasonPlatformRejected,
					detail: fmt.Sprintf("container %s status %s: %s", containerID, status.StatusCode, status.Status),
				}
			}
			log.Debug("container not ready", "attempt", attempt+1, "status_code", status.StatusCode)
		}

		if attempt == s.policy.MaxAttempts-1 {
			break
		}
		if err := sleepCtx(ctx, s.policy.Delay(attempt)); err != nil {
			return &failure{reason: models.ReasonMediaNotReady, detail: fmt.Sprintf("polling container %s interrupted: %v", containerID, err)}
		}
	}

	return &failure{
		reason: models.ReasonMediaNotReady,
		detail: fmt.Sprintf("container %s not ready after %d checks (last: %s)", containerID, s.policy.MaxAttempts, last),
	}
}

func platformFailure(err error) *failure {
	if errors.Is(err, ErrCredentialExpired) {
		return &failure{reason: models.ReasonCredentialExpired, detail: err.Error()}
	}
	return &failure{reason: models.ReasonPlatformRejected, detail: err.Error()}
}

// Terminal writes survive cancellation of the execution context.
func finalizeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func (s *publishService) fail(ctx context.Context, job *models.PublishJob, f *failure, log *slog.Logger) {
	ctx, cancel := finalizeCtx(ctx)
	defer cancel()

	detail := truncate(f.detail, maxErrorDetail)
	err := s.jobs.UpdateStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusFailed, models.StatusUpdate{
		FailureReason: f.reason,
		ErrorDetail:   detail,
	})
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		// Retry without the detail so the job still leaves running.
		log.Error("failed to record job failure, retrying without detail", "reason", f.reason, "error", err)
		detail = ""
		err = s.jobs.UpdateStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusFailed, models.StatusUpdate{
			FailureReason: f.reason,
		})
	}
	if err != nil {
		log.Error("failed to record job failure", "reason", f.reason, "error", err)
		return
	}

	metrics.PublishOutcomes.WithLabelValues(models.OutcomeFailed, f.reason).Inc()
	log.Warn("publish failed", "reason", f.reason, "detail", detail)

	s.record(ctx, &models.PostingHistory{
		JobID:        job.ID,
		AccountID:    job.AccountID,
		Outcome:      models.OutcomeFailed,
		Reason:       f.reason,
		ErrorMessage: detail,
	}, log)
}

func (s *publishService) complete(ctx context.Context, job *models.PublishJob, postID string, log *slog.Logger) {
	ctx, cancel := finalizeCtx(ctx)
	defer cancel()

	err := s.jobs.UpdateStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusCompleted, models.StatusUpdate{
		ExternalPostID: &postID,
	})
	if err != nil {
		log.Error("post is live but job status could not be recorded", "external_post_id", postID, "error", err)
		return
	}

	metrics.PublishOutcomes.WithLabelValues(models.OutcomePublished, "").Inc()
	log.Info("post published", "external_post_id", postID)

	s.record(ctx, &models.PostingHistory{
		JobID:          job.ID,
		AccountID:      job.AccountID,
		Outcome:        models.OutcomePublished,
		ExternalPostID: &postID,
	}, log)
}

// HandleMisfire flags a pending job whose trigger came too late. The job
// stays pending so an operator can retrigger it.
func (s *publishService) HandleMisfire(ctx context.Context, jobID int64, lateness time.Duration) error {
	log := s.log.With("job_id", jobID)

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("misfired trigger points at a missing job")
			return nil
		}
		return err
	}
	if job.Status != models.JobStatusPending {
		log.Info("misfired trigger for a job that is no longer pending", "status", job.Status)
		return nil
	}

	detail := fmt.Sprintf("trigger fired %s late, outside the grace window", lateness.Round(time.Second))
	if err := s.jobs.MarkMisfire(ctx, jobID, detail); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	}

	metrics.PublishOutcomes.WithLabelValues(models.OutcomeMisfired, models.ReasonSchedulerMisfire).Inc()
	log.Warn("job misfired and left pending", "lateness", lateness)

	s.record(ctx, &models.PostingHistory{
		JobID:        jobID,
		AccountID:    job.AccountID,
		Outcome:      models.OutcomeMisfired,
		Reason:       models.ReasonSchedulerMisfire,
		ErrorMessage: detail,
	}, log)
	return nil
}

func (s *publishService) record(ctx context.Context, ph *models.PostingHistory, log *slog.Logger) {
	if _, err := s.history.Create(ctx, ph); err != nil {
		log.Error("failed to write posting history", "error", err)
	}
}
