package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/maheshrc27/gramflow/configs"
	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/internal/scheduler"
	"github.com/maheshrc27/gramflow/internal/transfer"
)

const (
	owner      = "17841400000000"
	otherOwner = "17841499999999"
)

type jobFixture struct {
	jobs     *fakeJobRepo
	accounts *fakeAccountRepo
	history  *fakeHistoryRepo
	engine   *fakeEngine
	svc      JobService
	account  int64
	other    int64
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()
	f := &jobFixture{
		jobs:     newFakeJobRepo(),
		accounts: newFakeAccountRepo(),
		history:  &fakeHistoryRepo{},
		engine:   newFakeEngine(),
	}
	id, err := f.accounts.Upsert(context.Background(), &models.Account{ExternalAccountID: owner, AccessToken: "sealed"})
	require.NoError(t, err)
	f.account = id
	id, err = f.accounts.Upsert(context.Background(), &models.Account{ExternalAccountID: otherOwner, AccessToken: "sealed"})
	require.NoError(t, err)
	f.other = id

	cfg := config.Config{PublicBaseURL: "https://gramflow.example.com", StaleRunningAfter: 15 * time.Minute}
	f.svc = NewJobService(cfg, f.jobs, f.accounts, f.history, f.engine)
	return f
}

func validRequest() *transfer.SubmitJobRequest {
	return &transfer.SubmitJobRequest{
		InstagramUserID: owner,
		Prompt:          "sunset over the Tagus",
		MediaType:       "image",
		Caption:         "Golden hour",
		Hashtags:        "#lisbon",
		MediaURL:        "/media/abc.jpg",
	}
}

func TestSubmitJobSchedulesAtRequestedTime(t *testing.T) {
	f := newJobFixture(t)
	at := time.Now().Add(time.Hour)
	req := validRequest()
	req.ScheduledAt = &at

	resp, err := f.svc.SubmitJob(context.Background(), owner, req)
	require.NoError(t, err)

	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, models.TriggerID(resp.JobID), resp.Trigger)
	assert.True(t, resp.FireAt.Equal(at))

	job, err := f.jobs.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.NotNil(t, job.AccountID)
	assert.Equal(t, f.account, *job.AccountID)
	assert.Equal(t, models.MediaKindImage, job.MediaKind)
}

func TestSubmitJobWithoutTimeFiresNow(t *testing.T) {
	f := newJobFixture(t)
	before := time.Now()

	past := time.Now().Add(-time.Hour)
	req := validRequest()
	req.ScheduledAt = &past

	resp, err := f.svc.SubmitJob(context.Background(), owner, req)
	require.NoError(t, err)
	assert.False(t, resp.FireAt.Before(before))

	req = validRequest()
	resp, err = f.svc.SubmitJob(context.Background(), owner, req)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), resp.FireAt, time.Second)
}

func TestSubmitJobValidation(t *testing.T) {
	f := newJobFixture(t)

	cases := map[string]func(r *transfer.SubmitJobRequest){
		"bad media type": func(r *transfer.SubmitJobRequest) { r.MediaType = "gif" },
		"no media url":   func(r *transfer.SubmitJobRequest) { r.MediaURL = "" },
		"ftp url":        func(r *transfer.SubmitJobRequest) { r.MediaURL = "ftp://files.example.com/a.jpg" },
		"joined caption too long": func(r *transfer.SubmitJobRequest) {
			r.Caption = strings.Repeat("é", 2000)
			r.Hashtags = strings.Repeat("#a", 150)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(req)
			_, err := f.svc.SubmitJob(context.Background(), owner, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	jobs, err := f.jobs.List(context.Background(), repository.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "invalid requests never create jobs")
}

func TestSubmitJobCaptionAtLimit(t *testing.T) {
	f := newJobFixture(t)
	req := validRequest()
	req.Caption = strings.Repeat("é", 2000)
	req.Hashtags = strings.Repeat("#", MaxCaptionLength-2000-2)

	_, err := f.svc.SubmitJob(context.Background(), owner, req)
	assert.NoError(t, err)
}

func TestSubmitJobDefaultsToOwner(t *testing.T) {
	f := newJobFixture(t)
	req := validRequest()
	req.InstagramUserID = ""

	resp, err := f.svc.SubmitJob(context.Background(), owner, req)
	require.NoError(t, err)

	job, err := f.jobs.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.NotNil(t, job.AccountID)
	assert.Equal(t, f.account, *job.AccountID)
}

func TestSubmitJobForAnotherAccount(t *testing.T) {
	f := newJobFixture(t)

	req := validRequest()
	req.InstagramUserID = otherOwner
	_, err := f.svc.SubmitJob(context.Background(), owner, req)
	assert.ErrorIs(t, err, ErrForbidden)

	req = validRequest()
	req.InstagramUserID = ""
	req.AccountID = f.other
	_, err = f.svc.SubmitJob(context.Background(), owner, req)
	assert.ErrorIs(t, err, ErrForbidden)

	jobs, err := f.jobs.List(context.Background(), repository.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitJobUnknownOwner(t *testing.T) {
	f := newJobFixture(t)
	req := validRequest()
	req.InstagramUserID = ""

	_, err := f.svc.SubmitJob(context.Background(), "17841411111111", req)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.svc.SubmitJob(context.Background(), "", req)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitJobNotScheduledKeepsJobID(t *testing.T) {
	f := newJobFixture(t)
	f.engine.scheduleErr = errors.New("dial tcp 127.0.0.1:6379: connection refused")

	resp, err := f.svc.SubmitJob(context.Background(), owner, validRequest())
	require.ErrorIs(t, err, ErrNotScheduled)
	require.NotNil(t, resp)
	assert.NotZero(t, resp.JobID)

	job, err := f.jobs.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	f.engine.scheduleErr = nil
	again, err := f.svc.Retrigger(context.Background(), owner, resp.JobID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerID(resp.JobID), again.Trigger)
}

func TestOtherAccountsJobsAreHidden(t *testing.T) {
	f := newJobFixture(t)
	mine, err := f.svc.SubmitJob(context.Background(), owner, validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.InstagramUserID = otherOwner
	theirs, err := f.svc.SubmitJob(context.Background(), otherOwner, req)
	require.NoError(t, err)

	_, err = f.svc.GetJobStatus(context.Background(), owner, theirs.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, f.svc.CancelJob(context.Background(), owner, theirs.JobID), ErrJobNotFound)
	_, err = f.svc.Retrigger(context.Background(), owner, theirs.JobID, nil)
	assert.ErrorIs(t, err, ErrJobNotFound)

	f.jobs.set(theirs.JobID, func(j *models.PublishJob) { j.Status = models.JobStatusRunning })
	assert.ErrorIs(t, f.svc.Abandon(context.Background(), owner, theirs.JobID, ""), ErrJobNotFound)

	_, err = f.engine.Lookup(context.Background(), theirs.JobID)
	assert.NoError(t, err, "trigger of the other account is untouched")

	items, err := f.svc.ListJobs(context.Background(), owner, repository.JobFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, mine.JobID, items[0].ID)

	triggers, err := f.svc.ListTriggers(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, mine.JobID, triggers[0].JobID)
}

func TestCancelJob(t *testing.T) {
	f := newJobFixture(t)
	resp, err := f.svc.SubmitJob(context.Background(), owner, validRequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelJob(context.Background(), owner, resp.JobID))
	_, err = f.engine.Lookup(context.Background(), resp.JobID)
	assert.ErrorIs(t, err, scheduler.ErrNoTrigger)

	assert.NoError(t, f.svc.CancelJob(context.Background(), owner, resp.JobID), "second cancel is a no-op")
	assert.ErrorIs(t, f.svc.CancelJob(context.Background(), owner, 999), repository.ErrNotFound)
}

func TestGetJobStatusFlagsStaleRunning(t *testing.T) {
	f := newJobFixture(t)
	resp, err := f.svc.SubmitJob(context.Background(), owner, validRequest())
	require.NoError(t, err)

	snap, err := f.svc.GetJobStatus(context.Background(), owner, resp.JobID)
	require.NoError(t, err)
	assert.False(t, snap.Stale)
	require.NotNil(t, snap.Trigger)
	assert.NotNil(t, snap.History)

	f.jobs.set(resp.JobID, func(j *models.PublishJob) {
		j.Status = models.JobStatusRunning
		j.UpdatedAt = time.Now().Add(-time.Hour)
	})

	snap, err = f.svc.GetJobStatus(context.Background(), owner, resp.JobID)
	require.NoError(t, err)
	assert.True(t, snap.Stale)

	items, err := f.svc.ListJobs(context.Background(), owner, repository.JobFilter{Status: models.JobStatusRunning})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Stale)

	_, err = f.svc.ListJobs(context.Background(), owner, repository.JobFilter{Status: "done"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRetriggerOnlyPending(t *testing.T) {
	f := newJobFixture(t)
	resp, err := f.svc.SubmitJob(context.Background(), owner, validRequest())
	require.NoError(t, err)

	at := time.Now().Add(10 * time.Minute)
	again, err := f.svc.Retrigger(context.Background(), owner, resp.JobID, &at)
	require.NoError(t, err)
	assert.True(t, again.FireAt.Equal(at))

	f.jobs.set(resp.JobID, func(j *models.PublishJob) { j.Status = models.JobStatusCompleted })
	_, err = f.svc.Retrigger(context.Background(), owner, resp.JobID, nil)
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestAbandonRunningJob(t *testing.T) {
	f := newJobFixture(t)
	resp, err := f.svc.SubmitJob(context.Background(), owner, validRequest())
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Abandon(context.Background(), owner, resp.JobID, ""), repository.ErrConflict)

	f.jobs.set(resp.JobID, func(j *models.PublishJob) { j.Status = models.JobStatusRunning })
	require.NoError(t, f.svc.Abandon(context.Background(), owner, resp.JobID, "post not found on profile"))

	job, err := f.jobs.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.ReasonAbandoned, job.FailureReason)
	assert.Equal(t, "post not found on profile", job.ErrorDetail)
	assert.Equal(t, []string{models.OutcomeFailed}, f.history.outcomes())
}

// memTriggerStore backs a real scheduler engine in the end-to-end test.
type memTriggerStore struct {
	mu sync.Mutex
	m  map[string]models.ScheduledTrigger
}

func (s *memTriggerStore) Upsert(_ context.Context, t *models.ScheduledTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[t.ID] = *t
	return nil
}

func (s *memTriggerStore) Get(_ context.Context, id string) (*models.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *memTriggerStore) List(context.Context) ([]*models.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScheduledTrigger
	for _, t := range s.m {
		t := t
		out = append(out, &t)
	}
	return out, nil
}

func (s *memTriggerStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[id]
	delete(s.m, id)
	return ok, nil
}

func (s *memTriggerStore) Consume(_ context.Context, id string, fireAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[id]
	if !ok || !t.FireAt.Equal(fireAt) {
		return false, nil
	}
	delete(s.m, id)
	return true, nil
}

func TestScheduledImageJobEndsCompleted(t *testing.T) {
	jobs := newFakeJobRepo()
	accounts := newFakeAccountRepo()
	history := &fakeHistoryRepo{}
	ig := &fakeInstagram{}
	creds := &fakeCredentials{cred: &Credential{Token: "EAAG", ExternalAccountID: owner}}
	cfg := config.Config{PublicBaseURL: "https://gramflow.example.com"}

	_, err := accounts.Upsert(context.Background(), &models.Account{ExternalAccountID: owner, AccessToken: "sealed"})
	require.NoError(t, err)

	publisher := NewPublishService(cfg, jobs, history, creds, ig, fastPolicy, nil)
	engine := scheduler.New(&memTriggerStore{m: map[string]models.ScheduledTrigger{}}, publisher.Execute,
		scheduler.Config{MaxConcurrent: 3, MisfireGrace: 30 * time.Second},
		scheduler.WithMisfireHandler(publisher.HandleMisfire))
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop(context.Background())

	svc := NewJobService(cfg, jobs, accounts, history, engine)

	at := time.Now().Add(time.Second)
	req := validRequest()
	req.ScheduledAt = &at
	resp, err := svc.SubmitJob(context.Background(), owner, req)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		job, err := jobs.GetByID(context.Background(), resp.JobID)
		return err == nil && job.Status == models.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		snap, err := svc.GetJobStatus(context.Background(), owner, resp.JobID)
		return err == nil && snap.Trigger == nil && snap.Job.ExternalPostID != nil
	}, time.Second, 10*time.Millisecond, "trigger is consumed after firing")

	_, _, publish := ig.calls()
	assert.Equal(t, 1, publish)
}
