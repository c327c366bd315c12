package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/internal/scheduler"
	"github.com/maheshrc27/gramflow/internal/transfer"
)

type fakeJobRepo struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*models.PublishJob

	rejectDetail bool
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[int64]*models.PublishJob{}}
}

func (r *fakeJobRepo) Create(_ context.Context, job *models.PublishJob) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	job.ID = r.nextID
	job.Status = models.JobStatusPending
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	cp := *job
	r.jobs[job.ID] = &cp
	return job.ID, nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id int64) (*models.PublishJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *fakeJobRepo) List(_ context.Context, filter repository.JobFilter) ([]*models.PublishJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PublishJob
	for _, job := range r.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.AccountID > 0 && (job.AccountID == nil || *job.AccountID != filter.AccountID) {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeJobRepo) ListStaleRunning(_ context.Context, olderThan time.Time) ([]*models.PublishJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PublishJob
	for _, job := range r.jobs {
		if job.Status == models.JobStatusRunning && job.UpdatedAt.Before(olderThan) {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) UpdateStatus(_ context.Context, id int64, from, to models.JobStatus, extra models.StatusUpdate) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}
	if !utf8.ValidString(extra.ErrorDetail) || (r.rejectDetail && extra.ErrorDetail != "") {
		return errors.New(`pq: invalid byte sequence for encoding "UTF8"`)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status != from {
		return repository.ErrConflict
	}
	job.Status = to
	if extra.ExternalPostID != nil {
		job.ExternalPostID = extra.ExternalPostID
	}
	job.FailureReason = extra.FailureReason
	job.ErrorDetail = extra.ErrorDetail
	job.UpdatedAt = time.Now()
	return nil
}

func (r *fakeJobRepo) SetContainerID(_ context.Context, id int64, containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status != models.JobStatusRunning {
		return repository.ErrConflict
	}
	job.ContainerID = &containerID
	return nil
}

func (r *fakeJobRepo) MarkMisfire(_ context.Context, id int64, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status != models.JobStatusPending {
		return repository.ErrConflict
	}
	job.FailureReason = models.ReasonSchedulerMisfire
	job.ErrorDetail = detail
	return nil
}

func (r *fakeJobRepo) set(id int64, mutate func(*models.PublishJob)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(r.jobs[id])
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []*models.PostingHistory
}

func (r *fakeHistoryRepo) Create(_ context.Context, ph *models.PostingHistory) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ph.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, ph)
	return ph.ID, nil
}

func (r *fakeHistoryRepo) ListByJobID(_ context.Context, jobID int64) ([]*models.PostingHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PostingHistory
	for _, e := range r.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		out = append(out, e.Outcome)
	}
	return out
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*models.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: map[int64]*models.Account{}}
}

func (r *fakeAccountRepo) Upsert(_ context.Context, acc *models.Account) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.ExternalAccountID == acc.ExternalAccountID {
			existing.AccessToken = acc.AccessToken
			existing.TokenExpiresAt = acc.TokenExpiresAt
			return existing.ID, nil
		}
	}
	r.nextID++
	cp := *acc
	cp.ID = r.nextID
	r.accounts[cp.ID] = &cp
	return cp.ID, nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id int64) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (r *fakeAccountRepo) GetByExternalID(_ context.Context, externalID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.ExternalAccountID == externalID {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeAccountRepo) ListExpiringBefore(_ context.Context, before time.Time) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Account
	for _, acc := range r.accounts {
		if acc.TokenExpiresAt != nil && acc.TokenExpiresAt.Before(before) {
			cp := *acc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) SetToken(_ context.Context, id int64, oldAccessToken, newAccessToken string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok || acc.AccessToken != oldAccessToken {
		return repository.ErrConflict
	}
	acc.AccessToken = newAccessToken
	acc.TokenExpiresAt = expiresAt
	return nil
}

type fakeCredentials struct {
	cred *Credential
	err  error
}

func (f *fakeCredentials) GetCredential(context.Context, int64) (*Credential, error) {
	return f.cred, f.err
}

func (f *fakeCredentials) SaveFromOAuth(context.Context, string, string, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeCredentials) RefreshExpiring(context.Context) (int, error) { return 0, nil }

// fakeInstagram records calls and returns scripted results.
type fakeInstagram struct {
	mu            sync.Mutex
	containerErr  error
	publishErr    error
	statuses      []string
	statusCalls   int
	createCalls   int
	publishCalls  int
	lastMediaURL  string
	lastCaption   string
	publishDelay  time.Duration
	tokenResponse *transfer.InstagramToken
	exchangeCalls int
}

func (f *fakeInstagram) CreateContainer(_ context.Context, _, _ string, _ models.MediaKind, mediaURL, caption string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastMediaURL = mediaURL
	f.lastCaption = caption
	if f.containerErr != nil {
		return "", f.containerErr
	}
	return "container-1", nil
}

func (f *fakeInstagram) Publish(context.Context, string, string, string) (string, error) {
	time.Sleep(f.publishDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCalls++
	if f.publishErr != nil {
		return "", f.publishErr
	}
	return "17900000000000001", nil
}

func (f *fakeInstagram) CheckStatus(_ context.Context, _, containerID string) (*transfer.ContainerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := transfer.ContainerInProgress
	if f.statusCalls < len(f.statuses) {
		code = f.statuses[f.statusCalls]
	}
	f.statusCalls++
	return &transfer.ContainerStatus{ID: containerID, StatusCode: code}, nil
}

func (f *fakeInstagram) ExchangeLongLivedToken(context.Context, string) (*transfer.InstagramToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls++
	return f.tokenResponse, nil
}

func (f *fakeInstagram) GetUserInfo(context.Context, string) (*transfer.InstagramUserInfo, error) {
	return &transfer.InstagramUserInfo{UserID: "17841400000000"}, nil
}

func (f *fakeInstagram) calls() (create, status, publish int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.statusCalls, f.publishCalls
}

type fakeEngine struct {
	mu          sync.Mutex
	triggers    map[int64]*models.ScheduledTrigger
	scheduleErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{triggers: map[int64]*models.ScheduledTrigger{}}
}

func (e *fakeEngine) Schedule(_ context.Context, jobID int64, fireAt time.Time) (*models.ScheduledTrigger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scheduleErr != nil {
		return nil, e.scheduleErr
	}
	t := &models.ScheduledTrigger{ID: models.TriggerID(jobID), JobID: jobID, FireAt: fireAt}
	e.triggers[jobID] = t
	return t, nil
}

func (e *fakeEngine) Cancel(_ context.Context, jobID int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.triggers[jobID]
	delete(e.triggers, jobID)
	return ok, nil
}

func (e *fakeEngine) Lookup(_ context.Context, jobID int64) (*models.ScheduledTrigger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.triggers[jobID]
	if !ok {
		return nil, scheduler.ErrNoTrigger
	}
	return t, nil
}

func (e *fakeEngine) Triggers(context.Context) ([]*models.ScheduledTrigger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*models.ScheduledTrigger
	for _, t := range e.triggers {
		out = append(out, t)
	}
	return out, nil
}
