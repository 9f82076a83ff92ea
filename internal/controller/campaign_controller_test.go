package controller_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailshed/campaign-backend/internal/controller"
	"github.com/mailshed/campaign-backend/internal/model"
	"github.com/mailshed/campaign-backend/internal/queue"
	"github.com/mailshed/campaign-backend/internal/service"
)

const testOwnerID = "3f2b6c0a-1d9e-4f7a-8b2c-5e6d7a8b9c0d"

type stubRepo struct {
	byOwner    map[string][]model.Campaign
	withSender map[string]*model.CampaignWithSender
	inbox      map[string][]model.CampaignWithSender
	created    []*model.Campaign
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		byOwner:    make(map[string][]model.Campaign),
		withSender: make(map[string]*model.CampaignWithSender),
		inbox:      make(map[string][]model.CampaignWithSender),
	}
}

func (r *stubRepo) Create(c *model.Campaign) error {
	r.created = append(r.created, c)
	return nil
}
func (r *stubRepo) LinkQueueJob(string, string) error { return nil }
func (r *stubRepo) GetByID(string) (*model.Campaign, error) {
	return nil, nil
}
func (r *stubRepo) GetWithSender(id string) (*model.CampaignWithSender, error) {
	return r.withSender[id], nil
}
func (r *stubRepo) ListByOwner(ownerID string) ([]model.Campaign, error) {
	return r.byOwner[ownerID], nil
}
func (r *stubRepo) ListInbox(recipient string, _ time.Time) ([]model.CampaignWithSender, error) {
	return r.inbox[recipient], nil
}
func (r *stubRepo) MarkCompleted(string, time.Time, string) error { return nil }
func (r *stubRepo) MarkFailed(string) error { return nil }

type stubQueue struct{}

func (stubQueue) Enqueue(_ context.Context, id string, _ queue.Payload, _ time.Duration) (string, error) {
	return "q-" + id, nil
}
func (stubQueue) Claim(context.Context) (*queue.Job, error) { return nil, queue.ErrClosed }
func (stubQueue) Ack(context.Context, *queue.Job) error { return nil }
func (stubQueue) Fail(context.Context, *queue.Job) error { return nil }
func (stubQueue) Reschedule(context.Context, *queue.Job, time.Duration) error { return nil }
func (stubQueue) Close() error { return nil }

func newTestRouter(repo *stubRepo) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := &service.CampaignService{
		Campaigns: repo,
		Queue:     stubQueue{},
		Log:       logger,
	}
	ctrl := controller.NewCampaignController(svc, logger)

	r := chi.NewRouter()
	r.Post("/campaigns", ctrl.Schedule)
	r.Get("/campaigns/{userId}", ctrl.ListUserCampaigns)
	r.Get("/campaigns/job/{id}", ctrl.GetDetails)
	r.Get("/campaigns/inbox/{email}", ctrl.GetInbox)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScheduleCreated(t *testing.T) {
	repo := newStubRepo()
	h := newTestRouter(repo)

	rec := doRequest(t, h, http.MethodPost, "/campaigns", `{
		"toAddress": "alice@example.com",
		"title": "Launch",
		"content": "<p>hello</p>",
		"ownerId": "`+testOwnerID+`"
	}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Message string               `json:"message"`
		Data    service.CreateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Campaign successfully scheduled", resp.Message)
	assert.NotEmpty(t, resp.Data.TaskID)
	assert.Equal(t, "q-"+resp.Data.TaskID, resp.Data.QueueID)

	require.Len(t, repo.created, 1)
	assert.Equal(t, testOwnerID, repo.created[0].OwnerID)
}

func TestScheduleRejectsInvalidEmail(t *testing.T) {
	h := newTestRouter(newStubRepo())

	rec := doRequest(t, h, http.MethodPost, "/campaigns", `{
		"toAddress": "not-an-email",
		"title": "Launch",
		"content": "x",
		"ownerId": "`+testOwnerID+`"
	}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ToAddress")
}

func TestScheduleRejectsMissingFields(t *testing.T) {
	h := newTestRouter(newStubRepo())

	rec := doRequest(t, h, http.MethodPost, "/campaigns", `{
		"toAddress": "alice@example.com",
		"ownerId": "`+testOwnerID+`"
	}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Title")
	assert.Contains(t, body, "Content")
}

func TestScheduleRejectsMalformedBody(t *testing.T) {
	h := newTestRouter(newStubRepo())

	rec := doRequest(t, h, http.MethodPost, "/campaigns", `{"toAddress": `)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestScheduleRejectsBadScheduleTime(t *testing.T) {
	h := newTestRouter(newStubRepo())

	rec := doRequest(t, h, http.MethodPost, "/campaigns", `{
		"toAddress": "alice@example.com",
		"title": "Launch",
		"content": "x",
		"ownerId": "`+testOwnerID+`",
		"scheduleTime": "tomorrow at noon"
	}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "RFC3339")
}

func TestGetDetailsNotFound(t *testing.T) {
	h := newTestRouter(newStubRepo())

	rec := doRequest(t, h, http.MethodGet, "/campaigns/job/missing-id", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "campaign task not found")
}

func TestGetDetailsFound(t *testing.T) {
	repo := newStubRepo()
	repo.withSender["c1"] = &model.CampaignWithSender{
		Campaign: model.Campaign{ID: "c1", Subject: "Launch", Status: model.StatusCompleted},
		Sender:   &model.Sender{Name: "Carol", Email: "carol@example.com"},
	}
	h := newTestRouter(repo)

	rec := doRequest(t, h, http.MethodGet, "/campaigns/job/c1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.CampaignWithSender
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "c1", got.ID)
	require.NotNil(t, got.Sender)
	assert.Equal(t, "Carol", got.Sender.Name)
}

func TestGetInboxIsCaseInsensitive(t *testing.T) {
	repo := newStubRepo()
	repo.inbox["alice@example.com"] = []model.CampaignWithSender{
		{Campaign: model.Campaign{ID: "c1", Recipient: "Alice@Example.com"}},
	}
	h := newTestRouter(repo)

	rec := doRequest(t, h, http.MethodGet, "/campaigns/inbox/Alice@Example.COM", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.CampaignWithSender
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
}

func TestListUserCampaigns(t *testing.T) {
	repo := newStubRepo()
	repo.byOwner[testOwnerID] = []model.Campaign{
		{ID: "c2", OwnerID: testOwnerID, Status: model.StatusDelayed},
		{ID: "c1", OwnerID: testOwnerID, Status: model.StatusCompleted},
	}
	h := newTestRouter(repo)

	rec := doRequest(t, h, http.MethodGet, "/campaigns/"+testOwnerID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ID)
}
