package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pushline/go-push-delivery/internal/api"
	"github.com/pushline/go-push-delivery/pkg/push"
)

// --- Mocks ---

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, n push.Notification, explicit []push.Address) (*push.Result, error) {
	args := m.Called(ctx, n, explicit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Result), args.Error(1)
}

type MockTemplateSender struct {
	mock.Mock
}

func (m *MockTemplateSender) SendFromTemplate(ctx context.Context, templateID, targetUser string, data map[string]string, explicit []push.Address) (*push.Result, error) {
	args := m.Called(ctx, templateID, targetUser, data, explicit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Result), args.Error(1)
}

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Schedule(ctx context.Context, n push.Notification, targetTime time.Time) (string, *push.Result, error) {
	args := m.Called(ctx, n, targetTime)
	var result *push.Result
	if args.Get(1) != nil {
		result = args.Get(1).(*push.Result)
	}
	return args.String(0), result, args.Error(2)
}

func (m *MockScheduler) SendBulk(ctx context.Context, notifications []push.Notification) []*push.Result {
	args := m.Called(ctx, notifications)
	return args.Get(0).([]*push.Result)
}

type MockDeliveryStore struct {
	mock.Mock
}

func (m *MockDeliveryStore) LogDelivery(ctx context.Context, rec push.DeliveryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockDeliveryStore) Delivery(ctx context.Context, id string) (*push.DeliveryRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.DeliveryRecord), args.Error(1)
}

func (m *MockDeliveryStore) History(ctx context.Context, filter push.HistoryFilter) ([]push.DeliveryRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.DeliveryRecord), args.Error(1)
}

func (m *MockDeliveryStore) AggregateTotals(ctx context.Context) (push.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(push.Stats), args.Error(1)
}

func (m *MockDeliveryStore) Template(ctx context.Context, id string) (*push.Template, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Template), args.Error(1)
}

type MockStats struct {
	mock.Mock
}

func (m *MockStats) Snapshot() push.Stats {
	return m.Called().Get(0).(push.Stats)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, n push.Notification, delay time.Duration) (string, error) {
	args := m.Called(ctx, n, delay)
	return args.String(0), args.Error(1)
}

func (m *MockQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

type sendAPIMocks struct {
	sender    *MockSender
	templates *MockTemplateSender
	scheduler *MockScheduler
	store     *MockDeliveryStore
	stats     *MockStats
	queue     *MockQueue
}

func setupSendAPI() (*chi.Mux, *sendAPIMocks) {
	m := &sendAPIMocks{
		sender:    new(MockSender),
		templates: new(MockTemplateSender),
		scheduler: new(MockScheduler),
		store:     new(MockDeliveryStore),
		stats:     new(MockStats),
		queue:     new(MockQueue),
	}
	sendAPI := api.NewSendAPI(m.sender, m.templates, m.scheduler, m.store, m.stats, m.queue, newTestLogger())

	r := chi.NewRouter()
	sendAPI.RegisterRoutes(r)
	return r, m
}

func okResult() *push.Result {
	result := new(push.Result)
	result.Absorb(push.Delivered(push.Address{Channel: push.ChannelFCM, Token: "t1"}, "m1"))
	return result
}

// --- Tests ---

func TestSendAPI_Send(t *testing.T) {
	t.Run("Immediate send returns the result", func(t *testing.T) {
		router, m := setupSendAPI()

		m.sender.On("Send", mock.Anything, mock.MatchedBy(func(n push.Notification) bool {
			return n.Title == "Hi" && n.Priority == push.PriorityNormal && n.ID != ""
		}), mock.Anything).Return(okResult(), nil)

		body := bytes.NewBufferString(`{"notification": {"title": "Hi", "body": "There", "target_user": "user-1"}}`)
		req := httptest.NewRequest(http.MethodPost, "/send", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var result push.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 1, result.TotalSent)
		m.sender.AssertExpectations(t)
	})

	t.Run("Missing title rejected at the boundary", func(t *testing.T) {
		router, m := setupSendAPI()

		body := bytes.NewBufferString(`{"notification": {"body": "only a body"}}`)
		req := httptest.NewRequest(http.MethodPost, "/send", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		m.sender.AssertNotCalled(t, "Send")
	})

	t.Run("Scheduled send returns 202 with job id", func(t *testing.T) {
		router, m := setupSendAPI()

		due := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		m.scheduler.On("Schedule", mock.Anything, mock.Anything, due).Return("job-1", nil, nil)

		payload := fmt.Sprintf(`{"notification": {"title": "Later", "body": "b"}, "scheduled_at": %q}`,
			due.Format(time.RFC3339))
		req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "job-1")
		m.sender.AssertNotCalled(t, "Send")
	})

	t.Run("Past-due schedule answered with the immediate result", func(t *testing.T) {
		router, m := setupSendAPI()

		m.scheduler.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return("", okResult(), nil)

		payload := fmt.Sprintf(`{"notification": {"title": "Now", "body": "b"}, "scheduled_at": %q}`,
			time.Now().Add(-time.Minute).UTC().Format(time.RFC3339))
		req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Empty explicit address list maps to 400", func(t *testing.T) {
		router, m := setupSendAPI()

		m.sender.On("Send", mock.Anything, mock.Anything, mock.MatchedBy(func(addrs []push.Address) bool {
			return addrs != nil && len(addrs) == 0
		})).Return(nil, push.ErrEmptyAddressList)

		body := bytes.NewBufferString(`{"notification": {"title": "Hi", "body": "b"}, "addresses": []}`)
		req := httptest.NewRequest(http.MethodPost, "/send", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Uninitialized coordinator maps to 503", func(t *testing.T) {
		router, m := setupSendAPI()

		m.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil, push.ErrUninitialized)

		body := bytes.NewBufferString(`{"notification": {"title": "Hi", "body": "b"}}`)
		req := httptest.NewRequest(http.MethodPost, "/send", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestSendAPI_SendBulk(t *testing.T) {
	t.Run("One result per notification", func(t *testing.T) {
		router, m := setupSendAPI()

		m.scheduler.On("SendBulk", mock.Anything, mock.MatchedBy(func(ns []push.Notification) bool {
			return len(ns) == 2
		})).Return([]*push.Result{okResult(), okResult()})

		body := bytes.NewBufferString(`{"notifications": [
			{"title": "One", "body": "b"},
			{"title": "Two", "body": "b"}
		]}`)
		req := httptest.NewRequest(http.MethodPost, "/send/bulk", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var results []push.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
		assert.Len(t, results, 2)
	})

	t.Run("Empty batch rejected", func(t *testing.T) {
		router, m := setupSendAPI()

		body := bytes.NewBufferString(`{"notifications": []}`)
		req := httptest.NewRequest(http.MethodPost, "/send/bulk", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		m.scheduler.AssertNotCalled(t, "SendBulk")
	})
}

func TestSendAPI_SendTemplate(t *testing.T) {
	t.Run("Delegates to the template sender", func(t *testing.T) {
		router, m := setupSendAPI()

		m.templates.On("SendFromTemplate", mock.Anything, "welcome", "user-1",
			map[string]string{"name": "Alice"}, mock.Anything).Return(okResult(), nil)

		body := bytes.NewBufferString(`{"template_id": "welcome", "target_user": "user-1", "data": {"name": "Alice"}}`)
		req := httptest.NewRequest(http.MethodPost, "/send/template", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		m.templates.AssertExpectations(t)
	})

	t.Run("Unknown template maps to 404", func(t *testing.T) {
		router, m := setupSendAPI()

		m.templates.On("SendFromTemplate", mock.Anything, "missing", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: missing", push.ErrTemplateNotFound))

		body := bytes.NewBufferString(`{"template_id": "missing"}`)
		req := httptest.NewRequest(http.MethodPost, "/send/template", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSendAPI_History(t *testing.T) {
	t.Run("Filter parsed from query", func(t *testing.T) {
		router, m := setupSendAPI()

		m.store.On("History", mock.Anything, mock.MatchedBy(func(f push.HistoryFilter) bool {
			return f.TargetUser == "user-1" && f.Page == 2 && f.PageSize == 10 && f.From != nil
		})).Return([]push.DeliveryRecord{{ID: "n-1"}}, nil)

		req := httptest.NewRequest(http.MethodGet,
			"/history?user=user-1&page=2&page_size=10&from=2026-08-01T00:00:00Z", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "n-1")
	})

	t.Run("Bad timestamp rejected", func(t *testing.T) {
		router, _ := setupSendAPI()

		req := httptest.NewRequest(http.MethodGet, "/history?from=yesterday", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSendAPI_Delivery(t *testing.T) {
	t.Run("Known delivery", func(t *testing.T) {
		router, m := setupSendAPI()

		m.store.On("Delivery", mock.Anything, "n-1").Return(&push.DeliveryRecord{ID: "n-1", Sent: 3}, nil)

		req := httptest.NewRequest(http.MethodGet, "/deliveries/n-1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Unknown delivery maps to 404", func(t *testing.T) {
		router, m := setupSendAPI()

		m.store.On("Delivery", mock.Anything, "ghost").Return(nil, push.ErrNotFound)

		req := httptest.NewRequest(http.MethodGet, "/deliveries/ghost", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSendAPI_Stats(t *testing.T) {
	t.Run("Combines live and persisted counters", func(t *testing.T) {
		router, m := setupSendAPI()

		m.stats.On("Snapshot").Return(push.Stats{TotalSent: 5})
		m.store.On("AggregateTotals", mock.Anything).Return(push.Stats{TotalSent: 100}, nil)

		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Live      push.Stats `json:"live"`
			Persisted push.Stats `json:"persisted"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(5), resp.Live.TotalSent)
		assert.Equal(t, int64(100), resp.Persisted.TotalSent)
	})

	t.Run("Persisted totals failure degrades to live only", func(t *testing.T) {
		router, m := setupSendAPI()

		m.stats.On("Snapshot").Return(push.Stats{TotalSent: 5})
		m.store.On("AggregateTotals", mock.Anything).Return(push.Stats{}, assert.AnError)

		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSendAPI_CancelScheduled(t *testing.T) {
	t.Run("Cancelled", func(t *testing.T) {
		router, m := setupSendAPI()

		m.queue.On("Cancel", mock.Anything, "job-1").Return(true, nil)

		req := httptest.NewRequest(http.MethodDelete, "/scheduled/job-1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("Already dispatched maps to 404", func(t *testing.T) {
		router, m := setupSendAPI()

		m.queue.On("Cancel", mock.Anything, "job-1").Return(false, nil)

		req := httptest.NewRequest(http.MethodDelete, "/scheduled/job-1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
