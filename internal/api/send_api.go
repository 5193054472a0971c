package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// Sender mirrors the coordinator's send surface.
type Sender interface {
	Send(ctx context.Context, n push.Notification, explicit []push.Address) (*push.Result, error)
}

// TemplateSender mirrors the template wrapper.
type TemplateSender interface {
	SendFromTemplate(ctx context.Context, templateID, targetUser string, data map[string]string, explicit []push.Address) (*push.Result, error)
}

// Scheduler mirrors the scheduler bridge.
type Scheduler interface {
	Schedule(ctx context.Context, n push.Notification, targetTime time.Time) (string, *push.Result, error)
	SendBulk(ctx context.Context, notifications []push.Notification) []*push.Result
}

// StatsSource yields the in-process counters.
type StatsSource interface {
	Snapshot() push.Stats
}

type SendAPI struct {
	sender    Sender
	templates TemplateSender
	scheduler Scheduler
	store     push.DeliveryStore
	stats     StatsSource
	queue     push.Queue
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewSendAPI(
	sender Sender,
	templates TemplateSender,
	scheduler Scheduler,
	store push.DeliveryStore,
	stats StatsSource,
	queue push.Queue,
	logger *slog.Logger,
) *SendAPI {
	return &SendAPI{
		sender:    sender,
		templates: templates,
		scheduler: scheduler,
		store:     store,
		stats:     stats,
		queue:     queue,
		validate:  validator.New(),
		logger:    logger.With("component", "SendAPI"),
	}
}

func (a *SendAPI) RegisterRoutes(r chi.Router) {
	r.Post("/send", a.Send)
	r.Post("/send/bulk", a.SendBulk)
	r.Post("/send/template", a.SendTemplate)
	r.Get("/history", a.History)
	r.Get("/deliveries/{id}", a.Delivery)
	r.Get("/stats", a.Stats)
	r.Delete("/scheduled/{jobID}", a.CancelScheduled)
}

// notificationPayload is the wire shape of a notification with boundary
// validation. The core does not re-validate.
type notificationPayload struct {
	ID           string            `json:"id"`
	Title        string            `json:"title" validate:"required"`
	Body         string            `json:"body" validate:"required"`
	Data         map[string]string `json:"data,omitempty"`
	ImageURL     string            `json:"image_url,omitempty"`
	Sound        string            `json:"sound,omitempty"`
	Badge        int               `json:"badge,omitempty"`
	ChannelGroup string            `json:"channel_group,omitempty"`
	Actions      []push.Action     `json:"actions,omitempty"`
	Priority     push.Priority     `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
	TTLSeconds   int               `json:"ttl_seconds,omitempty" validate:"omitempty,min=0"`
	CollapseKey  string            `json:"collapse_key,omitempty"`
	TargetUser   string            `json:"target_user,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
}

func (p notificationPayload) toDomain() push.Notification {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	priority := p.Priority
	if priority == "" {
		priority = push.PriorityNormal
	}
	return push.Notification{
		ID:           id,
		Title:        p.Title,
		Body:         p.Body,
		Data:         p.Data,
		ImageURL:     p.ImageURL,
		Sound:        p.Sound,
		Badge:        p.Badge,
		ChannelGroup: p.ChannelGroup,
		Actions:      p.Actions,
		Priority:     priority,
		TTL:          time.Duration(p.TTLSeconds) * time.Second,
		CollapseKey:  p.CollapseKey,
		TargetUser:   p.TargetUser,
		Tags:         p.Tags,
	}
}

type sendRequest struct {
	Notification notificationPayload `json:"notification" validate:"required"`
	Addresses    []push.Address      `json:"addresses,omitempty" validate:"omitempty,min=1,dive"`
	ScheduledAt  *time.Time          `json:"scheduled_at,omitempty"`
}

type scheduledResponse struct {
	JobID string    `json:"job_id"`
	DueAt time.Time `json:"due_at"`
}

func (a *SendAPI) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	n := req.Notification.toDomain()

	if req.ScheduledAt != nil {
		jobID, result, err := a.scheduler.Schedule(r.Context(), n, *req.ScheduledAt)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if jobID != "" {
			writeJSON(w, http.StatusAccepted, scheduledResponse{JobID: jobID, DueAt: *req.ScheduledAt})
			return
		}
		// Past-due schedule was sent immediately.
		writeJSON(w, http.StatusOK, result)
		return
	}

	var explicit []push.Address
	if req.Addresses != nil {
		explicit = req.Addresses
	}
	result, err := a.sender.Send(r.Context(), n, explicit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sendBulkRequest struct {
	Notifications []notificationPayload `json:"notifications" validate:"required,min=1,max=500,dive"`
}

func (a *SendAPI) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req sendBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	notifications := make([]push.Notification, 0, len(req.Notifications))
	for _, p := range req.Notifications {
		notifications = append(notifications, p.toDomain())
	}

	results := a.scheduler.SendBulk(r.Context(), notifications)
	writeJSON(w, http.StatusOK, results)
}

type sendTemplateRequest struct {
	TemplateID string            `json:"template_id" validate:"required"`
	TargetUser string            `json:"target_user,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	Addresses  []push.Address    `json:"addresses,omitempty" validate:"omitempty,min=1,dive"`
}

func (a *SendAPI) SendTemplate(w http.ResponseWriter, r *http.Request) {
	var req sendTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var explicit []push.Address
	if req.Addresses != nil {
		explicit = req.Addresses
	}
	result, err := a.templates.SendFromTemplate(r.Context(), req.TemplateID, req.TargetUser, req.Data, explicit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *SendAPI) History(w http.ResponseWriter, r *http.Request) {
	filter := push.HistoryFilter{
		TargetUser: r.URL.Query().Get("user"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid 'from' timestamp")
			return
		}
		filter.From = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid 'to' timestamp")
			return
		}
		filter.To = &t
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	records, err := a.store.History(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *SendAPI) Delivery(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.Delivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type statsResponse struct {
	Live      push.Stats `json:"live"`
	Persisted push.Stats `json:"persisted"`
}

func (a *SendAPI) Stats(w http.ResponseWriter, r *http.Request) {
	persisted, err := a.store.AggregateTotals(r.Context())
	if err != nil {
		a.logger.Warn("Failed to read persisted totals", "err", err)
		persisted = push.Stats{Channels: map[push.Channel]push.ChannelStats{}}
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Live:      a.stats.Snapshot(),
		Persisted: persisted,
	})
}

func (a *SendAPI) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	if a.queue == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "deferred delivery is not configured")
		return
	}
	jobID := chi.URLParam(r, "jobID")
	cancelled, err := a.queue.Cancel(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !cancelled {
		writeJSONError(w, http.StatusNotFound, "job not found or already dispatched")
		return
	}
	a.logger.Info("Scheduled job cancelled", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}
