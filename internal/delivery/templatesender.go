package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// TemplateSender renders a stored template into a notification and hands
// it to the coordinator.
type TemplateSender struct {
	store  push.DeliveryStore
	sender Sender
	logger *slog.Logger
}

func NewTemplateSender(store push.DeliveryStore, sender Sender, logger *slog.Logger) *TemplateSender {
	return &TemplateSender{
		store:  store,
		sender: sender,
		logger: logger.With("component", "TemplateSender"),
	}
}

// SendFromTemplate loads the template, merges its default data under the
// caller's data (caller wins on collision), renders title and body and
// delegates the send. An unknown template fails with ErrTemplateNotFound
// before any channel is contacted.
func (t *TemplateSender) SendFromTemplate(
	ctx context.Context,
	templateID string,
	targetUser string,
	data map[string]string,
	explicit []push.Address,
) (*push.Result, error) {
	tpl, err := t.store.Template(ctx, templateID)
	if err != nil {
		if errors.Is(err, push.ErrNotFound) || errors.Is(err, push.ErrTemplateNotFound) {
			return nil, fmt.Errorf("%w: %s", push.ErrTemplateNotFound, templateID)
		}
		return nil, fmt.Errorf("failed to load template %q: %w", templateID, err)
	}

	merged := make(map[string]string, len(tpl.DefaultData)+len(data))
	for k, v := range tpl.DefaultData {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}

	n := push.Notification{
		ID:         fmt.Sprintf("%s-%d-%s", templateID, time.Now().UnixNano(), uuid.NewString()[:8]),
		Title:      push.Render(tpl.Title, merged),
		Body:       push.Render(tpl.Body, merged),
		Data:       merged,
		ImageURL:   tpl.ImageURL,
		Sound:      tpl.Sound,
		Badge:      tpl.Badge,
		Actions:    tpl.Actions,
		Priority:   push.PriorityNormal,
		TargetUser: targetUser,
	}

	t.logger.Info("Sending from template", "template_id", templateID, "notification_id", n.ID)
	return t.sender.Send(ctx, n, explicit)
}
