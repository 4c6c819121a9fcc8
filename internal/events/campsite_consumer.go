package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/campbook/service-reservation/internal/application"
	"github.com/campbook/service-reservation/internal/domain/pricing"
	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/campbook/service-reservation/pkg/events"
	"github.com/campbook/service-reservation/pkg/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SiteUpdater applies catalogue changes to the local site projection.
type SiteUpdater interface {
	UpsertSite(ctx context.Context, cmd application.UpsertSiteCommand) error
	DeactivateSite(ctx context.Context, id uuid.UUID) error
}

// CampsiteEventConsumer keeps the site projection in step with the catalogue.
type CampsiteEventConsumer struct {
	consumer *kafka.Consumer
	sites    SiteUpdater
	logger   *zap.Logger
}

// NewCampsiteEventConsumer creates a new consumer for campsite events.
func NewCampsiteEventConsumer(brokers []string, groupID string, sites SiteUpdater, logger *zap.Logger) *CampsiteEventConsumer {
	return &CampsiteEventConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, events.TopicCampsiteEvents, logger),
		sites:    sites,
		logger:   logger,
	}
}

// Start begins consuming campsite events. It blocks until the context is cancelled.
func (c *CampsiteEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// handleMessage routes incoming Kafka messages to the appropriate handler.
// Malformed payloads are logged and dropped so they do not block the partition.
func (c *CampsiteEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from campsite topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil
	}

	c.logger.Info("received campsite event",
		zap.String("type", cloudEvent.Type),
		zap.String("id", cloudEvent.ID),
	)

	switch {
	case strings.EqualFold(cloudEvent.Type, events.CampsiteUpserted):
		err = c.handleUpserted(ctx, cloudEvent)
	case strings.EqualFold(cloudEvent.Type, events.CampsiteDeactivated):
		err = c.handleDeactivated(ctx, cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled campsite event type", zap.String("type", cloudEvent.Type))
		return nil
	}

	if domain.IsKind(err, domain.ErrValidation) || domain.IsKind(err, domain.ErrNotFound) {
		c.logger.Error("dropping campsite event", zap.String("id", cloudEvent.ID), zap.Error(err))
		return nil
	}
	return err
}

func (c *CampsiteEventConsumer) handleUpserted(ctx context.Context, ce kafka.CloudEvent) error {
	var event events.CampsiteUpsertedEvent
	if err := ce.ParseData(&event); err != nil {
		return domain.NewValidationError("INVALID_EVENT", err.Error())
	}

	var rules pricing.Rules
	if len(event.PricingRules) > 0 && string(event.PricingRules) != "null" {
		if err := json.Unmarshal(event.PricingRules, &rules); err != nil {
			return domain.NewValidationError("INVALID_PRICING_RULES", err.Error())
		}
	}

	return c.sites.UpsertSite(ctx, application.UpsertSiteCommand{
		ID:                  event.CampsiteID,
		ProviderID:          event.ProviderID,
		Name:                event.Name,
		NightlyRateCents:    event.NightlyRateCents,
		MaxBookingsPerNight: event.MaxBookingsPerNight,
		PricingRules:        rules,
		Active:              event.Active,
	})
}

func (c *CampsiteEventConsumer) handleDeactivated(ctx context.Context, ce kafka.CloudEvent) error {
	var event events.CampsiteDeactivatedEvent
	if err := ce.ParseData(&event); err != nil {
		return domain.NewValidationError("INVALID_EVENT", err.Error())
	}
	return c.sites.DeactivateSite(ctx, event.CampsiteID)
}

// Close closes the underlying Kafka consumer.
func (c *CampsiteEventConsumer) Close() error {
	return c.consumer.Close()
}
