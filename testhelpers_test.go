//go:build integration

package main_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/campbook/service-reservation/internal/adapter"
	"github.com/campbook/service-reservation/internal/application"
	reservationEvents "github.com/campbook/service-reservation/internal/events"
	"github.com/campbook/service-reservation/internal/repository"
	"github.com/campbook/service-reservation/internal/saga"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/campbook/service-reservation/pkg/database"
	"github.com/campbook/service-reservation/pkg/events"
	"github.com/campbook/service-reservation/pkg/kafka"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_integration"

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// reservationStack holds wired-up reservation service components.
type reservationStack struct {
	Reservations    *application.ReservationService
	Settlement      *application.SettlementService
	Payouts         *application.PayoutService
	Sites           *application.SiteService
	Gateway         *adapter.MockGateway
	Consumer        *reservationEvents.CampsiteEventConsumer
	CleanupProducer func()
}

// setupContainers starts PostgreSQL and Kafka testcontainers, applies the
// migrations and returns a connected GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	// Start PostgreSQL container with log-based wait strategy.
	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_reservation",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Port(),
		User:     "test",
		Password: "test",
		DBName:   "test_reservation",
		SSLMode:  "disable",
	}

	// Poll until GORM can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(cfg, logger)
		return err == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(cfg.DatabaseURL(), "migrations", logger))

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers, events.TopicBookingEvents, events.TopicPaymentEvents, events.TopicCampsiteEvents)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// setupReservationStack wires up the full reservation service stack.
func setupReservationStack(t *testing.T, db *gorm.DB, brokers []string) *reservationStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	siteRepo := repository.NewGormSiteRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	gateway := adapter.NewMockGateway(webhookSecret, logger)
	producer := kafka.NewProducer(brokers, logger)
	publisher := reservationEvents.NewPublisher(producer, logger)

	refunds := saga.NewRefundSagaService(paymentRepo, gateway, nil, logger)
	settlement := application.NewSettlementService(bookingRepo, paymentRepo, gateway, refunds, publisher, decimal.NewFromInt(20), nil, logger)
	reservations := application.NewReservationService(bookingRepo, siteRepo, settlement, publisher, "USD", nil, logger)
	payouts := application.NewPayoutService(ledgerRepo, reservations, publisher, nil, logger)
	sites := application.NewSiteService(siteRepo, logger)

	groupID := fmt.Sprintf("test-reservation-%s", uuid.New().String()[:8])
	consumer := reservationEvents.NewCampsiteEventConsumer(brokers, groupID, sites, logger)

	return &reservationStack{
		Reservations:    reservations,
		Settlement:      settlement,
		Payouts:         payouts,
		Sites:           sites,
		Gateway:         gateway,
		Consumer:        consumer,
		CleanupProducer: func() { _ = producer.Close() },
	}
}

// seedSite inserts an active site without pricing rules.
func seedSite(t *testing.T, db *gorm.DB, providerID uuid.UUID, rateCents int64, maxPerNight int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := time.Now().UTC()
	model := repository.SiteModel{
		ID:                  id,
		ProviderID:          providerID,
		Name:                "Integration Meadow",
		NightlyRateCents:    rateCents,
		MaxBookingsPerNight: maxPerNight,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, db.Create(&model).Error, "failed to seed site")
	return id
}

// stayDates returns a check-in/check-out pair days ahead of today.
func stayDates(daysAhead, nights int) (string, string) {
	in := time.Now().UTC().AddDate(0, 0, daysAhead)
	return in.Format("2006-01-02"), in.AddDate(0, 0, nights).Format("2006-01-02")
}

func renter() auth.Actor { return auth.Actor{UserID: uuid.New(), Role: auth.RoleRenter} }

// signedWebhook builds a mock gateway webhook body and its signature.
func signedWebhook(t *testing.T, gw *adapter.MockGateway, bookingID uuid.UUID, txn string, amount int64) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(adapter.MockWebhook{
		ID:   "evt_" + txn,
		Type: "charge.complete",
		Data: adapter.MockWebhookData{
			TransactionID: txn,
			BookingID:     bookingID.String(),
			Amount:        amount,
			Currency:      "USD",
			Method:        "card",
			Status:        "paid",
		},
	})
	require.NoError(t, err)
	return raw, gw.Sign(raw)
}

// reservedCount reads the reserved counter for one night.
func reservedCount(t *testing.T, db *gorm.DB, siteID uuid.UUID, night string) int {
	t.Helper()
	var row repository.CapacityNightModel
	err := db.Where("site_id = ? AND night = ?", siteID, night).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0
	}
	require.NoError(t, err)
	return row.ReservedCount
}

// nightCap reads the stored cap for one night.
func nightCap(t *testing.T, db *gorm.DB, siteID uuid.UUID, night string) int {
	t.Helper()
	var row repository.CapacityNightModel
	require.NoError(t, db.Where("site_id = ? AND night = ?", siteID, night).First(&row).Error)
	return row.Cap
}

// finishStay moves a booking's stay into the past so it can be completed.
func finishStay(t *testing.T, db *gorm.DB, bookingID uuid.UUID) {
	t.Helper()
	require.NoError(t, db.Exec(
		"UPDATE bookings SET check_in = current_date - 3, check_out = current_date - 1 WHERE id = ?", bookingID).Error)
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the
// expected type about subject.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType, subject string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType && ce.Subject == subject {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
