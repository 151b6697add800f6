package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/config"
	"github.com/md-rashed-zaman/meetsync/libs/db"
	"github.com/md-rashed-zaman/meetsync/libs/httpx"
	"github.com/md-rashed-zaman/meetsync/libs/kafkax"
	otelx "github.com/md-rashed-zaman/meetsync/libs/otel"
	"github.com/md-rashed-zaman/meetsync/libs/runtime"
	"github.com/md-rashed-zaman/meetsync/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/meetsync/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/meetsync/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/meetsync/services/notification-service/internal/outbox"
	"github.com/md-rashed-zaman/meetsync/services/notification-service/internal/push"
	"github.com/md-rashed-zaman/meetsync/services/notification-service/internal/render"
	"github.com/md-rashed-zaman/meetsync/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var inviteTopics = []string{
	"appointment.invite.due.v1",
	"appointment.invite.joined.v1",
	"appointment.invite.declined.v1",
	"appointment.invite.expired.v1",
	"appointment.invite.noop.v1",
}

func writeReceipt(ctx context.Context, outboxRepo *outbox.Repository, inv render.Invite, status, providerID, reason string) error {
	eventPayload, err := json.Marshal(map[string]any{
		"appointment_id": inv.AppointmentID,
		"party_id":       inv.PartyID,
		"event":          inv.Event,
		"channel":        inv.Channel,
		"provider_id":    providerID,
		"error_reason":   reason,
		"recorded_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	eventType := "notification.sent.v1"
	if status == "failed" {
		eventType = "notification.failed.v1"
	}
	return outboxRepo.Insert(ctx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   inv.AppointmentID,
		EventType:     eventType,
		Payload:       eventPayload,
	})
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@meetsync.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)
	emailProviderID := "smtp"

	pushProvider := strings.ToLower(config.String("PUSH_PROVIDER", "noop"))
	pushWebhookURL := config.String("PUSH_WEBHOOK_URL", "")
	pushWebhookToken := config.String("PUSH_WEBHOOK_TOKEN", "")
	var pushSender push.Sender
	switch pushProvider {
	case "webhook":
		pushSender = push.NewWebhookSender(pushWebhookURL, pushWebhookToken)
	case "noop":
		pushSender = push.NewNoopSender()
	default:
		pushSender = push.NewWebhookSender(pushWebhookURL, pushWebhookToken)
	}

	failSuffix := config.String("NOTIFICATION_FAIL_SUFFIX", "")
	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  inviteTopics,
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		var inv render.Invite
		if err := json.Unmarshal(msg.Value, &inv); err != nil {
			logger.Error("invalid invite payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if !inv.Valid() {
			logger.Error("missing invite fields", "topic", msg.Topic)
			return nil
		}

		subject, body := render.Message(inv)

		status := "sent"
		failureReason := ""
		if failSuffix != "" && strings.HasSuffix(inv.Recipient, failSuffix) {
			status = "failed"
			failureReason = "simulated failure"
		}

		providerID := ""
		if status == "sent" {
			switch strings.ToLower(inv.Channel) {
			case "email":
				if err := emailSender.Send(inv.Recipient, subject, body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("email send failed", "err", err, "recipient", inv.Recipient)
				} else {
					providerID = emailProviderID
				}
			case "push":
				if err := pushSender.Send(ctx, inv.Recipient, subject, body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("push send failed", "err", err, "recipient", inv.Recipient)
				} else {
					providerID = pushSender.ProviderID()
				}
			default:
				status = "failed"
				failureReason = "unsupported channel: " + inv.Channel
				logger.Error("unsupported channel", "channel", inv.Channel)
			}
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			AppointmentID: inv.AppointmentID,
			PartyID:       inv.PartyID,
			Event:         inv.Event,
			Channel:       inv.Channel,
			Recipient:     inv.Recipient,
			Payload: map[string]any{
				"subject": subject,
				"body":    body,
				"actor":   inv.Actor,
			},
			Status: status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}

		if err := writeReceipt(ctx, outboxRepo, inv, status, providerID, failureReason); err != nil {
			logger.Error("failed to enqueue delivery receipt", "err", err)
			return err
		}

		logger.Info("invite processed", "appointment_id", inv.AppointmentID, "event", inv.Event, "channel", inv.Channel, "status", status)
		return nil
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
