package mainconfig

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/appointment-intent-engine/internal/archive"
	appconfig "github.com/wolfman30/appointment-intent-engine/internal/config"
	"github.com/wolfman30/appointment-intent-engine/internal/events"
	"github.com/wolfman30/appointment-intent-engine/internal/notify"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

// EmailSender picks the outbound email provider. Misconfigured providers fall
// back to the stub sender, which only logs.
func EmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender
		}
		logger.Warn("SENDGRID_API_KEY missing; emails will only be logged")
	case "ses":
		if sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	return notify.NewStubEmailSender(logger)
}

// DeliveryHandlers returns the downstream consumers of appointment events:
// customer email when a provider is set and the S3 archive when a bucket is set.
func DeliveryHandlers(cfg *appconfig.Config, awsCfg aws.Config, tenants notify.TenantResolver, logger *logging.Logger) []events.DeliveryHandler {
	var handlers []events.DeliveryHandler
	if cfg.EmailProvider != "" && cfg.EmailProvider != "none" {
		handlers = append(handlers, notify.NewAppointmentNotifier(EmailSender(cfg, awsCfg, logger), tenants, logger))
	}
	if cfg.ArchiveBucket != "" {
		handlers = append(handlers, archive.NewStore(NewS3Client(awsCfg, cfg), cfg.ArchiveBucket, logger))
	}
	return handlers
}
