package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/flowpbx/pushcall/internal/notify"
)

// callTTL matches the agent's prompt deadline; a call push delivered
// later than this would ring for a call that already timed out.
const callTTL = 30 * time.Second

// messagingClient is the part of *messaging.Client the sender uses.
type messagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMSender sends push notifications via Firebase Cloud Messaging.
type FCMSender struct {
	client messagingClient
	logger *slog.Logger
}

// NewFCMSender initialises a Firebase app from the service-account JSON
// file at credentialsFile and returns a ready-to-use FCMSender.
// If credentialsFile is empty, the SDK falls back to
// GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewFCMSender(ctx context.Context, credentialsFile string, logger *slog.Logger) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	logger = logger.With("subsystem", "fcm")
	logger.Info("fcm sender initialised")
	return &FCMSender{client: client, logger: logger}, nil
}

// Send delivers p to an FCM registration token and returns the message id.
func (f *FCMSender) Send(ctx context.Context, p Push) (string, error) {
	if p.Platform != PlatformFCM {
		return "", fmt.Errorf("fcm sender: unsupported platform %q", p.Platform)
	}

	id, err := f.client.Send(ctx, buildFCMMessage(p))
	if err != nil {
		if messaging.IsUnregistered(err) {
			return "", fmt.Errorf("fcm: token no longer valid: %w", err)
		}
		return "", fmt.Errorf("fcm: send failed: %w", err)
	}

	f.logger.Debug("fcm message sent", "message_id", id, "kind", p.Kind)
	return id, nil
}

// buildFCMMessage maps a push to an FCM message. Messages carry a display
// notification on the messages channel; calls are high-priority data-only
// pushes so the agent can ring and present them itself.
func buildFCMMessage(p Push) *messaging.Message {
	msg := &messaging.Message{
		Token: p.Token,
		Data:  p.Data,
	}

	switch p.Kind {
	case KindCall:
		ttl := callTTL
		msg.Android = &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		}
	default:
		msg.Notification = &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		}
		msg.Android = &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID:    string(notify.ChannelMessage),
				DefaultSound: true,
				Color:        "#25D366",
				Icon:         "ic_notification",
			},
		}
	}
	return msg
}
