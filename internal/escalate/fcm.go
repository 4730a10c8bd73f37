package escalate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMSender delivers escalation pushes to the on-call mobile app via
// Firebase Cloud Messaging. Used for P1 plans where waking a sleeping
// phone matters more than an SMS notification sound.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender initialises a Firebase app from the service-account JSON
// file at credentialsFile. If credentialsFile is empty, the SDK falls back
// to GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
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

	slog.Info("fcm sender initialised")
	return &FCMSender{client: client}, nil
}

// Send implements Sender for the "push" channel. target is an FCM
// registration token.
func (f *FCMSender) Send(ctx context.Context, target string, msg Message) (string, error) {
	ttl := 5 * time.Minute
	fcmMsg := &messaging.Message{
		Token: target,
		Data: map[string]string{
			"type":    "escalation",
			"call_id": msg.CallID,
			"tier":    msg.Tier,
			"body":    msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	}

	id, err := f.client.Send(ctx, fcmMsg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			return "", fmt.Errorf("fcm: token no longer valid: %w", err)
		}
		return "", fmt.Errorf("fcm: send failed: %w", err)
	}

	slog.Debug("fcm message sent", "message_id", id, "call_id", msg.CallID)
	return id, nil
}
