package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// DefaultSubjectPrefix is prepended to the notification kind to form the subject
const DefaultSubjectPrefix = "rebill.notifications"

// Publisher is the part of *nats.Conn the notifier needs
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSNotifier publishes notifications as JSON messages
type NATSNotifier struct {
	pub    Publisher
	prefix string
	logger *logrus.Logger
}

// NewNATSNotifier creates a notifier publishing on <prefix>.<kind>
func NewNATSNotifier(pub Publisher, prefix string, logger *logrus.Logger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{pub: pub, prefix: prefix, logger: logger}
}

// ConnectNATS opens a connection that keeps reconnecting in the background
func ConnectNATS(url, name string, logger *logrus.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject returns the subject a notification kind is published on
func (n *NATSNotifier) Subject(kind billing.NotificationKind) string {
	return n.prefix + "." + string(kind)
}

// Notify publishes the notification. The message id lets a JetStream stream drop duplicates.
func (n *NATSNotifier) Notify(ctx context.Context, note billing.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := nats.NewMsg(n.Subject(note.Kind))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, messageID(note))

	if err := n.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", note.Kind, err)
	}

	n.logger.WithFields(logrus.Fields{
		"subject":         msg.Subject,
		"subscription_id": note.SubscriptionID,
	}).Debug("Published notification")
	return nil
}

func messageID(note billing.Notification) string {
	return fmt.Sprintf("%s-%d-%s", note.Kind, note.SubscriptionID, note.CreatedAt.UTC().Format("20060102"))
}
