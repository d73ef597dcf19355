package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rebill/pkg/billing"
)

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (p *fakePublisher) PublishMsg(msg *nats.Msg) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestNATSNotifier_Subject(t *testing.T) {
	assert.Equal(t, "rebill.notifications.payment_failed",
		NewNATSNotifier(&fakePublisher{}, "", quietLogger()).Subject(billing.NotifyPaymentFailed))
	assert.Equal(t, "billing.events.final_notice",
		NewNATSNotifier(&fakePublisher{}, "billing.events", quietLogger()).Subject(billing.NotifyFinalNotice))
}

func TestNATSNotifier_Notify(t *testing.T) {
	pub := &fakePublisher{}
	notifier := NewNATSNotifier(pub, "", quietLogger())

	require.NoError(t, notifier.Notify(context.Background(), finalNotice()))
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, "rebill.notifications.final_notice", msg.Subject)
	assert.Equal(t, "final_notice-42-20250315", msg.Header.Get(nats.MsgIdHdr))

	var got billing.Notification
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, finalNotice(), got)
}

func TestNATSNotifier_PublishError(t *testing.T) {
	pub := &fakePublisher{err: nats.ErrConnectionClosed}
	notifier := NewNATSNotifier(pub, "", quietLogger())

	err := notifier.Notify(context.Background(), finalNotice())
	require.Error(t, err)
	assert.True(t, errors.Is(err, nats.ErrConnectionClosed))
	assert.Contains(t, err.Error(), "final_notice")
}

func TestNATSNotifier_CancelledContext(t *testing.T) {
	pub := &fakePublisher{}
	notifier := NewNATSNotifier(pub, "", quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, notifier.Notify(ctx, finalNotice()), context.Canceled)
	assert.Empty(t, pub.msgs)
}

func TestConnectNATS_Unreachable(t *testing.T) {
	conn, err := ConnectNATS("nats://127.0.0.1:1", "rebill-test", quietLogger())
	assert.Error(t, err)
	assert.Nil(t, conn)
}
