package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seckill/pkg/rediskey"
)

type fakePublisher struct {
	published []OrderIntent
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, intent OrderIntent) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, intent)
	return nil
}

func newTestRelay(t *testing.T, pub IntentPublisher) (*rd.Client, *Relay) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, NewRelay(rdb, pub, "seckill-relay-group", "relay-1", zerolog.Nop())
}

func addIntent(t *testing.T, rdb *rd.Client, orderID, userID, voucherID string) {
	t.Helper()
	require.NoError(t, rdb.XAdd(context.Background(), &rd.XAddArgs{
		Stream: rediskey.OrderIntentStream,
		Values: map[string]interface{}{
			"order_id":   orderID,
			"user_id":    userID,
			"voucher_id": voucherID,
		},
	}).Err())
}

func TestRelayPublishThenAck(t *testing.T) {
	pub := &fakePublisher{}
	rdb, relay := newTestRelay(t, pub)
	ctx := context.Background()

	addIntent(t, rdb, "1001", "1", "7")
	require.NoError(t, relay.ensureGroup(ctx))

	msgs, err := relay.readGroup(ctx, ">", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, relay.processOne(ctx, msgs[0]))
	require.Len(t, pub.published, 1)
	assert.Equal(t, uint64(1001), pub.published[0].OrderID)
	assert.Equal(t, int64(1), pub.published[0].UserID)
	assert.Equal(t, uint64(7), pub.published[0].VoucherID)

	// 发布成功后消息被 ACK 并删除
	length, err := rdb.XLen(ctx, rediskey.OrderIntentStream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestRelayKeepsMessageOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	rdb, relay := newTestRelay(t, pub)
	ctx := context.Background()

	addIntent(t, rdb, "1001", "1", "7")
	require.NoError(t, relay.ensureGroup(ctx))

	msgs, err := relay.readGroup(ctx, ">", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// 发布失败：不 ACK，消息保留等待重试
	require.Error(t, relay.processOne(ctx, msgs[0]))
	length, err := rdb.XLen(ctx, rediskey.OrderIntentStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestRelayDropsMalformedMessage(t *testing.T) {
	pub := &fakePublisher{}
	rdb, relay := newTestRelay(t, pub)
	ctx := context.Background()

	addIntent(t, rdb, "not-a-number", "1", "7")
	require.NoError(t, relay.ensureGroup(ctx))

	msgs, err := relay.readGroup(ctx, ">", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// 脏消息直接 ACK 丢弃，不投递下游
	require.NoError(t, relay.processOne(ctx, msgs[0]))
	assert.Empty(t, pub.published)

	length, err := rdb.XLen(ctx, rediskey.OrderIntentStream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestOrderIntentValidate(t *testing.T) {
	valid := OrderIntent{OrderID: 1, UserID: 1, VoucherID: 1}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		intent OrderIntent
	}{
		{"missing order id", OrderIntent{UserID: 1, VoucherID: 1}},
		{"missing user id", OrderIntent{OrderID: 1, VoucherID: 1}},
		{"missing voucher id", OrderIntent{OrderID: 1, UserID: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.intent.Validate())
		})
	}
}
