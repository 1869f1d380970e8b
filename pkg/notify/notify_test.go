// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/events"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Kafka: KafkaConfig{RequiredAcks: 7}}
	cfg.Validate()

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "beegate", cfg.Redis.Channel)
	assert.Equal(t, "beegate-events", cfg.Kafka.Topic)
	assert.Equal(t, 1, cfg.Kafka.RequiredAcks)
	assert.Equal(t, "snappy", cfg.Kafka.Compression)
	assert.Equal(t, 10*time.Second, cfg.Kafka.WriteTimeout)
	assert.False(t, cfg.HasPublishers())
}

func TestKafkaMappings(t *testing.T) {
	t.Parallel()

	codecs := map[string]sarama.CompressionCodec{
		"gzip":    sarama.CompressionGZIP,
		"snappy":  sarama.CompressionSnappy,
		"lz4":     sarama.CompressionLZ4,
		"zstd":    sarama.CompressionZSTD,
		"none":    sarama.CompressionNone,
		"":        sarama.CompressionNone,
		"unknown": sarama.CompressionSnappy,
	}
	for name, want := range codecs {
		assert.Equal(t, want, compressionCodec(name), name)
	}

	assert.Equal(t, sarama.NoResponse, requiredAcks(0))
	assert.Equal(t, sarama.WaitForLocal, requiredAcks(1))
	assert.Equal(t, sarama.WaitForAll, requiredAcks(-1))
	assert.Equal(t, sarama.WaitForLocal, requiredAcks(99))

	cfg := saramaConfig(KafkaConfig{SASLEnabled: true, SASLMechanism: "SCRAM-SHA-512"})
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), cfg.Net.SASL.Mechanism)
	assert.NotNil(t, cfg.Net.SASL.SCRAMClientGeneratorFunc())
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	t.Parallel()
	_, err := NewKafkaPublisher(KafkaConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one Kafka broker is required")
}

func TestKafkaPublisherPublish(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"ok":true}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	pub := NewKafkaPublisherFromProducer(producer, "")

	require.NoError(t, pub.Publish(context.Background(), TopicPins, "pin-1", []byte(`{"ok":true}`)))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisherPublishError(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))
	pub := NewKafkaPublisherFromProducer(producer, "beegate-events")

	err := pub.Publish(context.Background(), TopicPins, "pin-1", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}

func TestNewRedisPublisherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRedisPublisher(RedisConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis address is required")

	_, err = NewRedisPublisher(RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNotifierPinFinishedOverRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	pub, err := NewRedisPublisher(RedisConfig{Addr: mr.Addr(), Channel: "bg"})
	require.NoError(t, err)

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(context.Background(), pub.ChannelFor(TopicPins))
	defer ps.Close()
	_, err = ps.Receive(context.Background())
	require.NoError(t, err)

	n := New(pub)
	defer n.Close()

	ref := types.AddressOf([]byte("root"))
	n.PinFinished(context.Background(), &types.Pin{
		ID:          "pin-1",
		Reference:   ref,
		State:       types.PinSucceeded,
		PinnedCount: 3,
		Missing:     []types.Address{types.AddressOf([]byte("gone"))},
		Attempts:    1,
	})

	msg, err := ps.ReceiveMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bg:pins", msg.Channel)

	var out PinOutcome
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &out))
	assert.Equal(t, "pin-1", out.PinID)
	assert.Equal(t, ref.String(), out.Reference)
	assert.Equal(t, types.PinSucceeded, out.State)
	assert.EqualValues(t, 3, out.PinnedCount)
	assert.Equal(t, 1, out.MissingCount)
}

type recordingPublisher struct {
	name   string
	err    error
	topics []string
}

func (r *recordingPublisher) Name() string { return r.name }
func (r *recordingPublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	r.topics = append(r.topics, topic)
	return r.err
}
func (r *recordingPublisher) Close() error { return nil }

func TestNotifierContinuesAfterPublisherFailure(t *testing.T) {
	t.Parallel()

	bad := &recordingPublisher{name: "bad", err: errors.New("down")}
	good := &recordingPublisher{name: "good"}
	n := New(bad, good)

	err := n.HandleNodeEvent(context.Background(), events.NodeEvent{
		Kind: events.NodeCreated,
		Node: types.NodeRecord{ID: "n1", Endpoint: "http://bee:1633"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{TopicNodes}, bad.topics)
	assert.Equal(t, []string{TopicNodes}, good.topics)
}

func TestNilNotifierIsNoop(t *testing.T) {
	t.Parallel()

	var n *Notifier
	assert.False(t, n.Enabled())
	n.PinFinished(context.Background(), &types.Pin{ID: "x"})
	assert.NoError(t, n.Close())
}
