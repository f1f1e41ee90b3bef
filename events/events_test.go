package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"sarkari-pulse/config"
	"sarkari-pulse/logger"
	"sarkari-pulse/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func sampleReport() *models.RunReport {
	return &models.RunReport{
		RunID:        "run-42",
		State:        models.RunDone,
		FoundCount:   120,
		SavedCount:   30,
		UpdatedCount: 88,
		ErrorCount:   2,
		PagesFetched: 6,
		StartedAt:    at.Add(-time.Minute),
		FinishedAt:   at,
	}
}

func TestEnvelopeJSON(t *testing.T) {
	data, err := json.Marshal(Started("run-42", []string{"myscheme-api/paginate"}, at))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run.started", got["type"])
	assert.Equal(t, "run-42", got["runId"])
	assert.Equal(t, "2026-04-01T12:00:00Z", got["time"])
	assert.Equal(t, map[string]any{"strategies": []any{"myscheme-api/paginate"}}, got["data"])

	completed := Completed(sampleReport(), at)
	assert.Equal(t, RunCompleted, completed.Type)
	assert.Equal(t, "run-42", completed.RunID)
}

func TestBroker(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	require.NoError(t, b.Publish(context.Background(), Started("r1", nil, at)))
	assert.Equal(t, "r1", (<-ch1).RunID)
	assert.Equal(t, "r1", (<-ch2).RunID)

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())

	// A full subscriber does not block publishing
	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, b.Publish(context.Background(), Started("flood", nil, at)))
	}
	assert.Len(t, ch2, subscriberBuffer)

	require.NoError(t, b.Close())
	cancel2()
	ch3, _ := b.Subscribe()
	_, open = <-ch3
	assert.False(t, open)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }
func (f failingPublisher) Close() error                         { return nil }

func TestMulti(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe()
	defer cancel()

	boom := errors.New("boom")
	m := Multi{failingPublisher{err: boom}, b}
	err := m.Publish(context.Background(), Started("r2", nil, at))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	// The broker still got the event after the first publisher failed
	assert.Equal(t, "r2", (<-ch).RunID)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger.SetupWriter(&buf, "info", "json")

	p := NewLogPublisher()
	require.NoError(t, p.Publish(context.Background(), Completed(sampleReport(), at)))
	require.NoError(t, p.Publish(context.Background(), Progress("run-42", ProgressData{
		Strategy: models.StrategyReport{Name: "myscheme-api/paginate", PagesFetched: 3},
	}, at)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "run.completed", first["type"])
	assert.Equal(t, float64(120), first["found"])
	assert.Equal(t, "events", first["component"])
	assert.Contains(t, lines[1], "myscheme-api/paginate")
}

type fakeRedis struct {
	channel string
	payload []byte
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisPublisher(t *testing.T) {
	fake := &fakeRedis{}
	p := newRedisPublisher(fake, "scheme-runs")
	require.NoError(t, p.Publish(context.Background(), Completed(sampleReport(), at)))

	assert.Equal(t, "scheme-runs", fake.channel)
	var got Event
	require.NoError(t, json.Unmarshal(fake.payload, &got))
	assert.Equal(t, RunCompleted, got.Type)
	assert.Equal(t, "run-42", got.RunID)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "scheme-runs")
	require.NoError(t, p.Publish(context.Background(), Started("run-7", []string{"a", "b"}, at)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "run-7", string(w.msgs[0].Key))
	assert.Equal(t, "run.started", string(w.msgs[0].Headers[0].Value))
	assert.Contains(t, string(w.msgs[0].Value), `"strategies":["a","b"]`)

	w.err = errors.New("broker down")
	assert.Error(t, p.Publish(context.Background(), Started("run-8", nil, at)))
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramPublisher(t *testing.T) {
	bot := &fakeBot{}
	p := newTelegramPublisher(bot, 1001)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, Started("run-42", []string{"x"}, at)))
	require.NoError(t, p.Publish(ctx, Progress("run-42", ProgressData{}, at)))
	require.NoError(t, p.Publish(ctx, Completed(sampleReport(), at)))

	require.Len(t, bot.sent, 2)
	assert.Equal(t, int64(1001), bot.sent[0].ChatID)
	assert.Equal(t, "HTML", bot.sent[0].ParseMode)
	assert.Contains(t, bot.sent[0].Text, "started with 1 strategies")
	assert.Contains(t, bot.sent[1].Text, "Found: 120")
	assert.Contains(t, bot.sent[1].Text, "Updated: 88")
}

func TestFromConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Broadcast.Transports = []string{"log", "kafka"}

	b := NewBroker()
	p, err := FromConfig(cfg, b)
	require.NoError(t, err)
	m, ok := p.(Multi)
	require.True(t, ok)
	assert.Len(t, m, 3)

	// Closing the publisher leaves the caller's broker usable
	require.NoError(t, p.Close())
	ch, cancel := b.Subscribe()
	defer cancel()
	require.NoError(t, b.Publish(context.Background(), Started("r", nil, at)))
	assert.Equal(t, "r", (<-ch).RunID)

	cfg.Broadcast.Transports = []string{"telegram"}
	_, err = FromConfig(cfg, nil)
	assert.True(t, errors.Is(err, ErrTelegramNotConfigured))

	cfg.Broadcast.Transports = []string{"pigeon"}
	_, err = FromConfig(cfg, nil)
	assert.True(t, errors.Is(err, config.ErrInvalidTransport))
}
