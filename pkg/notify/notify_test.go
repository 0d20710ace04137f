package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

type fakePublisher struct {
	channels []string
	messages [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	if b, ok := message.([]byte); ok {
		f.messages = append(f.messages, b)
	}
	return redis.NewIntResult(1, f.err)
}

func transition() submission.Transition {
	return submission.Transition{
		Key:  submission.Key{RecordID: 1, Category: "revenue"},
		From: submission.PhasePending,
		State: submission.State{
			Phase:        submission.PhaseSucceeded,
			SubmissionID: "sub-1",
			TxHandle:     "0xabc",
			UpdatedAt:    time.UnixMilli(1700000000000),
		},
	}
}

func TestRedisPublisher_Publishes(t *testing.T) {
	fp := &fakePublisher{}
	p := NewRedisPublisher(fp)

	require.NoError(t, p.OnTransition(context.Background(), transition()))
	require.Len(t, fp.messages, 1)
	assert.Equal(t, DefaultChannel, fp.channels[0])

	e, err := Decode(string(fp.messages[0]))
	require.NoError(t, err)
	assert.Equal(t, Event{
		SubmissionID: "sub-1",
		RecordID:     1,
		Category:     "revenue",
		From:         "PENDING",
		Phase:        "SUCCEEDED",
		TxHandle:     "0xabc",
		At:           1700000000000,
	}, e)
}

func TestRedisPublisher_Channel(t *testing.T) {
	fp := &fakePublisher{}
	p := NewRedisPublisher(fp).WithChannel("other")
	require.NoError(t, p.OnTransition(context.Background(), transition()))
	assert.Equal(t, []string{"other"}, fp.channels)
}

func TestRedisPublisher_Error(t *testing.T) {
	fp := &fakePublisher{err: errors.New("redis down")}
	err := NewRedisPublisher(fp).OnTransition(context.Background(), transition())
	assert.ErrorContains(t, err, "redis down")
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("{")
	assert.Error(t, err)
}
