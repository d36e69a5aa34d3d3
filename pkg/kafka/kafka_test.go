package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/resilience"
)

func TestEncodeCarriesRequestID(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-7")
	msgs, err := encode(ctx, []Event{{Key: "f1", Value: map[string]int{"n": 1}}})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("f1"), msgs[0].Key)
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Value))
	assert.Equal(t, "req-7", headerValue(msgs[0].Headers, requestIDHeader))

	msgs, err = encode(context.Background(), []Event{{Key: "f1", Value: 1}})
	require.NoError(t, err)
	assert.Empty(t, msgs[0].Headers)
}

func TestEncodeRejectsWholeBatch(t *testing.T) {
	_, err := encode(context.Background(), []Event{{Key: "ok", Value: 1}, {Key: "bad", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestDecodeJSONPoison(t *testing.T) {
	_, err := DecodeJSON[struct{ A int }]([]byte("{nope"))
	assert.ErrorIs(t, err, ErrPoison)

	v, err := DecodeJSON[struct{ A int }]([]byte(`{"A":3}`))
	require.NoError(t, err)
	assert.Equal(t, 3, v.A)
}

func TestProcessClassifiesErrors(t *testing.T) {
	msg := kafka.Message{
		Key:     []byte("f1"),
		Value:   []byte("{}"),
		Headers: []kafka.Header{{Key: requestIDHeader, Value: []byte("req-9")}},
	}
	transient := errors.New("store unavailable")

	var seenID string
	calls := 0
	c := &Consumer{
		retry:  resilience.RetryConfig{MaxAttempts: 2, InitialDelay: 1},
		logger: logger.FromContext(context.Background()),
	}

	c.handler = func(ctx context.Context, key, value []byte) error {
		seenID = logger.RequestID(ctx)
		return nil
	}
	require.NoError(t, c.process(context.Background(), msg))
	assert.Equal(t, "req-9", seenID)

	c.handler = func(context.Context, []byte, []byte) error {
		calls++
		return ErrPoison
	}
	assert.NoError(t, c.process(context.Background(), msg), "poison is committed")
	assert.Equal(t, 1, calls)

	calls = 0
	c.handler = func(context.Context, []byte, []byte) error {
		calls++
		return transient
	}
	err := c.process(context.Background(), msg)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 2, calls)
}
