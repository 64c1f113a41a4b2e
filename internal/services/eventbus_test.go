package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestEventBusPublishOrderAndErrors(t *testing.T) {
	bus := NewEventBus(zap.NewNop())

	var calls []string
	bad := errors.New("boom")
	bus.Subscribe(EventRoundStart, func(context.Context) error {
		calls = append(calls, "first")
		return bad
	})
	bus.Subscribe(EventRoundStart, func(context.Context) error {
		calls = append(calls, "second")
		return nil
	})
	bus.Subscribe(EventReady, func(context.Context) error {
		calls = append(calls, "ready")
		return nil
	})

	err := bus.Publish(context.Background(), EventRoundStart)
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, []string{"first", "second"}, calls)

	assert.NoError(t, bus.Publish(context.Background(), "unknown"))
}

func TestErrorCodes(t *testing.T) {
	err := wrapError(CodePersistenceFailure, "could not save", errDiskFull)
	assert.Equal(t, "could not save: disk full", err.Error())
	assert.Equal(t, "could not save", UserMessage(err))
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, "unexpected error", UserMessage(errors.New("plain")))
}
