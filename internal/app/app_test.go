package app

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/circuitbreaker"
	"github.com/lalithlochan/slotwise/internal/worker"
)

type failingSender struct{ calls int }

func (s *failingSender) Send(ctx context.Context, d *worker.Delivery) error {
	s.calls++
	return errors.New("smtp down")
}

func (s *failingSender) SupportsChannel(channel string) bool { return channel == worker.ChannelEmail }

func TestProtect_RegistersBreaker(t *testing.T) {
	a := &App{Logger: zap.NewNop()}
	inner := &failingSender{}
	s := a.protect("ses", inner)

	if len(a.Breakers) != 1 || a.Breakers[0].Name() != "ses" {
		t.Fatalf("expected one breaker named ses, got %d", len(a.Breakers))
	}
	if !s.SupportsChannel(worker.ChannelEmail) {
		t.Error("protected sender should keep the inner channel")
	}

	limit := circuitbreaker.DefaultConfig("ses").MaxFailures
	for i := 0; i < limit+2; i++ {
		_ = s.Send(context.Background(), &worker.Delivery{Channel: worker.ChannelEmail})
	}
	if inner.calls != limit {
		t.Errorf("expected the breaker to stop calls after %d failures, got %d", limit, inner.calls)
	}
	if a.Breakers[0].GetState() != circuitbreaker.StateOpen {
		t.Errorf("expected open breaker, got %s", a.Breakers[0].GetState())
	}
}

func TestClose_ReverseOrder(t *testing.T) {
	var order []int
	a := &App{}
	for i := 1; i <= 3; i++ {
		i := i
		a.closers = append(a.closers, func() { order = append(order, i) })
	}

	a.Close()
	a.Close()

	if !reflect.DeepEqual(order, []int{3, 2, 1}) {
		t.Errorf("expected reverse close order once, got %v", order)
	}
}
