package engine

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"evalgo.org/fastvm/internal/telemetry"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// SubscribeMetrics pushes every frame to conn until the peer leaves or is
// dropped for falling behind. It blocks for the life of the connection.
func (e *Engine) SubscribeMetrics(ctx context.Context, conn *websocket.Conn) {
	e.pipeline.Hub().Serve(ctx, conn)
}

// History is a one-shot read of the host ring and every VM ring.
func (e *Engine) History() models.MetricsHistory {
	return e.pipeline.History()
}

// VMHistory returns the ring of one VM.
func (e *Engine) VMHistory(vmID string) ([]models.MetricSample, error) {
	if _, err := e.reg.Get(vmID); err != nil {
		return nil, err
	}
	return e.pipeline.VMHistory(vmID), nil
}

// ExtendedHistory returns persisted samples newer than since, optionally
// for a single VM.
func (e *Engine) ExtendedHistory(since time.Time, vmID string) (models.MetricsHistory, error) {
	h, err := e.pipeline.Extended(since, vmID)
	if err != nil {
		return h, vmerr.Wrap(vmerr.KindInternal, err, "read metrics history")
	}
	return h, nil
}

// CurrentHost reads host utilisation and capacity now.
func (e *Engine) CurrentHost(ctx context.Context) (models.HostSnapshot, error) {
	snap, err := e.pipeline.CurrentHost(ctx)
	if err != nil {
		return snap, vmerr.Wrap(vmerr.KindInternal, err, "read host metrics")
	}
	return snap, nil
}

// CurrentVM returns the latest sample of a running VM.
func (e *Engine) CurrentVM(ctx context.Context, vmID string) (models.MetricSample, error) {
	vm, err := e.reg.Get(vmID)
	if err != nil {
		return models.MetricSample{}, err
	}
	if !vm.IsRunning() {
		return models.MetricSample{}, vmerr.Conflict("vm %s is not running", vmID)
	}
	sample, err := e.pipeline.CurrentVM(ctx, vm)
	if errors.Is(err, telemetry.ErrProcessGone) {
		return sample, vmerr.Conflict("vm %s is not running", vmID)
	}
	if err != nil {
		return sample, vmerr.Wrap(vmerr.KindInternal, err, "sample vm %s", vmID)
	}
	return sample, nil
}
