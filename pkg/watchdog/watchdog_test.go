package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/health"
	"github.com/stretchr/testify/assert"
)

type fakeChecker struct{ result health.Result }

func (f fakeChecker) Check(ctx context.Context) health.Result { return f.result }
func (f fakeChecker) Type() health.CheckType                  { return health.CheckTypeExec }

func TestSubscriptionAliveReflectsUnderlyingState(t *testing.T) {
	sub := controller.NewFakeSubscription()
	wd := New(sub, nil, fakeChecker{health.Result{Healthy: true}})
	assert.True(t, wd.SubscriptionAlive())

	sub.SetAlive(false)
	assert.False(t, wd.SubscriptionAlive())
}

func TestDBReachableUsesInjectedChecker(t *testing.T) {
	sub := controller.NewFakeSubscription()
	wd := New(sub, nil, fakeChecker{health.Result{Healthy: false, Message: "timeout", CheckedAt: time.Now()}})
	assert.Error(t, wd.DBReachable(context.Background()))
}

func TestPendingAckWorkers(t *testing.T) {
	tracking := map[string]bool{"w0": false, "w1": true, "w2": true}
	pending := PendingAckWorkers(tracking)
	assert.ElementsMatch(t, []string{"w1", "w2"}, pending)
}
