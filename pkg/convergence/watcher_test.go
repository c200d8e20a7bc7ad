package convergence

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/model"
)

// tablePlane answers Routes from a script; every other ControlPlane method is unused here.
type tablePlane struct {
	cloud.ControlPlane

	mu     sync.Mutex
	reads  int
	script func(read int) ([]cloud.Route, error)
}

func (p *tablePlane) Routes(_ context.Context, _ string) ([]cloud.Route, error) {
	p.mu.Lock()
	p.reads++
	n := p.reads
	p.mu.Unlock()
	return p.script(n)
}

const tick = time.Millisecond

var target = RouteTarget{
	Region:       "eu-west-1",
	RouteTableID: "rtb-0001",
	Destination:  "10.1.0.0/16",
	PeeringID:    "pcx-0001",
}

func route(state string) []cloud.Route {
	return []cloud.Route{
		{Destination: cloud.DefaultRouteCIDR, GatewayID: "igw-0001", State: cloud.RouteStateActive},
		{Destination: target.Destination, PeeringID: target.PeeringID, State: state},
	}
}

func TestWatch_ActiveOnFourthAttempt(t *testing.T) {
	t.Parallel()

	p := &tablePlane{script: func(n int) ([]cloud.Route, error) {
		if n < 4 {
			return route("pending"), nil
		}
		return route(cloud.RouteStateActive), nil
	}}
	rec := &events.Recorder{}
	w := New(10, tick, zerolog.Nop(), rec)

	res := w.Watch(context.Background(), p, target)
	if !res.Converged || res.Attempts != 4 || res.State != model.RouteActive {
		t.Fatalf("res=%+v", res)
	}
	if p.reads != 4 {
		t.Fatalf("reads=%d", p.reads)
	}
	if rec.Count(events.RouteConverged) != 1 {
		t.Fatalf("events=%v", rec.Events())
	}
}

func TestWatch_NeverActiveStopsAtBudget(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &tablePlane{script: func(int) ([]cloud.Route, error) { return route("pending"), nil }}
	rec := &events.Recorder{}
	w := New(10, tick, zerolog.New(&buf), rec)

	res := w.Watch(context.Background(), p, target)
	if res.Converged || res.Attempts != 10 || p.reads != 10 {
		t.Fatalf("res=%+v reads=%d", res, p.reads)
	}
	if res.State != model.RoutePropagating {
		t.Fatalf("state=%s", res.State)
	}
	if !strings.Contains(buf.String(), `"severity":"critical"`) {
		t.Fatalf("missing critical log: %s", buf.String())
	}
	if rec.Count(events.RouteUnconverged) != 1 {
		t.Fatalf("events=%v", rec.Events())
	}
}

func TestWatch_MissingRouteConsumesAttempts(t *testing.T) {
	t.Parallel()

	p := &tablePlane{script: func(int) ([]cloud.Route, error) { return nil, nil }}
	res := New(3, tick, zerolog.Nop(), nil).Watch(context.Background(), p, target)
	if res.Converged || res.Attempts != 3 {
		t.Fatalf("res=%+v", res)
	}
}

func TestWatch_ReadErrorsCountAgainstBudget(t *testing.T) {
	t.Parallel()

	boom := errors.New("throttled")
	p := &tablePlane{script: func(n int) ([]cloud.Route, error) {
		if n <= 2 {
			return nil, boom
		}
		return route(cloud.RouteStateActive), nil
	}}
	res := New(10, tick, zerolog.Nop(), nil).Watch(context.Background(), p, target)
	if !res.Converged || res.Attempts != 3 || res.Err != nil {
		t.Fatalf("res=%+v", res)
	}
}

func TestWatch_PersistentReadErrorReported(t *testing.T) {
	t.Parallel()

	boom := errors.New("throttled")
	p := &tablePlane{script: func(int) ([]cloud.Route, error) { return nil, boom }}
	res := New(4, tick, zerolog.Nop(), nil).Watch(context.Background(), p, target)
	if res.Converged || res.Attempts != 4 || !errors.Is(res.Err, boom) || res.State != model.RouteUnknown {
		t.Fatalf("res=%+v", res)
	}
}

func TestWatch_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := &tablePlane{script: func(n int) ([]cloud.Route, error) {
		if n == 2 {
			cancel()
		}
		return route("pending"), nil
	}}
	res := New(10, tick, zerolog.Nop(), nil).Watch(ctx, p, target)
	if res.Converged || !errors.Is(res.Err, context.Canceled) || res.Attempts >= 10 {
		t.Fatalf("res=%+v", res)
	}
}

func TestWatch_IgnoresOtherPeering(t *testing.T) {
	t.Parallel()

	p := &tablePlane{script: func(int) ([]cloud.Route, error) {
		return []cloud.Route{{Destination: target.Destination, PeeringID: "pcx-9999", State: cloud.RouteStateActive}}, nil
	}}
	res := New(2, tick, zerolog.Nop(), nil).Watch(context.Background(), p, target)
	if res.Converged {
		t.Fatalf("matched a route of another peering: %+v", res)
	}
}

func TestWatch_RetriesLoggedAtWarn(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &tablePlane{script: func(n int) ([]cloud.Route, error) {
		switch n {
		case 1:
			return nil, nil
		case 2:
			return route("pending"), nil
		}
		return route(cloud.RouteStateActive), nil
	}}
	res := New(5, tick, zerolog.New(&buf).Level(zerolog.WarnLevel), nil).Watch(context.Background(), p, target)
	if !res.Converged || res.Attempts != 3 {
		t.Fatalf("res=%+v", res)
	}
	if n := strings.Count(buf.String(), `"message":"route still propagating"`); n != 2 {
		t.Fatalf("propagating warnings=%d log=%s", n, buf.String())
	}
	if strings.Count(buf.String(), `"level":"warn"`) != 2 {
		t.Fatalf("log=%s", buf.String())
	}
}

func TestWatch_ZeroBudgetUsesDefaults(t *testing.T) {
	t.Parallel()

	w := &Watcher{}
	attempts, delay := w.budget()
	if attempts != DefaultAttempts || delay != DefaultDelay {
		t.Fatalf("attempts=%d delay=%v", attempts, delay)
	}
	attempts, delay = New(-1, -time.Second, zerolog.Nop(), nil).budget()
	if attempts != DefaultAttempts || delay != DefaultDelay {
		t.Fatalf("attempts=%d delay=%v", attempts, delay)
	}
	attempts, delay = New(4, tick, zerolog.Nop(), nil).budget()
	if attempts != 4 || delay != tick {
		t.Fatalf("attempts=%d delay=%v", attempts, delay)
	}
}

func TestResult_Record(t *testing.T) {
	t.Parallel()

	r := Result{Converged: true, Attempts: 2, State: model.RouteActive}.Record(target)
	if r.RouteTableID != target.RouteTableID || r.Destination != target.Destination || r.Attempts != 2 || !r.Converged() {
		t.Fatalf("record=%+v", r)
	}
}
