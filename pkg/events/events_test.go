package events

import (
	"testing"

	"vpc-mesh/pkg/model"
)

func TestWithRunStampsEvents(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	obs := WithRun("run-1", rec)
	obs.Observe(Event{Kind: RunStarted})
	got := rec.Events()
	if len(got) != 1 || got[0].RunID != "run-1" || got[0].Time.IsZero() {
		t.Fatalf("events=%+v", got)
	}
}

func TestMultiSkipsNil(t *testing.T) {
	t.Parallel()

	a, b := &Recorder{}, &Recorder{}
	Multi(a, nil, b).Observe(Event{Kind: EdgeLinked})
	if a.Count(EdgeLinked) != 1 || b.Count(EdgeLinked) != 1 {
		t.Fatalf("a=%d b=%d", a.Count(EdgeLinked), b.Count(EdgeLinked))
	}
}

func TestTarget(t *testing.T) {
	t.Parallel()

	e := model.NewEdge(3, 1)
	cases := []struct {
		ev   Event
		want string
	}{
		{Event{Edge: &e, Network: "vpc-1", Region: "eu-west-1"}, "(1,3)"},
		{Event{Network: "vpc-1", Region: "eu-west-1"}, "vpc-1"},
		{Event{Region: "eu-west-1"}, "eu-west-1"},
	}
	for _, c := range cases {
		if got := c.ev.Target(); got != c.want {
			t.Fatalf("Target()=%q want %q", got, c.want)
		}
	}
}
