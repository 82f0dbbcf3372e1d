package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
)

func noop(name string) pipeline.Stage {
	return pipeline.Stage{Name: name, Run: func(context.Context, domain.State) pipeline.Result {
		return pipeline.Succeeded(domain.StateUpdate{})
	}}
}

func TestNewGraphGroupsByDepth(t *testing.T) {
	g, err := pipeline.NewGraph(
		[]pipeline.Stage{noop("d"), noop("a"), noop("c"), noop("b"), noop("e")},
		[]pipeline.Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
			{From: "c", To: "d"},
			{From: "a", To: "e"},
			{From: "d", To: "e"},
			{From: "a", To: "b"},
		},
	)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}, {"e"}}, g.Groups())
}

func TestNewGraphRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		stages []pipeline.Stage
		edges  []pipeline.Edge
	}{
		{name: "empty"},
		{name: "duplicate", stages: []pipeline.Stage{noop("a"), noop("a")}},
		{name: "blank name", stages: []pipeline.Stage{noop(" ")}},
		{name: "no run", stages: []pipeline.Stage{{Name: "a"}}},
		{name: "unknown from", stages: []pipeline.Stage{noop("a")}, edges: []pipeline.Edge{{From: "x", To: "a"}}},
		{name: "unknown to", stages: []pipeline.Stage{noop("a")}, edges: []pipeline.Edge{{From: "a", To: "x"}}},
		{name: "self loop", stages: []pipeline.Stage{noop("a")}, edges: []pipeline.Edge{{From: "a", To: "a"}}},
		{
			name:   "cycle",
			stages: []pipeline.Stage{noop("a"), noop("b"), noop("c")},
			edges:  []pipeline.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.NewGraph(tt.stages, tt.edges)
			require.ErrorIs(t, err, pipeline.ErrInvalidGraph)
		})
	}
}
