package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/evdispatch/internal/units"
)

func TestPeakConcurrency(t *testing.T) {
	tests := []struct {
		name   string
		events []DepotEvent
		want   map[units.DepotID]int
	}{
		{
			name: "three departures before the first return",
			events: []DepotEvent{
				{Time: 0, Depot: 1, Delta: +1},
				{Time: 5, Depot: 1, Delta: +1},
				{Time: 8, Depot: 1, Delta: +1},
				{Time: 10, Depot: 1, Delta: -1},
			},
			want: map[units.DepotID]int{1: 3},
		},
		{
			name: "overlapping buses at one depot",
			events: []DepotEvent{
				{Time: 0, Depot: 1, Delta: +1},
				{Time: 10, Depot: 1, Delta: +1},
				{Time: 20, Depot: 1, Delta: +1},
				{Time: 30, Depot: 1, Delta: -1},
				{Time: 40, Depot: 1, Delta: +1},
				{Time: 50, Depot: 1, Delta: -1},
				{Time: 60, Depot: 1, Delta: -1},
				{Time: 70, Depot: 1, Delta: -1},
			},
			want: map[units.DepotID]int{1: 3},
		},
		{
			name: "return and departure at the same instant share a bus",
			events: []DepotEvent{
				{Time: 0, Depot: 1, Delta: +1},
				{Time: 100, Depot: 1, Delta: +1},
				{Time: 100, Depot: 1, Delta: -1},
				{Time: 200, Depot: 1, Delta: -1},
			},
			want: map[units.DepotID]int{1: 1},
		},
		{
			name: "depots are counted separately",
			events: []DepotEvent{
				{Time: 0, Depot: 1, Delta: +1},
				{Time: 5, Depot: 2, Delta: +1},
				{Time: 6, Depot: 2, Delta: +1},
				{Time: 10, Depot: 1, Delta: -1},
				{Time: 20, Depot: 2, Delta: -1},
				{Time: 30, Depot: 2, Delta: -1},
			},
			want: map[units.DepotID]int{1: 1, 2: 2},
		},
		{
			name: "depot with only returns is present with zero",
			events: []DepotEvent{
				{Time: 0, Depot: 3, Delta: -1},
			},
			want: map[units.DepotID]int{3: 0},
		},
		{
			name:   "no events",
			events: nil,
			want:   map[units.DepotID]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeakConcurrency(tt.events))
		})
	}
}

func TestPeakConcurrencyDoesNotReorderInput(t *testing.T) {
	events := []DepotEvent{
		{Time: 10, Depot: 1, Delta: -1},
		{Time: 0, Depot: 1, Delta: +1},
	}
	PeakConcurrency(events)
	assert.Equal(t, units.Seconds(10), events[0].Time)
}

func TestDepotEvents(t *testing.T) {
	out, err := Simulate(twoTripBlock(), testStops(), testParams(6), nil)
	require.NoError(t, err)

	events := DepotEvents(out)
	require.Len(t, events, 4)
	assert.Equal(t, DepotEvent{Time: 0, Depot: testDepot, Delta: +1}, events[0])
	assert.Equal(t, DepotEvent{Time: 1144, Depot: testDepot, Delta: -1}, events[1])
	assert.Equal(t, DepotEvent{Time: 1200, Depot: testDepot, Delta: +1}, events[2])
	assert.Equal(t, -1, events[3].Delta)

	// Only one bus is ever out: the first is back before the second leaves.
	assert.Equal(t, map[units.DepotID]int{testDepot: 1}, CountBuses(out))
}

func TestCountBusesOverlappingBlocks(t *testing.T) {
	trips := []Trip{
		newTrip("a1", 1, 1, 2, 0, 1000, 2),
		newTrip("b1", 2, 3, 4, 500, 1500, 2),
		newTrip("c1", 3, 1, 3, 5000, 6000, 2),
	}
	out, err := Simulate(trips, testStops(), testParams(10), nil)
	require.NoError(t, err)
	assert.Equal(t, map[units.DepotID]int{testDepot: 2}, CountBuses(out))
}
