package dispatch

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

func newTestModel(t *testing.T, capacity units.KilowattHours, trips []Trip) *Model {
	t.Helper()
	m, err := NewModel(testParams(capacity), stopList(testStops()), trips)
	require.NoError(t, err)
	return m
}

func TestNewModelSortsTrips(t *testing.T) {
	trips := []Trip{
		newTrip("b2", 2, 3, 4, 900, 1000, 1),
		newTrip("a2", 1, 2, 1, 1200, 2200, 4),
		newTrip("b1", 2, 4, 3, 100, 800, 1),
		newTrip("a1", 1, 1, 2, 0, 1000, 4),
	}
	m := newTestModel(t, 10, trips)

	var ids []string
	for _, trip := range m.Trips() {
		ids = append(ids, trip.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "b1", "b2"}, ids)
	assert.Equal(t, "b2", trips[0].ID, "caller's slice is left alone")
	assert.Equal(t, 2, m.BlockCount())
	assert.Equal(t, []units.StopID{1, 2, 3, 4}, m.TripStops())
}

func TestNewModelRejectsDuplicateStops(t *testing.T) {
	stops := append(stopList(testStops()), Stop{ID: 1, DepotID: 5})
	_, err := NewModel(testParams(10), stops, twoTripBlock())
	require.Error(t, err)
	assert.Equal(t, errors.KindData, errors.KindOf(err))
}

func TestNewModelRejectsBadParams(t *testing.T) {
	_, err := NewModel(testParams(0), stopList(testStops()), twoTripBlock())
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestModelEvaluate(t *testing.T) {
	m := newTestModel(t, 6, twoTripBlock())

	res, err := m.Evaluate(nil, true)
	require.NoError(t, err)
	require.Len(t, res.Trips, 2)
	assert.Equal(t, map[units.DepotID]int{testDepot: 1}, res.BusesPerDepot)
	assert.Equal(t, 1, res.TotalBuses())

	p := m.Params()
	want := p.BusCost + p.BatteryCapacity.Cost(p.BatteryCostPerKWh) + p.DepotChargerCost
	assert.Equal(t, want, res.Cost)

	costOnly, err := m.Evaluate(nil, false)
	require.NoError(t, err)
	assert.Nil(t, costOnly.Trips)
	assert.Equal(t, res.Cost, costOnly.Cost)
}

func TestModelEvaluateWithPlacement(t *testing.T) {
	trips := twoTripBlock()
	trips[0].WaitTime = 72
	m := newTestModel(t, 6, trips)

	res, err := m.Evaluate(ChargerPlacement{2: true}, true)
	require.NoError(t, err)
	assert.Equal(t, res.Trips[0].BusID, res.Trips[1].BusID)
	assert.True(t, res.Placement.Equal(ChargerPlacement{2: true}))

	p := m.Params()
	assert.Equal(t, Cost(p, ChargerPlacement{2: true}, res.BusesPerDepot), res.Cost)
}

func TestModelUpdateParams(t *testing.T) {
	m := newTestModel(t, 10, twoTripBlock())

	before, err := m.Evaluate(nil, false)
	require.NoError(t, err)

	p := m.Params()
	p.BusCost *= 2
	require.NoError(t, m.UpdateParams(p))

	after, err := m.Evaluate(nil, false)
	require.NoError(t, err)
	assert.Equal(t, before.Cost+p.BusCost/2, after.Cost)

	bad := m.Params()
	bad.DepotChargerRate = 0
	err = m.UpdateParams(bad)
	require.Error(t, err)
	assert.Equal(t, p.BusCost, m.Params().BusCost, "rejected update leaves params unchanged")
}

func TestModelEvaluateParallel(t *testing.T) {
	trips := randomSchedule(rand.New(rand.NewSource(21)), 15)
	m := newTestModel(t, 20, trips)
	placement := ChargerPlacement{2: true}

	seq, err := m.Evaluate(placement, true)
	require.NoError(t, err)
	par, err := m.EvaluateParallel(context.Background(), placement, 3, true)
	require.NoError(t, err)

	assert.Equal(t, seq.Cost, par.Cost)
	assert.Equal(t, seq.BusesPerDepot, par.BusesPerDepot)
	assert.JSONEq(t, tripsJSON(t, seq.Trips), tripsJSON(t, par.Trips))
}

func TestModelEvaluateParallelCancelled(t *testing.T) {
	m := newTestModel(t, 20, randomSchedule(rand.New(rand.NewSource(2)), 4))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.EvaluateParallel(ctx, nil, 2, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModelResultClone(t *testing.T) {
	m := newTestModel(t, 6, twoTripBlock())
	res, err := m.Evaluate(ChargerPlacement{1: true}, true)
	require.NoError(t, err)

	cp := res.Clone()
	cp.Placement[3] = true
	cp.BusesPerDepot[testDepot] = 40
	cp.Trips[0].ID = "changed"

	assert.False(t, res.Placement[3])
	assert.Equal(t, 1, res.BusesPerDepot[testDepot])
	assert.Equal(t, "t1", res.Trips[0].ID)
}

func BenchmarkSimulate(b *testing.B) {
	trips := randomSchedule(rand.New(rand.NewSource(1)), 500)
	stops := testStops()
	params := testParams(60)
	placement := ChargerPlacement{2: true, 4: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Simulate(trips, stops, params, placement); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSimulateParallel(b *testing.B) {
	trips := randomSchedule(rand.New(rand.NewSource(1)), 500)
	stops := testStops()
	params := testParams(60)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := SimulateParallel(ctx, trips, stops, params, nil, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func TestDecodeLeavesMissingFieldsInvalid(t *testing.T) {
	var stop Stop
	require.NoError(t, json.Unmarshal([]byte(`{"stop_id":1,"depot_id":7}`), &stop))
	assert.Equal(t, units.StopID(1), stop.ID)
	assert.Equal(t, units.DepotID(7), stop.DepotID)
	assert.False(t, stop.DepotTime.IsValid())
	assert.False(t, stop.DepotDistance.IsValid())

	var trip Trip
	require.NoError(t, json.Unmarshal([]byte(`{"trip_id":"t1","end_arrival_time":60}`), &trip))
	assert.Equal(t, "t1", trip.ID)
	assert.Equal(t, units.Seconds(60), trip.EndArrivalTime)
	assert.False(t, trip.BlockID.Valid())
	assert.False(t, trip.StartStopID.Valid())
	assert.False(t, trip.EndStopID.Valid())
	assert.False(t, trip.StartArrivalTime.IsValid())
	assert.False(t, trip.Distance.IsValid())
	assert.False(t, trip.WaitTime.IsValid())
	assert.False(t, trip.BusID.Valid())
	assert.False(t, trip.EnergyLeft.IsValid())

	// Explicit zeros are values, not gaps.
	require.NoError(t, json.Unmarshal([]byte(`{"stop_id":0,"depot_id":0,"depot_time":0,"depot_distance":0}`), &stop))
	assert.True(t, stop.ID.Valid())
	assert.True(t, stop.linked())
}

func TestRunRejectsOmittedFields(t *testing.T) {
	const stops = `[
		{"stop_id":1,"depot_id":100,"depot_time":0,"depot_distance":0},
		{"stop_id":2,"depot_id":100,"depot_time":0,"depot_distance":0},
		{"stop_id":3,"depot_id":100}
	]`
	complete := map[string]interface{}{
		"trip_id": "t1", "block_id": 1, "start_stop_id": 1, "end_stop_id": 2,
		"start_arrival_time": 0, "end_arrival_time": 600, "distance": 1000, "wait_time": 0,
	}

	tests := []struct {
		name   string
		modify func(map[string]interface{})
		errMsg string
	}{
		{name: "complete", modify: func(map[string]interface{}) {}},
		{name: "no distance", modify: func(m map[string]interface{}) { delete(m, "distance") }, errMsg: "unset times or distance"},
		{name: "no start time", modify: func(m map[string]interface{}) { delete(m, "start_arrival_time") }, errMsg: "unset times or distance"},
		{name: "no end time", modify: func(m map[string]interface{}) { delete(m, "end_arrival_time") }, errMsg: "unset times or distance"},
		{name: "no wait time", modify: func(m map[string]interface{}) { delete(m, "wait_time") }, errMsg: "unset times or distance"},
		{name: "no block", modify: func(m map[string]interface{}) { delete(m, "block_id") }, errMsg: "no block id"},
		{name: "no start stop", modify: func(m map[string]interface{}) { delete(m, "start_stop_id") }, errMsg: "unknown stop"},
		{name: "no end stop", modify: func(m map[string]interface{}) { delete(m, "end_stop_id") }, errMsg: "unknown stop"},
		{name: "stop without depot distance", modify: func(m map[string]interface{}) { m["end_stop_id"] = 3 }, errMsg: "no depot linkage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]interface{}{}
			for k, v := range complete {
				raw[k] = v
			}
			tt.modify(raw)
			data, err := json.Marshal([]interface{}{raw})
			require.NoError(t, err)

			var stopTable []Stop
			require.NoError(t, json.Unmarshal([]byte(stops), &stopTable))
			var trips []Trip
			require.NoError(t, json.Unmarshal(data, &trips))

			m, err := NewModel(testParams(10), stopTable, trips)
			require.NoError(t, err)
			_, err = m.Run(ChargerPlacement{})
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.KindData, errors.KindOf(err))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewModelRejectsStopWithoutID(t *testing.T) {
	var stopTable []Stop
	require.NoError(t, json.Unmarshal([]byte(`[{"depot_id":100,"depot_time":0,"depot_distance":0}]`), &stopTable))

	_, err := NewModel(testParams(10), stopTable, []Trip{newTrip("t1", 1, 1, 2, 0, 600, 1)})
	require.Error(t, err)
	assert.Equal(t, errors.KindData, errors.KindOf(err))
	assert.Contains(t, err.Error(), "no stop id")
}
