package units

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossUnitOperators(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"distance times rate", float64(Meters(2500).Energy(KWhPerKm(1.2))), 3.0},
		{"time times power", float64(Seconds(1800).Energy(Kilowatts(500))), 250.0},
		{"energy over power", float64(KilowattHours(250).ChargeTime(Kilowatts(125))), 7200.0},
		{"energy times price", float64(KilowattHours(200).Cost(DollarsPerKWh(100))), 20000.0},
		{"count scaling", float64(Dollars(500000).Times(3)), 1500000.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.got, 1e-9)
		})
	}
}

func TestInvalidSentinels(t *testing.T) {
	assert.False(t, InvalidMeters().IsValid())
	assert.False(t, InvalidSeconds().IsValid())
	assert.False(t, InvalidKilowattHours().IsValid())
	assert.False(t, InvalidKilowatts().IsValid())
	assert.False(t, InvalidKWhPerKm().IsValid())
	assert.False(t, InvalidDollars().IsValid())
	assert.False(t, InvalidDollarsPerKWh().IsValid())

	// Arithmetic on an unset value stays unset instead of turning into zero.
	assert.False(t, (InvalidKilowattHours() - KilowattHours(3)).IsValid())
	assert.False(t, InvalidMeters().Energy(KWhPerKm(1)).IsValid())

	assert.True(t, Meters(0).IsValid())
	assert.Equal(t, "invalid", InvalidSeconds().String())
	assert.Equal(t, "12.5kWh", KilowattHours(12.5).String())
}

func TestIdentifiers(t *testing.T) {
	assert.False(t, InvalidStopID.Valid())
	assert.False(t, InvalidDepotID.Valid())
	assert.False(t, InvalidBlockID.Valid())
	assert.False(t, InvalidBusID.Valid())
	assert.True(t, StopID(0).Valid())
	assert.True(t, BusID(1).Valid())
	assert.Equal(t, "invalid", InvalidDepotID.String())
	assert.Equal(t, "42", StopID(42).String())
}

func TestJSONRoundTripKeepsInvalid(t *testing.T) {
	type record struct {
		Energy KilowattHours `json:"energy"`
		Busy   Seconds       `json:"busy"`
	}

	data, err := json.Marshal(record{Energy: InvalidKilowattHours(), Busy: Seconds(30)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"energy":null,"busy":30}`, string(data))

	var back record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsNaN(float64(back.Energy)))
	assert.Equal(t, Seconds(30), back.Busy)

	var bad record
	assert.Error(t, json.Unmarshal([]byte(`{"energy":"x"}`), &bad))
}
