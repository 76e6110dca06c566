// Package units provides unit-tagged physical quantities for the dispatch
// engine. Each quantity is a distinct named type so that meters cannot be
// added to seconds, and every type uses NaN as its "not set" value.
//
// Only the cross-unit operations the engine needs are defined:
//
//	Meters.Energy(KWhPerKm)          -> KilowattHours
//	Seconds.Energy(Kilowatts)        -> KilowattHours
//	KilowattHours.ChargeTime(Kilowatts) -> Seconds
//	KilowattHours.Cost(DollarsPerKWh)   -> Dollars
package units

import (
	"math"
	"strconv"
)

const (
	metersPerKilometer = 1000.0
	secondsPerHour     = 3600.0
)

// Meters is a distance.
type Meters float64

// Seconds is a duration or a time of day measured from service-day midnight.
type Seconds float64

// KilowattHours is an amount of energy.
type KilowattHours float64

// Kilowatts is a charging power.
type Kilowatts float64

// KWhPerKm is an energy consumption rate.
type KWhPerKm float64

// Dollars is a capital cost.
type Dollars float64

// DollarsPerKWh is a battery price.
type DollarsPerKWh float64

func InvalidMeters() Meters               { return Meters(math.NaN()) }
func InvalidSeconds() Seconds             { return Seconds(math.NaN()) }
func InvalidKilowattHours() KilowattHours { return KilowattHours(math.NaN()) }
func InvalidKilowatts() Kilowatts         { return Kilowatts(math.NaN()) }
func InvalidKWhPerKm() KWhPerKm           { return KWhPerKm(math.NaN()) }
func InvalidDollars() Dollars             { return Dollars(math.NaN()) }
func InvalidDollarsPerKWh() DollarsPerKWh { return DollarsPerKWh(math.NaN()) }

func (m Meters) IsValid() bool        { return !math.IsNaN(float64(m)) }
func (s Seconds) IsValid() bool       { return !math.IsNaN(float64(s)) }
func (e KilowattHours) IsValid() bool { return !math.IsNaN(float64(e)) }
func (p Kilowatts) IsValid() bool     { return !math.IsNaN(float64(p)) }
func (r KWhPerKm) IsValid() bool      { return !math.IsNaN(float64(r)) }
func (d Dollars) IsValid() bool       { return !math.IsNaN(float64(d)) }
func (d DollarsPerKWh) IsValid() bool { return !math.IsNaN(float64(d)) }

// Energy returns the energy needed to drive m at the given consumption rate.
func (m Meters) Energy(rate KWhPerKm) KilowattHours {
	return KilowattHours(float64(m) / metersPerKilometer * float64(rate))
}

// Energy returns the energy delivered by charging at p for s.
func (s Seconds) Energy(p Kilowatts) KilowattHours {
	return KilowattHours(float64(s) / secondsPerHour * float64(p))
}

// ChargeTime returns how long it takes to deliver e at power p.
func (e KilowattHours) ChargeTime(p Kilowatts) Seconds {
	return Seconds(float64(e) / float64(p) * secondsPerHour)
}

// Cost prices e at the given rate.
func (e KilowattHours) Cost(price DollarsPerKWh) Dollars {
	return Dollars(float64(e) * float64(price))
}

// Times scales a cost by a count of items.
func (d Dollars) Times(n int) Dollars {
	return Dollars(float64(d) * float64(n))
}

// MinEnergy returns the smaller of a and b.
func MinEnergy(a, b KilowattHours) KilowattHours {
	if a < b {
		return a
	}
	return b
}

func (m Meters) String() string        { return format(float64(m), "m") }
func (s Seconds) String() string       { return format(float64(s), "s") }
func (e KilowattHours) String() string { return format(float64(e), "kWh") }
func (p Kilowatts) String() string     { return format(float64(p), "kW") }
func (r KWhPerKm) String() string      { return format(float64(r), "kWh/km") }
func (d Dollars) String() string       { return format(float64(d), "$") }
func (d DollarsPerKWh) String() string { return format(float64(d), "$/kWh") }

func format(v float64, unit string) string {
	if math.IsNaN(v) {
		return "invalid"
	}
	return strconv.FormatFloat(v, 'g', -1, 64) + unit
}
