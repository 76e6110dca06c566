package units

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// encoding/json rejects NaN, so invalid quantities travel as null.

var null = []byte("null")

func marshalFloat(v float64) ([]byte, error) {
	if math.IsNaN(v) {
		return null, nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func unmarshalFloat(data []byte) (float64, error) {
	if bytes.Equal(bytes.TrimSpace(data), null) {
		return math.NaN(), nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m Meters) MarshalJSON() ([]byte, error)        { return marshalFloat(float64(m)) }
func (s Seconds) MarshalJSON() ([]byte, error)       { return marshalFloat(float64(s)) }
func (e KilowattHours) MarshalJSON() ([]byte, error) { return marshalFloat(float64(e)) }
func (p Kilowatts) MarshalJSON() ([]byte, error)     { return marshalFloat(float64(p)) }
func (r KWhPerKm) MarshalJSON() ([]byte, error)      { return marshalFloat(float64(r)) }
func (d Dollars) MarshalJSON() ([]byte, error)       { return marshalFloat(float64(d)) }
func (d DollarsPerKWh) MarshalJSON() ([]byte, error) { return marshalFloat(float64(d)) }

func (m *Meters) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFloat(data)
	*m = Meters(v)
	return err
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFloat(data)
	*s = Seconds(v)
	return err
}

func (e *KilowattHours) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFloat(data)
	*e = KilowattHours(v)
	return err
}

func (p *Kilowatts) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFloat(data)
	*p = Kilowatts(v)
	return err
}

func (r *KWhPerKm) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFloat(data)
	*r = KWhPerKm(v)
	return err
}

func (d *Dollars) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFloat(data)
	*d = Dollars(v)
	return err
}

func (d *DollarsPerKWh) UnmarshalJSON(data []byte) error {
	v, err := unmarshalFloat(data)
	*d = DollarsPerKWh(v)
	return err
}
