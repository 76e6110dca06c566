package units

import (
	"math"
	"strconv"
)

// Identifier spaces are kept apart at the type level; comparing a StopID
// with a DepotID does not compile.

// StopID identifies a stop.
type StopID int64

// DepotID identifies a depot.
type DepotID int64

// BlockID identifies a schedule block.
type BlockID int64

// BusID identifies a simulated bus. IDs are assigned from 1 within one run.
type BusID int32

const (
	InvalidStopID  StopID  = math.MinInt32
	InvalidDepotID DepotID = math.MinInt32
	InvalidBlockID BlockID = math.MinInt32
	InvalidBusID   BusID   = math.MinInt32
)

func (id StopID) Valid() bool  { return id != InvalidStopID }
func (id DepotID) Valid() bool { return id != InvalidDepotID }
func (id BlockID) Valid() bool { return id != InvalidBlockID }
func (id BusID) Valid() bool   { return id != InvalidBusID }

func (id StopID) String() string  { return formatID(int64(id), id.Valid()) }
func (id DepotID) String() string { return formatID(int64(id), id.Valid()) }
func (id BlockID) String() string { return formatID(int64(id), id.Valid()) }
func (id BusID) String() string   { return formatID(int64(id), id.Valid()) }

func formatID(v int64, ok bool) string {
	if !ok {
		return "invalid"
	}
	return strconv.FormatInt(v, 10)
}
