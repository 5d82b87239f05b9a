// Package idgen produces globally unique, roughly time-ordered short
// codes. A 64-bit snowflake id (41-bit timestamp, 10-bit machine id,
// 12-bit sequence) is rendered in base62 with no padding.
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// Epoch is 2021-01-01T00:00:00Z in milliseconds. Code timestamps
	// are offsets from it.
	Epoch int64 = 1609459200000

	machineBits  = 10
	sequenceBits = 12

	// MaxMachineID is the largest machine id that fits the bit width.
	MaxMachineID = (1 << machineBits) - 1 // 1023
	maxSequence  = (1 << sequenceBits) - 1

	machineShift   = sequenceBits
	timestampShift = sequenceBits + machineBits
)

var (
	// ErrMachineIDOutOfRange is returned when constructing a generator
	// with a machine id that does not fit in 10 bits.
	ErrMachineIDOutOfRange = errors.New("machine id must be between 0 and 1023")

	// ErrClockMovedBackwards is returned when the system clock runs
	// behind the last observed timestamp. Generating in that state
	// could repeat ids, so the generator refuses.
	ErrClockMovedBackwards = errors.New("clock moved backwards")
)

// Generator assembles snowflake ids. One instance per process; safe
// for concurrent use.
type Generator struct {
	mu            sync.Mutex
	machineID     int64
	sequence      int64
	lastTimestamp int64
	now           func() int64 // millisecond clock, swappable in tests
}

// NewGenerator creates a generator for the given machine id.
func NewGenerator(machineID int64) (*Generator, error) {
	if machineID < 0 || machineID > MaxMachineID {
		return nil, fmt.Errorf("%w: got %d", ErrMachineIDOutOfRange, machineID)
	}
	return &Generator{
		machineID: machineID,
		now:       func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns the next snowflake id. Assembly is serialized under a
// mutex; within one millisecond the sequence increments, and on
// sequence overflow the generator waits for the next millisecond.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.now()
	if timestamp < g.lastTimestamp {
		return 0, fmt.Errorf("%w: last=%d current=%d", ErrClockMovedBackwards, g.lastTimestamp, timestamp)
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			timestamp = g.waitNextMilli(timestamp)
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = timestamp

	id := ((timestamp - Epoch) << timestampShift) |
		(g.machineID << machineShift) |
		g.sequence
	return id, nil
}

// NextCode returns the next snowflake id rendered as a base62 code.
func (g *Generator) NextCode() (string, error) {
	id, err := g.NextID()
	if err != nil {
		return "", err
	}
	return EncodeBase62(uint64(id)), nil
}

func (g *Generator) waitNextMilli(last int64) int64 {
	timestamp := g.now()
	for timestamp <= last {
		time.Sleep(10 * time.Microsecond)
		timestamp = g.now()
	}
	return timestamp
}

// DecomposeID splits a snowflake id into its timestamp (absolute
// milliseconds), machine id and sequence.
func DecomposeID(id int64) (timestamp, machineID, sequence int64) {
	sequence = id & maxSequence
	machineID = (id >> machineShift) & MaxMachineID
	timestamp = (id >> timestampShift) + Epoch
	return
}
