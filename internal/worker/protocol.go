// Package worker runs the batch orbital transform on its own goroutine and
// talks to the rendering side only through messages.
//
// The protocol has four messages. The rendering side sends Init once per
// population and then Compute requests; the worker answers Init with Ready
// and every Compute with Positions. Buffers inside Compute and Positions are
// moved, never shared: the sender detaches its handle before sending.
package worker

import (
	"errors"

	"github.com/Nolaskote/Simulation/internal/propagation"
)

var (
	// ErrClosed is returned when the worker is gone or was never started.
	ErrClosed = errors.New("worker: closed")
	// ErrNotReady reports a request made before the worker acknowledged Init.
	ErrNotReady = errors.New("worker: not ready")
	// ErrBusy reports a full inbox or an outstanding request.
	ErrBusy = errors.New("worker: busy")
)

// MessageType names a protocol message.
type MessageType string

const (
	TypeInit      MessageType = "init"
	TypeReady     MessageType = "ready"
	TypeCompute   MessageType = "compute"
	TypePositions MessageType = "positions"
)

// Message is any protocol message.
type Message interface {
	Type() MessageType
}

// Init replaces the worker's element arrays. The arrays must not be mutated
// by the sender afterwards.
type Init struct {
	Elements *propagation.ElementArrays
}

// Ready acknowledges Init. Bodies is the population size the worker holds.
type Ready struct {
	Bodies int
}

// Compute asks for positions at Time days since J2000. Buffer is an optional
// recycled buffer; the worker reallocates when it is missing or the wrong size.
type Compute struct {
	Seq    uint64
	Time   float64
	Scale  float64
	Buffer *propagation.PositionBuffer
}

// Positions carries a full batch result for the Compute with the same Seq.
type Positions struct {
	Seq    uint64
	Time   float64
	Buffer *propagation.PositionBuffer
	Stats  propagation.BatchStats
}

func (Init) Type() MessageType { return TypeInit }
func (Ready) Type() MessageType { return TypeReady }
func (Compute) Type() MessageType { return TypeCompute }
func (Positions) Type() MessageType { return TypePositions }
