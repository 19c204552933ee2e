package forwarder

import (
	"encoding/binary"

	"github.com/jd3nn1s/dronesdk"
)

// Header precedes every packet and identifies its body.
type Header struct {
	Type uint8
}

const (
	TypeState = 1
	TypeEvent = 2
)

// EventPacket announces a triggered event. Name is NUL padded.
type EventPacket struct {
	Name [32]byte
}

var maxPacketSize = binary.Size(Header{}) + binary.Size(dronesdk.FusedState{})

func newEventPacket(name string) EventPacket {
	var p EventPacket
	copy(p.Name[:], name)
	return p
}
