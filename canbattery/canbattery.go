// Package canbattery reads a smart battery monitor on a SocketCAN bus and
// publishes alert levels back to it.
package canbattery

import (
	"context"
	"encoding/binary"

	"github.com/brutella/can"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	frameVoltage   uint32 = 0x200
	frameCurrent   uint32 = 0x201
	frameRemaining uint32 = 0x202
	frameAlert     uint32 = 0x210
)

// AlertLevel is sent to the battery monitor so it can drive its buzzer and
// LEDs.
type AlertLevel uint8

const (
	AlertNone AlertLevel = iota
	AlertLow
	AlertCritical
)

type FloatResultFn func(v float64)

type Callbacks struct {
	Voltage   FloatResultFn // volts
	Current   FloatResultFn // amps, negative while charging
	Remaining FloatResultFn // percent
}

type CANBus interface {
	SubscribeFunc(can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
}

var newBus = func(name string) (CANBus, error) {
	return can.NewBusForInterfaceWithName(name)
}

type Connection struct {
	bus CANBus
	cb  *Callbacks
}

func Connect(portName string) (*Connection, error) {
	bus, err := newBus(portName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open can interface %s", portName)
	}
	return &Connection{
		bus: bus,
	}, nil
}

// Start subscribes to battery frames and blocks until the bus is
// disconnected or the context ends.
func (c *Connection) Start(ctx context.Context, cb Callbacks) error {
	c.cb = &cb
	c.bus.SubscribeFunc(c.handleFrame)
	log.Info("battery CAN bus opened and subscribed")

	go func() {
		<-ctx.Done()
		log.Infof("stopping battery can bus: %v", ctx.Err())
		if err := c.bus.Disconnect(); err != nil {
			log.WithField("err", err).Warn("unable to disconnect canbus after context")
		}
	}()

	return c.bus.ConnectAndPublish()
}

func (c *Connection) Close() error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	return c.bus.Disconnect()
}

func (c *Connection) SendAlert(level AlertLevel) error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	log.WithField("level", level).Debug("sending battery alert over canbus")
	return c.bus.Publish(can.Frame{
		ID:     frameAlert,
		Length: 1,
		Data:   [8]uint8{uint8(level)},
	})
}

func (c *Connection) handleFrame(frame can.Frame) {
	log.WithField("canID", frame.ID).
		WithField("length", frame.Length).
		Debug("received canbus frame")

	if c.cb == nil {
		return
	}

	var (
		cb  FloatResultFn
		v   float64
		err error
	)
	switch frame.ID {
	case frameVoltage:
		cb = c.cb.Voltage
		v, err = scaledUint16(frame, 1000)
	case frameCurrent:
		cb = c.cb.Current
		v, err = scaledInt16(frame, 100)
	case frameRemaining:
		cb = c.cb.Remaining
		v, err = scaledUint16(frame, 100)
	default:
		log.WithField("canID", frame.ID).Debug("ignoring unknown canID")
		return
	}

	if err != nil {
		log.WithField("canID", frame.ID).WithField("err", err).Error("unable to decode frame")
		return
	}
	if cb == nil {
		log.WithField("canID", frame.ID).Debug("no callback registered")
		return
	}
	cb(v)
}

func scaledUint16(frame can.Frame, div float64) (float64, error) {
	if frame.Length != 2 {
		return 0, errors.Errorf("incorrect frame size for uint16: %v", frame.Length)
	}
	return float64(binary.LittleEndian.Uint16(frame.Data[0:2])) / div, nil
}

func scaledInt16(frame can.Frame, div float64) (float64, error) {
	if frame.Length != 2 {
		return 0, errors.Errorf("incorrect frame size for int16: %v", frame.Length)
	}
	return float64(int16(binary.LittleEndian.Uint16(frame.Data[0:2]))) / div, nil
}
