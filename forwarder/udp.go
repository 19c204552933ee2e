package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jd3nn1s/dronesdk"
)

// minimum time between state packets
var forwardInterval = 100 * time.Millisecond

type UDPConfig struct {
	Server string
	Port   int
}

// UDPForwarder sends the fused state to a ground station as little endian
// binary packets, at most one per forwardInterval. States arriving faster
// replace the pending one.
type UDPForwarder struct {
	Config *UDPConfig

	conn    net.Conn
	writeMu sync.Mutex
	fwdChan chan *dronesdk.FusedState
}

func NewUDPForwarder(fileName string) (*UDPForwarder, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return NewUDPForwarderFromReader(file)
}

func NewUDPForwarderFromReader(configReader io.Reader) (*UDPForwarder, error) {
	config := UDPConfig{}
	if _, err := toml.NewDecoder(configReader).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "unable to load udp forwarder configuration")
	}
	return NewUDPForwarderFromConfig(config)
}

func NewUDPForwarderFromConfig(config UDPConfig) (*UDPForwarder, error) {
	udp := &UDPForwarder{
		Config:  &config,
		fwdChan: make(chan *dronesdk.FusedState, 1),
	}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

func (udp *UDPForwarder) Forward(newState *dronesdk.FusedState, prevState *dronesdk.FusedState) error {
	// copy as the state is sent from another go-routine
	stateCopy := *newState
	for {
		select {
		case udp.fwdChan <- &stateCopy:
			return nil
		default:
		}
		// drop the stale pending state
		select {
		case <-udp.fwdChan:
		default:
		}
	}
}

// EventCallback returns an event callback that sends the event name to the
// ground station straight away.
func (udp *UDPForwarder) EventCallback(event string) dronesdk.Callback {
	return func(context.Context, interface{}) error {
		return udp.send(TypeEvent, newEventPacket(event))
	}
}

func (udp *UDPForwarder) Start(ctx context.Context) error {
	limiter := time.NewTicker(forwardInterval)
	defer limiter.Stop()
	for {
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case s := <-udp.fwdChan:
			if err := udp.send(TypeState, s); err != nil {
				log.WithField("err", err).Error("unable to forward state to server")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) send(packetType uint8, body interface{}) error {
	buf := bytes.NewBuffer(make([]byte, 0, maxPacketSize))
	hdr := Header{
		Type: packetType,
	}
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "unable to write udp packet header")
	}
	if err := binary.Write(buf, binary.LittleEndian, body); err != nil {
		return errors.Wrap(err, "unable to write udp packet body")
	}
	udp.writeMu.Lock()
	defer udp.writeMu.Unlock()
	_, err := udp.conn.Write(buf.Bytes())
	return err
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxPacketSize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return errors.Wrapf(err, "unable to dial %s:%d", udp.Config.Server, udp.Config.Port)
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}
