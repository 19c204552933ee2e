package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jd3nn1s/dronesdk"
)

func listen(t *testing.T) (net.PacketConn, string) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	udpAddr := pc.LocalAddr().(*net.UDPAddr)
	config := fmt.Sprintf(`
Server = "127.0.0.1"
Port = %d
`, udpAddr.Port)
	return pc, config
}

func receive(t *testing.T, pc net.PacketConn) []byte {
	buffer := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second*3)))
	n, _, err := pc.ReadFrom(buffer)
	require.NoError(t, err)
	return buffer[:n]
}

func TestUDPForwarder(t *testing.T) {
	pc, config := listen(t)

	udp, err := NewUDPForwarderFromReader(bytes.NewBufferString(config))
	require.NoError(t, err)
	defer udp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = udp.Start(ctx)
	}()

	newState := dronesdk.FusedState{
		Latitude:           1,
		Longitude:          2,
		Altitude:           3,
		DistanceTraveled:   4,
		BatteryRemaining:   5,
		BatteryConsumption: 6,
		Roll:               7,
		Pitch:              8,
		Yaw:                9,
		HDOP:               10,
		Vibration:          true,
	}
	prevState := dronesdk.FusedState{}
	assert.NoError(t, udp.Forward(&newState, &prevState))

	data := receive(t, pc)
	assert.Equal(t, 82, len(data))
	assert.Equal(t, maxPacketSize, len(data))

	hdr := Header{}
	recvState := dronesdk.FusedState{}
	rdr := bytes.NewReader(data)
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &hdr))
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &recvState))
	assert.Equal(t, uint8(TypeState), hdr.Type)
	assert.Equal(t, &newState, &recvState)
}

func TestForwardKeepsNewest(t *testing.T) {
	_, config := listen(t)
	udp, err := NewUDPForwarderFromReader(bytes.NewBufferString(config))
	require.NoError(t, err)
	defer udp.Close()

	// not started so nothing drains the queue
	for i := 1; i <= 3; i++ {
		assert.NoError(t, udp.Forward(&dronesdk.FusedState{Altitude: float64(i)}, &dronesdk.FusedState{}))
	}
	s := <-udp.fwdChan
	assert.Equal(t, 3.0, s.Altitude)
}

func TestEventCallback(t *testing.T) {
	pc, config := listen(t)
	udp, err := NewUDPForwarderFromReader(bytes.NewBufferString(config))
	require.NoError(t, err)
	defer udp.Close()

	cb := udp.EventCallback(dronesdk.EventCriticalBattery)
	require.NoError(t, cb(context.Background(), nil))

	data := receive(t, pc)
	hdr := Header{}
	packet := EventPacket{}
	rdr := bytes.NewReader(data)
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &hdr))
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &packet))
	assert.Equal(t, uint8(TypeEvent), hdr.Type)
	assert.Equal(t, dronesdk.EventCriticalBattery, string(bytes.TrimRight(packet.Name[:], "\x00")))
}

func TestBadConfig(t *testing.T) {
	_, err := NewUDPForwarderFromReader(bytes.NewBufferString("Server = "))
	assert.Error(t, err)

	_, err = NewUDPForwarder("does-not-exist.toml")
	assert.Error(t, err)
}
