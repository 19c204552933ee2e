// Package nmea reads GPS fixes from a receiver speaking NMEA 0183 over a
// serial port.
package nmea

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jd3nn1s/dronesdk"
)

const defaultBaudRate = 9600

func init() {
	dronesdk.RegisterConnection("nmea", func(cfg dronesdk.Config) (dronesdk.Connection, error) {
		if cfg.Source.Port == "" {
			return nil, errors.New("nmea source needs a port")
		}
		return New(cfg.Source.Port, cfg.Source.BaudRate), nil
	})
}

var serialOpen = func(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	return serial.Open(opts)
}

// Receiver is a GPS connection fed by GGA and GSA sentences. GGA supplies
// position, altitude and HDOP; the last GSA supplies VDOP. Each GGA with a
// valid fix produces one reading.
type Receiver struct {
	portName string
	baudRate uint
	cache    *dronesdk.FieldCache

	mu   sync.Mutex
	port io.ReadWriteCloser
	vdop float64
}

func New(portName string, baudRate uint) *Receiver {
	if baudRate == 0 {
		baudRate = defaultBaudRate
	}
	return &Receiver{
		portName: portName,
		baudRate: baudRate,
		cache:    dronesdk.NewFieldCache("nmea gps"),
	}
}

func (r *Receiver) Name() string {
	return "nmea gps"
}

func (r *Receiver) Open() error {
	port, err := serialOpen(serial.OpenOptions{
		PortName:        r.portName,
		BaudRate:        r.baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return errors.Wrapf(err, "unable to open serial port %s", r.portName)
	}
	r.mu.Lock()
	r.port = port
	r.mu.Unlock()
	r.cache.SetConnected(true)
	log.Infof("gps serial port opened on %s at %d baud", r.portName, r.baudRate)
	return nil
}

func (r *Receiver) Close() error {
	r.cache.SetConnected(false)
	r.mu.Lock()
	port := r.port
	r.port = nil
	r.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// Start reads sentences until the port fails or the context ends.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	port := r.port
	r.mu.Unlock()
	if port == nil {
		return errors.New("serial port not open")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// unblocks the pending read
			_ = r.Close()
		case <-done:
		}
	}()

	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "gps read error")
		}
		r.handleLine(line)
	}
}

func (r *Receiver) Run(ctx context.Context) error {
	return dronesdk.Retry(ctx, r)
}

func (r *Receiver) GetMessage(_ context.Context, ch dronesdk.Channel) (dronesdk.Fields, error) {
	if ch != dronesdk.ChannelGPS {
		return nil, nil
	}
	return r.cache.Get(ch)
}

func (r *Receiver) handleLine(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}
	sentence, err := gonmea.Parse(line)
	if err != nil {
		// partial sentences are common right after opening the port
		log.WithField("err", err).Debug("unable to parse nmea sentence")
		return
	}
	r.handleSentence(sentence)
}

func (r *Receiver) handleSentence(sentence gonmea.Sentence) {
	switch m := sentence.(type) {
	case gonmea.GSA:
		if m.FixType == gonmea.FixNone {
			return
		}
		r.mu.Lock()
		r.vdop = m.VDOP
		r.mu.Unlock()
	case gonmea.GGA:
		if m.FixQuality == gonmea.Invalid {
			log.Warn("no satellite fix")
			return
		}
		r.mu.Lock()
		vdop := r.vdop
		r.mu.Unlock()
		r.cache.Put(dronesdk.ChannelGPS, dronesdk.Fields{
			"lat":  m.Latitude,
			"lon":  m.Longitude,
			"alt":  m.Altitude,
			"hdop": m.HDOP,
			"vdop": vdop,
		})
	}
}
