package dronesdk

import (
	"context"

	"github.com/jd3nn1s/skytraq"
	log "github.com/sirupsen/logrus"
)

const (
	// skytraq reports dilution of precision scaled by 100
	skytraqDOPScale = 100.0
	// and coordinates in 1e-7 degrees, altitude in centimetres
	skytraqDegreeScale   = 1e7
	skytraqAltitudeScale = 100.0
)

// SkytraqGPS serves GPS fields from a Skytraq receiver. Run keeps the
// receiver connected; GetMessage returns the newest unread fix.
type SkytraqGPS struct {
	c        GPS
	portName string
	cache    *FieldCache
}

func NewSkytraqGPS(portName string) *SkytraqGPS {
	return &SkytraqGPS{
		portName: portName,
		cache:    NewFieldCache("skytraq gps"),
	}
}

var gpsConnect = func(p string) (GPS, error) {
	return skytraq.Connect(p)
}

func (g *SkytraqGPS) Open() error {
	c, err := gpsConnect(g.portName)
	g.c = c
	if err == nil {
		g.cache.SetConnected(true)
	}
	return err
}

func (g *SkytraqGPS) Close() error {
	g.cache.SetConnected(false)
	if g.c == nil {
		return nil
	}
	return g.c.Close()
}

func (g *SkytraqGPS) Start(ctx context.Context) error {
	return g.c.Start(ctx, skytraq.Callbacks{
		SoftwareVersion: func(version skytraq.SoftwareVersion) {
			log.Infof("gps software version: %v", version)
		},
		NavData: g.navDataFn,
	})
}

func (g *SkytraqGPS) Name() string {
	return "skytraq gps"
}

func (g *SkytraqGPS) Run(ctx context.Context) error {
	return Retry(ctx, g)
}

func (g *SkytraqGPS) GetMessage(_ context.Context, ch Channel) (Fields, error) {
	if ch != ChannelGPS {
		return nil, nil
	}
	return g.cache.Get(ch)
}

func (g *SkytraqGPS) navDataFn(navData skytraq.NavData) {
	if navData.Fix == skytraq.FixNone {
		log.Warn("no satellite fix")
		return
	}
	g.cache.Put(ChannelGPS, Fields{
		"lat":  float64(navData.Latitude) / skytraqDegreeScale,
		"lon":  float64(navData.Longitude) / skytraqDegreeScale,
		"alt":  float64(navData.Altitude) / skytraqAltitudeScale,
		"hdop": float64(navData.HDOP) / skytraqDOPScale,
	})
}
