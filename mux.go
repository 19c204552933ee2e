package dronesdk

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Mux is a Connection that reads each channel from its own connection.
// Channels without a route are read from the fallback, or yield no data
// when there is none.
type Mux struct {
	routes   map[Channel]Connection
	fallback Connection
}

func NewMux(fallback Connection) *Mux {
	return &Mux{
		routes:   map[Channel]Connection{},
		fallback: fallback,
	}
}

// Route reads ch from conn. It must not be called after the mux is in use.
func (m *Mux) Route(ch Channel, conn Connection) *Mux {
	m.routes[ch] = conn
	return m
}

func (m *Mux) GetMessage(ctx context.Context, ch Channel) (Fields, error) {
	if conn, ok := m.routes[ch]; ok {
		return conn.GetMessage(ctx, ch)
	}
	if m.fallback == nil {
		return nil, nil
	}
	return m.fallback.GetMessage(ctx, ch)
}

// Run runs every routed connection that needs a background reader and
// returns when all of them have.
func (m *Mux) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range m.runners() {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	return g.Wait()
}

func (m *Mux) runners() []Runner {
	seen := map[Connection]struct{}{}
	var runners []Runner
	add := func(conn Connection) {
		if conn == nil {
			return
		}
		if _, ok := seen[conn]; ok {
			return
		}
		seen[conn] = struct{}{}
		if r, ok := conn.(Runner); ok {
			runners = append(runners, r)
		}
	}
	for _, ch := range Channels {
		if conn, ok := m.routes[ch]; ok {
			add(conn)
		}
	}
	add(m.fallback)
	return runners
}

// Routed returns the connection serving ch.
func (m *Mux) Routed(ch Channel) Connection {
	if conn, ok := m.routes[ch]; ok {
		return conn
	}
	return m.fallback
}
