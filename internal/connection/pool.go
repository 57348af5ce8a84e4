package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"zmfs/internal/config"
)

// Pool hands out one connected, instrumented Connection per profile name.
// Connections are opened on first use and kept until Close.
type Pool struct {
	cfg     *config.Config
	log     *zap.Logger
	connect func(*config.Profile) (Connection, error)

	mu    sync.Mutex
	conns map[string]Connection
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger used for connection lifecycle messages.
func WithPoolLogger(log *zap.Logger) PoolOption {
	return func(p *Pool) {
		p.log = log
	}
}

// WithDialer replaces the factory used to build connections.
func WithDialer(connect func(*config.Profile) (Connection, error)) PoolOption {
	return func(p *Pool) {
		p.connect = connect
	}
}

func NewPool(cfg *config.Config, opts ...PoolOption) *Pool {
	p := &Pool{
		cfg:     cfg,
		log:     zap.NewNop(),
		connect: NewConnection,
		conns:   make(map[string]Connection),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connection returns the connection for a profile, connecting if needed.
func (p *Pool) Connection(ctx context.Context, profile string) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[profile]; ok {
		return c, nil
	}

	prof, err := p.cfg.GetProfile(profile)
	if err != nil {
		return nil, err
	}
	if err := prof.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile, err)
	}

	conn, err := p.connect(prof)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile, err)
	}
	p.log.Debug("connected", zap.String("profile", profile), zap.String("host", prof.Host), zap.String("protocol", prof.Protocol))

	c := Instrument(conn)
	p.conns[profile] = c
	return c, nil
}

// Encoding returns the profile's default text codepage.
func (p *Pool) Encoding(profile string) string {
	prof, err := p.cfg.GetProfile(profile)
	if err != nil {
		return ""
	}
	return prof.Encoding
}

// Close closes every open connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, c := range p.conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("profile %s: %w", name, err))
		}
		delete(p.conns, name)
	}
	return result.ErrorOrNil()
}
