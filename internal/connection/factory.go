package connection

import (
	"fmt"

	"zmfs/internal/config"
)

func NewConnection(p *config.Profile) (Connection, error) {
	switch p.Protocol {
	case "zosmf":
		opts := []ZOSMFOption{WithResponseTimeout(p.Timeout())}
		if !p.VerifyTLS() {
			opts = append(opts, WithInsecureTLS())
		}
		return NewZOSMFConnection(p.Host, p.Port, p.User, p.Password, opts...), nil
	case "ftp":
		return NewFTPConnection(p.Host, p.Port, p.User, p.Password), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", p.Protocol)
	}
}
