package mail

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
)

// Mode is the deployment mode that decides which mail host is used.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeSandbox    Mode = "sandbox"
)

// ModeFor maps an APP_ENV value to a transport mode. Anything that is not
// production delivers to the sandbox.
func ModeFor(appEnv string) Mode {
	if appEnv == config.EnvProduction {
		return ModeProduction
	}
	return ModeSandbox
}

// TransportConfig describes one outbound SMTP channel.
type TransportConfig struct {
	Mode     Mode
	Host     string
	Port     int
	Username string
	Password string
	// From is the envelope and header sender, "Name <address>".
	From string
	// ImplicitTLS dials TLS directly (SMTPS) instead of upgrading.
	ImplicitTLS bool
	// RequireTLS fails delivery when the server does not offer STARTTLS.
	RequireTLS bool
}

// Addr returns host:port.
func (c TransportConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String omits the password.
func (c TransportConfig) String() string {
	return fmt.Sprintf("%s smtp://%s@%s (implicitTLS=%t requireTLS=%t)", c.Mode, c.Username, c.Addr(), c.ImplicitTLS, c.RequireTLS)
}

// SelectTransport returns the transport for mode. Production uses the
// operator's mail host and leaves TLS to the defaults: implicit TLS on port
// 465, opportunistic STARTTLS otherwise, certificates always verified. The
// sandbox host starts in plaintext and demands a STARTTLS upgrade, so the
// upgrade is required there.
func SelectTransport(mode Mode, cfg config.Mail) TransportConfig {
	if mode == ModeProduction {
		return TransportConfig{
			Mode:        ModeProduction,
			Host:        cfg.Host,
			Port:        cfg.Port,
			Username:    cfg.Username,
			Password:    cfg.Password,
			From:        fmt.Sprintf("%s <%s>", cfg.From, cfg.Username),
			ImplicitTLS: cfg.Port == 465,
		}
	}
	return TransportConfig{
		Mode:       ModeSandbox,
		Host:       cfg.SandboxHost,
		Port:       cfg.Port,
		Username:   cfg.SandboxUsername,
		Password:   cfg.SandboxPassword,
		From:       fmt.Sprintf("%s <%s>", cfg.From, cfg.SandboxUsername),
		RequireTLS: true,
	}
}

// Selector computes the transport once and hands out the same value for the
// lifetime of the process.
type Selector struct {
	mode Mode
	cfg  config.Mail

	once      sync.Once
	transport TransportConfig
}

func NewSelector(mode Mode, cfg config.Mail) *Selector {
	return &Selector{mode: mode, cfg: cfg}
}

// Transport returns the cached transport configuration.
func (s *Selector) Transport() TransportConfig {
	s.once.Do(func() {
		s.transport = SelectTransport(s.mode, s.cfg)
	})
	return s.transport
}

// Mode returns the mode the selector was built for.
func (s *Selector) Mode() Mode {
	return s.mode
}
