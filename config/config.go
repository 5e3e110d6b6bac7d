// Package config loads the bridge's service list from a YAML file using
// gopkg.in/yaml.v3, replacing the original hand-rolled indentation parser
// documented in original_source/src/config.cpp with real YAML parsing
// against a typed schema.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/momentics/vsockbridge/endpoint"
)

// Scheme names an endpoint's address family as written in the config
// file's "scheme://address:port" strings.
type Scheme string

const (
	SchemeVSock Scheme = "vsock"
	SchemeTCP4  Scheme = "tcp"
)

// EndpointConfig is one parsed "scheme://address:port" endpoint spec.
type EndpointConfig struct {
	Scheme  Scheme
	Address string
	Port    uint16
}

func (e EndpointConfig) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Address, e.Port)
}

// ToEndpoint resolves the parsed config into a concrete endpoint.Endpoint.
// For vsock, address "-1" follows the original config format's convention
// for VMADDR_CID_ANY (accept from any CID); any other value is parsed as
// a decimal CID.
func (e EndpointConfig) ToEndpoint() (endpoint.Endpoint, error) {
	switch e.Scheme {
	case SchemeTCP4:
		return endpoint.TCP4{IP: e.Address, Port: int(e.Port)}, nil
	case SchemeVSock:
		if e.Address == "-1" {
			return endpoint.VSock{CID: endpoint.CIDAny, Port: uint32(e.Port)}, nil
		}
		cid, err := strconv.ParseUint(e.Address, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock cid %q: %w", e.Address, err)
		}
		return endpoint.VSock{CID: uint32(cid), Port: uint32(e.Port)}, nil
	default:
		return nil, fmt.Errorf("unresolvable endpoint scheme %q", e.Scheme)
	}
}

// ServiceDescription is one bridged service: a name, a listen endpoint, a
// connect endpoint, and optional listener-side socket buffer sizes.
type ServiceDescription struct {
	Name            string
	ListenEndpoint  EndpointConfig
	ConnectEndpoint EndpointConfig

	// AcceptRcvBuf/AcceptSndBuf size SO_RCVBUF/SO_SNDBUF on the accepted
	// (inbound) descriptor; PeerRcvBuf/PeerSndBuf size them on the dialed
	// (outbound) descriptor. Zero means leave the kernel default. Per the
	// spec's resolution of this Open Question, these are listener-side
	// setsockopt knobs only — the core Buffer type has its own, separate
	// capacity setting.
	AcceptRcvBuf int
	AcceptSndBuf int
	PeerRcvBuf   int
	PeerSndBuf   int
}

// String renders a diagnostic dump matching the original's describe().
func (sd ServiceDescription) String() string {
	return fmt.Sprintf("%s\n  listen: %s\n  connect: %s", sd.Name, sd.ListenEndpoint, sd.ConnectEndpoint)
}

// rawService is the YAML document shape: a map from service name to
// service body, since yaml.v3 unmarshals a mapping-of-mappings directly
// without a custom line parser.
type rawService struct {
	Service      string `yaml:"service"`
	Listen       string `yaml:"listen"`
	Connect      string `yaml:"connect"`
	AcceptRcvBuf int    `yaml:"accept-rcvbuf"`
	AcceptSndBuf int    `yaml:"accept-sndbuf"`
	PeerRcvBuf   int    `yaml:"peer-rcvbuf"`
	PeerSndBuf   int    `yaml:"peer-sndbuf"`
}

// LoadServices reads and parses the YAML config file at path.
func LoadServices(path string) ([]ServiceDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]rawService
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	services := make([]ServiceDescription, 0, len(raw))
	for name, rs := range raw {
		if rs.Service != "direct" {
			return nil, fmt.Errorf("service %s: unsupported service type %q (only \"direct\" byte-relay bridging is implemented)", name, rs.Service)
		}

		listenEp, err := parseEndpoint(rs.Listen)
		if err != nil {
			return nil, fmt.Errorf("service %s: listen endpoint: %w", name, err)
		}
		connectEp, err := parseEndpoint(rs.Connect)
		if err != nil {
			return nil, fmt.Errorf("service %s: connect endpoint: %w", name, err)
		}

		services = append(services, ServiceDescription{
			Name:            name,
			ListenEndpoint:  listenEp,
			ConnectEndpoint: connectEp,
			AcceptRcvBuf:    rs.AcceptRcvBuf,
			AcceptSndBuf:    rs.AcceptSndBuf,
			PeerRcvBuf:      rs.PeerRcvBuf,
			PeerSndBuf:      rs.PeerSndBuf,
		})
	}

	return services, nil
}

// parseEndpoint parses "scheme://address:port" into an EndpointConfig.
func parseEndpoint(value string) (EndpointConfig, error) {
	scheme, rest, ok := strings.Cut(value, "://")
	if !ok {
		return EndpointConfig{}, fmt.Errorf("malformed endpoint %q, expected scheme://address:port", value)
	}

	var sch Scheme
	switch scheme {
	case "vsock":
		sch = SchemeVSock
	case "tcp":
		sch = SchemeTCP4
	default:
		return EndpointConfig{}, fmt.Errorf("unknown endpoint scheme %q", scheme)
	}

	addr, portStr, ok := strings.Cut(rest, ":")
	if !ok {
		return EndpointConfig{}, fmt.Errorf("malformed endpoint %q, missing port", value)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return EndpointConfig{}, fmt.Errorf("invalid port in endpoint %q: %w", value, err)
	}

	return EndpointConfig{Scheme: sch, Address: addr, Port: uint16(port)}, nil
}
