package transport

import (
	"net"
	"strconv"

	"github.com/juju/errors"
)

// Endpoint is the fixed server address. Literal IPv4 only, never resolved via DNS.
type Endpoint struct {
	Address string
	Port    uint16
}

func ParseEndpoint(address string, port int) (Endpoint, error) {
	if port <= 0 || port > 0xffff {
		return Endpoint{}, errors.NotValidf("server port=%d", port)
	}
	ep := Endpoint{Address: address, Port: uint16(port)}
	return ep, ep.Validate()
}

func (ep Endpoint) Validate() error {
	ip := net.ParseIP(ep.Address)
	if ip == nil || ip.To4() == nil {
		return errors.NotValidf("server address=%q (expected dotted-decimal IPv4)", ep.Address)
	}
	if ep.Port == 0 {
		return errors.NotValidf("server port=0")
	}
	return nil
}

func (ep Endpoint) String() string {
	return net.JoinHostPort(ep.Address, strconv.Itoa(int(ep.Port)))
}
