package sockaddr

import (
	"fmt"
	"net"
	"strings"
)

// Family identifies the address family of an Endpoint.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
	FamilyUnix
)

// UnixPathMax is the maximum length of a unix domain socket path,
// including the abstract namespace marker.
const UnixPathMax = 108

// Endpoint is a transport address: an IPv4 or IPv6 host with a port, or a
// unix domain socket path (filesystem or abstract). Endpoint satisfies
// net.Addr.
type Endpoint struct {
	family   Family
	ip       net.IP
	port     int
	zone     string
	path     string
	abstract bool
}

// IPv4 constructs an IPv4 endpoint. Port 0 is accepted so listeners can
// bind an ephemeral port.
func IPv4(ip net.IP, port int) Endpoint {
	return Endpoint{family: FamilyIPv4, ip: ip.To4(), port: port}
}

// IPv6 constructs an IPv6 endpoint.
func IPv6(ip net.IP, port int, zone string) Endpoint {
	return Endpoint{family: FamilyIPv6, ip: ip.To16(), port: port, zone: zone}
}

// Unix constructs a filesystem unix domain socket endpoint.
func Unix(path string) (Endpoint, error) {
	if path == "" {
		return Endpoint{}, fmt.Errorf("empty unix socket path")
	}
	if len(path) > UnixPathMax {
		return Endpoint{}, fmt.Errorf("unix socket path exceeds %d bytes: %q", UnixPathMax, path)
	}
	return Endpoint{family: FamilyUnix, path: path}, nil
}

// AbstractUnix constructs an abstract-namespace unix domain socket
// endpoint. The name excludes the leading NUL.
func AbstractUnix(name string) (Endpoint, error) {
	if name == "" {
		return Endpoint{}, fmt.Errorf("empty abstract socket name")
	}
	if len(name) > UnixPathMax-1 {
		return Endpoint{}, fmt.Errorf("abstract socket name exceeds %d bytes: %q", UnixPathMax-1, name)
	}
	return Endpoint{family: FamilyUnix, path: name, abstract: true}, nil
}

// Parse builds an Endpoint from a string. "A.B.C.D:port" parses as IPv4,
// "[addr]:port" as IPv6, "@name" as an abstract unix socket, and anything
// else as a filesystem unix socket path.
func Parse(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty address")
	}
	if s[0] == '@' {
		return AbstractUnix(s[1:])
	}
	if host, portStr, ok := splitHostPort(s); ok {
		port, err := parsePort(portStr)
		if err == nil {
			zone := ""
			if i := strings.IndexByte(host, '%'); i >= 0 {
				host, zone = host[:i], host[i+1:]
			}
			if ip := net.ParseIP(host); ip != nil {
				if v4 := ip.To4(); v4 != nil {
					return IPv4(v4, port), nil
				}
				return IPv6(ip, port, zone), nil
			}
		}
	}
	return Unix(s)
}

// splitHostPort splits on the last colon and strips IPv6 brackets from the
// host. It reports false when there is no colon to split on.
func splitHostPort(s string) (host, port string, ok bool) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	host, port = s[:i], s[i+1:]
	if len(host) >= 2 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}
	return host, port, true
}

// parsePort parses a decimal port in 1..65535. Leading signs, whitespace
// and empty strings are rejected.
func parsePort(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty port")
	}
	port := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid port %q", s)
		}
		port = port*10 + int(c-'0')
		if port > 65535 {
			return 0, fmt.Errorf("port %q out of range", s)
		}
	}
	if port < 1 {
		return 0, fmt.Errorf("port %q out of range", s)
	}
	return port, nil
}

// Family returns the endpoint's address family.
func (e Endpoint) Family() Family { return e.family }

// IsUnix reports whether the endpoint is a unix domain socket address.
func (e Endpoint) IsUnix() bool { return e.family == FamilyUnix }

// IsAbstract reports whether the endpoint is an abstract unix socket.
func (e Endpoint) IsAbstract() bool { return e.abstract }

// IP returns the endpoint's IP, or nil for unix endpoints.
func (e Endpoint) IP() net.IP { return e.ip }

// Port returns the endpoint's port, or 0 for unix endpoints.
func (e Endpoint) Port() int { return e.port }

// Network returns the network name to pass to net.Listen and net.Dial.
func (e Endpoint) Network() string {
	if e.family == FamilyUnix {
		return "unix"
	}
	return "tcp"
}

// String renders the endpoint in the form Parse accepts: "A.B.C.D:port",
// "[addr]:port", "@name" or the unix path.
func (e Endpoint) String() string {
	switch e.family {
	case FamilyIPv4:
		return fmt.Sprintf("%s:%d", e.ip.String(), e.port)
	case FamilyIPv6:
		host := e.ip.String()
		if e.zone != "" {
			host += "%" + e.zone
		}
		return fmt.Sprintf("[%s]:%d", host, e.port)
	default:
		if e.abstract {
			return "@" + e.path
		}
		return e.path
	}
}
