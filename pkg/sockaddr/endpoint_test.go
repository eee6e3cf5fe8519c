package sockaddr

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIPv4(t *testing.T) {
	ep, err := Parse("192.168.1.10:8080")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv4, ep.Family())
	assert.Equal(t, "192.168.1.10", ep.IP().String())
	assert.Equal(t, 8080, ep.Port())
	assert.Equal(t, "tcp", ep.Network())
	assert.Equal(t, "192.168.1.10:8080", ep.String())
}

func TestParseIPv6(t *testing.T) {
	ep, err := Parse("[::1]:9000")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv6, ep.Family())
	assert.Equal(t, 9000, ep.Port())
	assert.Equal(t, "[::1]:9000", ep.String())
}

func TestParseIPv6Zone(t *testing.T) {
	ep, err := Parse("[fe80::1%eth0]:7000")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv6, ep.Family())
	assert.Equal(t, "[fe80::1%eth0]:7000", ep.String())
}

func TestParseUnixPath(t *testing.T) {
	ep, err := Parse("/var/run/streamline.sock")
	require.NoError(t, err)
	assert.True(t, ep.IsUnix())
	assert.False(t, ep.IsAbstract())
	assert.Equal(t, "unix", ep.Network())
	assert.Equal(t, "/var/run/streamline.sock", ep.String())
}

func TestParseAbstractUnix(t *testing.T) {
	ep, err := Parse("@streamline")
	require.NoError(t, err)
	assert.True(t, ep.IsUnix())
	assert.True(t, ep.IsAbstract())
	assert.Equal(t, "@streamline", ep.String())
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{
		"127.0.0.1:9999",
		"[2001:db8::1]:443",
		"/tmp/x.sock",
		"@abstract-name",
	} {
		ep, err := Parse(s)
		require.NoError(t, err, s)
		again, err := Parse(ep.String())
		require.NoError(t, err, s)
		assert.Equal(t, ep.String(), again.String())
	}
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{
		"",
		"@",
	} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestParseFallsBackToUnix(t *testing.T) {
	// Anything that is not a valid IP endpoint parses as a path: non-IP
	// hosts and out-of-range or non-numeric ports included.
	for _, s := range []string{
		"example.com:80",
		"1.2.3.4:0",
		"1.2.3.4:65536",
		"1.2.3.4:http",
	} {
		ep, err := Parse(s)
		require.NoError(t, err, s)
		assert.True(t, ep.IsUnix(), "input %q", s)
	}
}

func TestUnixPathBounds(t *testing.T) {
	_, err := Unix(strings.Repeat("a", UnixPathMax))
	assert.NoError(t, err)

	_, err = Unix(strings.Repeat("a", UnixPathMax+1))
	assert.Error(t, err)

	_, err = AbstractUnix(strings.Repeat("a", UnixPathMax-1))
	assert.NoError(t, err)

	_, err = AbstractUnix(strings.Repeat("a", UnixPathMax))
	assert.Error(t, err)
}

func TestConstructorsAllowEphemeralPort(t *testing.T) {
	ep := IPv4(net.ParseIP("0.0.0.0"), 0)
	assert.Equal(t, 0, ep.Port())
	assert.Equal(t, "0.0.0.0:0", ep.String())

	ep = IPv6(net.ParseIP("::"), 0, "")
	assert.Equal(t, "[::]:0", ep.String())
}
