package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstIPv4(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("127.0.0.1")},
		&net.IPNet{IP: net.ParseIP("fe80::1")},
		&net.IPNet{IP: net.ParseIP("169.254.3.4")},
		&net.IPNet{IP: net.ParseIP("2001:db8::1")},
		&net.IPAddr{IP: net.ParseIP("10.1.2.3")},
		&net.IPNet{IP: net.ParseIP("192.168.0.2")},
	}
	assert.Equal(t, "10.1.2.3", firstIPv4(addrs))
}

func TestFirstIPv4_None(t *testing.T) {
	assert.Equal(t, "", firstIPv4([]net.Addr{&net.IPNet{IP: net.ParseIP("::1")}}))
}

func TestLocalIP(t *testing.T) {
	ip, err := LocalIP()
	if err != nil {
		assert.ErrorIs(t, err, ErrNoAddress)
		return
	}
	parsed := net.ParseIP(ip)
	if assert.NotNil(t, parsed) {
		assert.NotNil(t, parsed.To4())
		assert.False(t, parsed.IsLoopback())
	}
}
