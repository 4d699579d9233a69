package ident

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPFromRequest(t *testing.T) {
	ip, err := IPFromRequest(httpRequest("/cfg.xml", "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip)

	ip, err = IPFromRequest(NewTFTPRequest(&TFTPRequest{Filename: "cfg", ClientIP: "10.0.0.2"}))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip)

	ip, err = IPFromRequest(NewDHCPRequest(&DHCPRequest{IP: "10.0.0.3"}))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", ip)

	_, err = IPFromRequest(&Request{Type: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidRequestType)
}

func proxiedRequest(forwardedFor string) *HTTPRequest {
	header := make(http.Header)
	if forwardedFor != "" {
		header.Set("X-Forwarded-For", forwardedFor)
	}

	return &HTTPRequest{ClientIP: "127.0.0.1", Header: header}
}

func TestIPFromHTTPRequestWithProxies(t *testing.T) {
	const chain = "proxied_client_ip, proxied_proxy_ip"

	tests := []struct {
		name       string
		header     string
		numProxies int
		want       string
		wantErr    bool
	}{
		{"last proxy", chain, 1, "proxied_proxy_ip", false},
		{"client behind one proxy", chain, 2, "proxied_client_ip", false},
		{"count past chain start saturates", chain, 3, "proxied_client_ip", false},
		{"zero proxies", chain, 0, "", true},
		{"missing header", "", 1, "", true},
		{"empty entry", "a,,c", 2, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := IPFromHTTPRequestWithProxies(proxiedRequest(tt.header), tt.numProxies)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedProxyChain)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, ip)
		})
	}
}

func TestIPFromRequestUsesProxyChain(t *testing.T) {
	req := proxiedRequest("real_client, proxy")
	req.NumHTTPProxies = 2

	ip, err := IPFromRequest(NewHTTPRequest(req))
	require.NoError(t, err)
	assert.Equal(t, "real_client", ip)
}

func TestFilenameFromRequest(t *testing.T) {
	assert.Equal(t, "cfg.xml", FilenameFromRequest(httpRequest("/provisioning/cfg.xml", "")))
	assert.Equal(t, "cfg.xml", FilenameFromRequest(httpRequest("cfg.xml", "")))
	assert.Equal(t, "", FilenameFromRequest(httpRequest("", "")))
	assert.Equal(t, "", FilenameFromRequest(httpRequest("/", "")))

	assert.Equal(t, "0011aabbccdd.cfg", FilenameFromRequest(NewTFTPRequest(&TFTPRequest{Filename: "Config/0011aabbccdd.cfg"})))

	// DHCP requests have no filename
	assert.Equal(t, "", FilenameFromRequest(NewDHCPRequest(&DHCPRequest{IP: "10.0.0.1"})))
}
