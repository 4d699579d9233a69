// Package ident implements the device identification pipeline: it turns
// inbound HTTP, TFTP and DHCP identification events into device records,
// reconciling partial and conflicting identity observations, and decides
// when a device's remote synchronization state must be refreshed.
package ident

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
)

// RequestType discriminates the transport a request came from.
type RequestType string

const (
	RequestTypeHTTP RequestType = "http"
	RequestTypeTFTP RequestType = "tftp"
	RequestTypeDHCP RequestType = "dhcp"
)

// RequestTypes lists every supported request type.
var RequestTypes = []RequestType{RequestTypeHTTP, RequestTypeTFTP, RequestTypeDHCP}

var (
	// ErrInvalidRequestType is returned for requests carrying an unknown
	// or inconsistent request type.
	ErrInvalidRequestType = errors.New("invalid request type")

	// ErrMalformedProxyChain is returned when the client IP cannot be
	// resolved from the forwarded-for chain: the header is missing, the
	// trusted proxy count is zero, or the selected entry is empty.
	ErrMalformedProxyChain = errors.New("malformed proxy chain")
)

// HTTPRequest describes one HTTP identification event. The transport owns
// the value for the duration of one Process call; the pipeline never
// retains it.
type HTTPRequest struct {
	// Path is the requested URL path.
	Path string

	// ClientIP is the IP of the directly connected peer.
	ClientIP string

	// Header holds the request headers, used for proxy-chain resolution.
	Header http.Header

	// NumHTTPProxies is the number of trusted reverse proxies in front of
	// the server. When positive, the client IP is resolved from the
	// forwarded-for chain instead of the connection peer.
	NumHTTPProxies int

	// PrePath and PostPath are routing remnants; transports strip any
	// authentication key segment from them before handing the request
	// over, so Path is already the device-visible path.
	PrePath  []string
	PostPath []string
}

// TFTPRequest describes one TFTP read request.
type TFTPRequest struct {
	Filename string
	ClientIP string
	Port     int
}

// DHCPRequest describes one observed DHCP transaction. These are not
// served; they only update device records.
type DHCPRequest struct {
	// IP is the client address, in normalized format.
	IP string

	// MAC is the client hardware address, in normalized format.
	MAC string

	// Options maps DHCP option codes to their raw values.
	Options map[int][]byte
}

// Request is one identification event from a transport collaborator.
// Exactly one of HTTP, TFTP, DHCP is set, matching Type.
type Request struct {
	Type RequestType
	HTTP *HTTPRequest
	TFTP *TFTPRequest
	DHCP *DHCPRequest
}

// NewHTTPRequest wraps an HTTP identification event.
func NewHTTPRequest(req *HTTPRequest) *Request {
	return &Request{Type: RequestTypeHTTP, HTTP: req}
}

// NewTFTPRequest wraps a TFTP identification event.
func NewTFTPRequest(req *TFTPRequest) *Request {
	return &Request{Type: RequestTypeTFTP, TFTP: req}
}

// NewDHCPRequest wraps an observed DHCP transaction.
func NewDHCPRequest(req *DHCPRequest) *Request {
	return &Request{Type: RequestTypeDHCP, DHCP: req}
}

// IPFromRequest returns the client IP of the request. For HTTP requests
// behind trusted proxies the IP is resolved from the forwarded-for chain.
func IPFromRequest(req *Request) (string, error) {
	switch req.Type {
	case RequestTypeHTTP:
		if req.HTTP.NumHTTPProxies > 0 {
			return IPFromHTTPRequestWithProxies(req.HTTP, req.HTTP.NumHTTPProxies)
		}

		return req.HTTP.ClientIP, nil
	case RequestTypeTFTP:
		return req.TFTP.ClientIP, nil
	case RequestTypeDHCP:
		return req.DHCP.IP, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidRequestType, req.Type)
	}
}

// IPFromHTTPRequestWithProxies resolves the real client IP from the
// X-Forwarded-For chain. numProxies is 1-indexed from the right end of the
// chain; positions past the left end saturate to the leftmost entry.
func IPFromHTTPRequestWithProxies(req *HTTPRequest, numProxies int) (string, error) {
	header := req.Header.Get("X-Forwarded-For")
	if header == "" {
		return "", fmt.Errorf("%w: no X-Forwarded-For header", ErrMalformedProxyChain)
	}

	if numProxies <= 0 {
		return "", fmt.Errorf("%w: trusted proxy count must be positive", ErrMalformedProxyChain)
	}

	tokens := strings.Split(header, ",")

	index := len(tokens) - numProxies
	if index < 0 {
		index = 0
	}

	ip := strings.TrimSpace(tokens[index])
	if ip == "" {
		return "", fmt.Errorf("%w: empty entry in X-Forwarded-For header", ErrMalformedProxyChain)
	}

	return ip, nil
}

// FilenameFromRequest returns the base name of the requested file, or ""
// for request types without a filename.
func FilenameFromRequest(req *Request) string {
	var name string

	switch req.Type {
	case RequestTypeHTTP:
		name = req.HTTP.Path
	case RequestTypeTFTP:
		name = req.TFTP.Filename
	default:
		return ""
	}

	if name == "" {
		return ""
	}

	name = path.Base(name)
	if name == "/" || name == "." {
		return ""
	}

	return name
}
