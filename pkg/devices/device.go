// Package devices holds the device record model helpers and the device
// config tree used by the provisioning pipeline.
//
// A device record is a schemaless document with standardized keys:
//
//	mac, sn, ip, uuid, vendor, model, version -- observed identity
//	id         -- document id, assigned once at creation (mandatory)
//	plugin     -- id of the plugin managing this device
//	config     -- id of the device config assigned to this device
//	configured -- whether a plugin successfully configured it (mandatory)
//	added      -- provenance; "auto" when created by the identification
//	              pipeline without a manual registration
//	options    -- per-device option mapping
//
// remote_state_* keys cache device-observed runtime facts used to decide
// whether a resynchronization is needed.
package devices

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/carverauto/provisiond/pkg/docstore"
)

// Device is a device record document.
type Device = docstore.Document

// Info is a partial observation of device identity attributes.
type Info = map[string]any

// reconfKeys are the keys whose change requires regenerating the device's
// configuration files.
var reconfKeys = []string{"plugin", "config", "mac", "uuid", "vendor", "model", "version", "options"}

// Copy returns a deep copy of the device record.
func Copy(device Device) Device {
	if device == nil {
		return nil
	}

	out := make(Device, len(device))
	for k, v := range device {
		out[k] = copyValue(v)
	}

	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}

		return out
	default:
		return v
	}
}

// Equal reports whether two device records hold the same content.
func Equal(a, b Device) bool {
	return deepEqualValue(map[string]any(a), map[string]any(b))
}

func deepEqualValue(a, b any) bool {
	switch ta := a.(type) {
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}

		for k, va := range ta {
			vb, ok := tb[k]
			if !ok || !deepEqualValue(va, vb) {
				return false
			}
		}

		return true
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}

		for i := range ta {
			if !deepEqualValue(ta[i], tb[i]) {
				return false
			}
		}

		return true
	default:
		return a == b
	}
}

// NeedsReconfiguration reports whether the differences between the old and
// new device records require regenerating configuration files.
func NeedsReconfiguration(oldDevice, newDevice Device) bool {
	for _, key := range reconfKeys {
		if !deepEqualValue(oldDevice[key], newDevice[key]) {
			return true
		}
	}

	return false
}

var (
	macRegexp = regexp.MustCompile(`^[0-9a-f]{2}(?::[0-9a-f]{2}){5}$`)
	ipRegexp  = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)
)

// NormalizeMAC converts a MAC address to the normalized form: lowercase,
// colon-separated, no leading-zero stripping.
func NormalizeMAC(mac string) (string, error) {
	clean := strings.ToLower(strings.NewReplacer("-", ":", ".", ":").Replace(strings.TrimSpace(mac)))

	tokens := strings.Split(clean, ":")
	if len(tokens) == 6 {
		for i, token := range tokens {
			switch len(token) {
			case 1:
				tokens[i] = "0" + token
			case 2:
			default:
				return "", fmt.Errorf("invalid MAC address: %s", mac)
			}
		}

		clean = strings.Join(tokens, ":")
	} else if len(tokens) == 1 && len(clean) == 12 {
		// bare hex form, e.g. 001122aabbcc
		parts := make([]string, 6)
		for i := range parts {
			parts[i] = clean[i*2 : i*2+2]
		}

		clean = strings.Join(parts, ":")
	}

	if !macRegexp.MatchString(clean) {
		return "", fmt.Errorf("invalid MAC address: %s", mac)
	}

	return clean, nil
}

// IsNormedMAC reports whether mac is already in normalized form.
func IsNormedMAC(mac string) bool {
	return macRegexp.MatchString(mac)
}

// IsNormedIP reports whether ip is a normalized dotted quad.
func IsNormedIP(ip string) bool {
	if !ipRegexp.MatchString(ip) {
		return false
	}

	for _, token := range strings.Split(ip, ".") {
		if len(token) > 1 && token[0] == '0' {
			return false
		}

		n := 0
		for _, c := range token {
			n = n*10 + int(c-'0')
		}

		if n > 255 {
			return false
		}
	}

	return true
}
