package mqtt

import (
	"fmt"
	"strings"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
)

// Identity is the device identity on the IoT hub.
type Identity struct {
	Host                  string
	DeviceID              string
	SharedAccessSignature string
}

// HostFromBrokerURL strips the scheme prefix and a trailing :port from a
// raw broker URL. "mqtts://hub.example.net:8883" gives "hub.example.net".
func HostFromBrokerURL(raw string) string {
	host := strings.TrimSpace(raw)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimRight(host, "/")
	if i := strings.LastIndex(host, ":"); i >= 0 && isDigits(host[i+1:]) {
		host = host[:i]
	}
	return host
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseConnectionString reads "HostName=...;DeviceId=...;SharedAccessSignature=...".
// Keys are matched case-insensitively; unknown keys are ignored. The SAS
// value may itself contain '=' characters.
func ParseConnectionString(s string) (Identity, error) {
	var id Identity
	for _, part := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "hostname":
			id.Host = value
		case "deviceid":
			id.DeviceID = value
		case "sharedaccesssignature":
			id.SharedAccessSignature = value
		}
	}
	if id.Host == "" || id.DeviceID == "" {
		return Identity{}, fmt.Errorf("%w: connection string needs HostName and DeviceId", ErrInvalidIdentity)
	}
	return id, nil
}

// IdentityFromConfig builds the identity from cfg. A connection string,
// when set, takes precedence over the individual fields.
func IdentityFromConfig(cfg config.MQTTConfig) (Identity, error) {
	if cfg.ConnectionString != "" {
		return ParseConnectionString(cfg.ConnectionString)
	}
	id := Identity{
		Host:                  HostFromBrokerURL(cfg.BrokerURL),
		DeviceID:              cfg.DeviceID,
		SharedAccessSignature: cfg.SharedAccessSignature,
	}
	if id.Host == "" || id.DeviceID == "" {
		return Identity{}, fmt.Errorf("%w: broker url and device id are required", ErrInvalidIdentity)
	}
	return id, nil
}

// ConnectionString returns "HostName=<host>;DeviceId=<id>;SharedAccessSignature=<sas>".
func (i Identity) ConnectionString() string {
	return "HostName=" + i.Host + ";DeviceId=" + i.DeviceID + ";SharedAccessSignature=" + i.SharedAccessSignature
}

// MachineCode returns the part of the device id after its last '-'.
// The whole id is returned when it has no '-'.
func (i Identity) MachineCode() string {
	return i.DeviceID[strings.LastIndex(i.DeviceID, "-")+1:]
}

// Username returns the MQTT username the hub expects.
func (i Identity) Username(apiVersion string) string {
	u := i.Host + "/" + i.DeviceID + "/"
	if apiVersion != "" {
		u += "?api-version=" + apiVersion
	}
	return u
}

// Topic substitutes {device_id} in template.
func (i Identity) Topic(template string) string {
	return strings.ReplaceAll(template, "{device_id}", i.DeviceID)
}
