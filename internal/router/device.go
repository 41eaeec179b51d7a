package router

import (
	"strings"
	"time"

	"github.com/nugget/nokiawifi/internal/nokia"
)

// DeviceInfo is the tracked state of one client device. The zero
// IPAddress and LastActivity mean "unknown".
type DeviceInfo struct {
	MAC          string
	Name         string
	IPAddress    string
	ConnectedTo  string
	LastActivity time.Time
	Connected    bool
}

// Update applies one poll result. dev is the router's record for this
// MAC, or nil when the MAC was missing from the poll.
//
// A present device is connected, with IP and last activity refreshed.
// Its name is only taken from the router if none was recorded before.
// A missing device that was connected stays connected while the last
// activity is younger than considerHome; once that lapses it is marked
// disconnected and its IP is dropped.
func (d *DeviceInfo) Update(dev *nokia.Device, considerHome time.Duration, now time.Time) {
	if dev != nil {
		if d.Name == "" {
			d.Name = dev.Name
			if d.Name == "" {
				d.Name = strings.ReplaceAll(d.MAC, ":", "_")
			}
		}
		d.IPAddress = dev.IP
		d.ConnectedTo = dev.ConnectedTo
		d.LastActivity = now
		d.Connected = true
		return
	}

	if !d.Connected {
		return
	}
	d.Connected = !d.LastActivity.IsZero() && now.Sub(d.LastActivity) < considerHome
	if !d.Connected {
		d.IPAddress = ""
	}
}

// FormatMAC normalizes a MAC address to lower-case, colon-separated
// form. Colon, dash, dot (Cisco) and bare 12-digit forms are accepted;
// anything else is returned unchanged.
func FormatMAC(mac string) string {
	s := strings.ToLower(strings.TrimSpace(mac))

	switch len(s) {
	case 17:
		if s[2] == ':' || s[2] == '-' {
			return strings.ReplaceAll(s, "-", ":")
		}
	case 14:
		if s[4] == '.' && s[9] == '.' {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	if len(s) != 12 || !isHex(s) {
		return mac
	}

	var sb strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(s[i : i+2])
	}
	return sb.String()
}

func isHex(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
