package alert

import (
	"encoding/json"
	"net"
	"regexp"
)

// ObservableType classifies an extracted indicator.
type ObservableType string

const (
	ObservableIP       ObservableType = "ip"
	ObservableDomain   ObservableType = "domain"
	ObservableHashMD5  ObservableType = "hash_md5"
	ObservableHashSHA1 ObservableType = "hash_sha1"
	ObservableHash256  ObservableType = "hash_sha256"
	ObservableFilename ObservableType = "filename"
	ObservableUser     ObservableType = "user"
)

// Observable is an indicator extracted from an alert, enriched later by
// threat-intelligence sources.
type Observable struct {
	Type  ObservableType `json:"type"`
	Value string         `json:"value"`
}

// Key uniquely identifies an observable within an investigation.
func (o Observable) Key() string {
	return string(o.Type) + ":" + o.Value
}

var (
	md5Re    = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	sha1Re   = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	sha256Re = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

// rawFields are the alert payload fields scanned for indicators.
var rawFields = []struct {
	name string
	typ  ObservableType
}{
	{"srcip", ObservableIP},
	{"dstip", ObservableIP},
	{"hostname", ObservableDomain},
	{"url", ObservableDomain},
	{"md5", ObservableHashMD5},
	{"sha1", ObservableHashSHA1},
	{"sha256", ObservableHash256},
	{"filename", ObservableFilename},
	{"file", ObservableFilename},
	{"dstuser", ObservableUser},
	{"srcuser", ObservableUser},
}

// Observables extracts indicators from the alert. The source IP is always
// included; further indicators come from well-known fields in the raw
// payload. Results are deduplicated, order preserved.
func (a *Alert) Observables() []Observable {
	var out []Observable
	seen := make(map[string]bool)

	add := func(o Observable) {
		if o.Value == "" || seen[o.Key()] {
			return
		}
		seen[o.Key()] = true
		out = append(out, o)
	}

	if net.ParseIP(a.SourceIP) != nil {
		add(Observable{Type: ObservableIP, Value: a.SourceIP})
	}

	if len(a.Raw) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(a.Raw, &raw); err == nil {
			for _, f := range rawFields {
				v, ok := raw[f.name].(string)
				if !ok || v == "" {
					continue
				}
				add(classify(f.typ, v))
			}
		}
	}

	return out
}

// classify corrects the declared type when the value's shape says otherwise,
// e.g. a "hostname" field holding an IP address.
func classify(declared ObservableType, value string) Observable {
	switch {
	case net.ParseIP(value) != nil:
		return Observable{Type: ObservableIP, Value: value}
	case sha256Re.MatchString(value):
		return Observable{Type: ObservableHash256, Value: value}
	case sha1Re.MatchString(value):
		return Observable{Type: ObservableHashSHA1, Value: value}
	case md5Re.MatchString(value):
		return Observable{Type: ObservableHashMD5, Value: value}
	default:
		return Observable{Type: declared, Value: value}
	}
}
