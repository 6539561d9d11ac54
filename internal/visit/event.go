package visit

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/agentlens/internal/detect"
)

// Field caps applied to header-derived strings before they leave the proxy.
const (
	MaxAcceptLen    = 200
	MaxUserAgentLen = 500
	MaxGeoLen       = 64
)

// Unknown fills host and geo fields the request did not carry.
const Unknown = "unknown"

// TimestampFormat is the layout of Event.Timestamp.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Event is the record sent to a sink for one tracked request.
type Event struct {
	Timestamp string           `json:"ts"`
	Host      string           `json:"host"`
	Path      string           `json:"path"`
	Accept    string           `json:"accept"`
	UserAgent string           `json:"ua"`
	Country   string           `json:"country"`
	City      string           `json:"city"`
	AgentType detect.AgentKind `json:"agent_type"`
	IsAI      int              `json:"is_ai"`
}

// GeoHeaders names the request headers an edge platform uses for
// visitor location. Empty names disable the lookup.
type GeoHeaders struct {
	Country string `yaml:"country_header"`
	City    string `yaml:"city_header"`
}

// DefaultGeoHeaders matches the visitor location headers added by Cloudflare.
var DefaultGeoHeaders = GeoHeaders{
	Country: "CF-IPCountry",
	City:    "CF-IPCity",
}

// NewEvent builds the event for r. It only reads headers and the URL, so it
// is safe to call before the request body is forwarded.
func NewEvent(r *http.Request, v detect.Verdict, geo GeoHeaders, now time.Time) Event {
	return Event{
		Timestamp: now.UTC().Format(TimestampFormat),
		Host:      orUnknown(r.Host),
		Path:      r.URL.Path,
		Accept:    Truncate(r.Header.Get("Accept"), MaxAcceptLen),
		UserAgent: Truncate(r.Header.Get("User-Agent"), MaxUserAgentLen),
		Country:   orUnknown(Truncate(headerValue(r.Header, geo.Country), MaxGeoLen)),
		City:      orUnknown(Truncate(headerValue(r.Header, geo.City), MaxGeoLen)),
		AgentType: v.Kind,
		IsAI:      v.AIFlag(),
	}
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func headerValue(h http.Header, name string) string {
	if name == "" {
		return ""
	}
	return h.Get(name)
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
