package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/c360/configstore/errors"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?|tls)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`(?:^|\s)/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// State is a health level.
type State string

// Health levels, from best to worst.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the health of a component or of the whole store.
type Status struct {
	Component   string         `json:"component"`
	Healthy     bool           `json:"healthy"`
	State       State          `json:"status"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	SubStatuses []Status       `json:"sub_statuses,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// WithDetail returns a copy of s with key set in its details.
func (s Status) WithDetail(key string, value any) Status {
	details := make(map[string]any, len(s.Details)+1)
	for k, v := range s.Details {
		details[k] = v
	}
	details[key] = value
	s.Details = details
	return s
}

// WithSubStatus returns a copy of s with sub appended.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// FromError derives a status from the last error of component. A change feed
// that gave up leaves cached data servable, so it degrades the component;
// a lost connection makes it unhealthy. The message is sanitized.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	msg := sanitizeErrorMessage(err.Error())
	switch errors.KindOf(err) {
	case errors.KindConnection:
		return NewUnhealthy(component, msg)
	case errors.KindChangeFeedFatal:
		return NewDegraded(component, "change feed stopped, cached data may be stale: "+msg)
	default:
		return NewDegraded(component, msg)
	}
}

// sanitizeErrorMessage strips addresses, paths and credentials from an error
// message before it is exposed on the health endpoint.
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}
	out := urlRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllStringFunc(out, func(m string) string {
		if strings.HasPrefix(m, " ") {
			return " [PATH]"
		}
		return "[PATH]"
	})
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")
	return credentialRegex.ReplaceAllString(out, "[REDACTED]")
}
