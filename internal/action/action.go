// Package action defines the closed set of job actions, their typed
// configurations, and the executor that turns a job run into data points.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/flemzord/appcraft/internal/store"
)

// Kind names an action.
type Kind string

// Supported kinds.
const (
	KindLogEntry      Kind = "log_entry"
	KindFetchURL      Kind = "fetch_url"
	KindSendReminder  Kind = "send_reminder"
	KindAggregateData Kind = "aggregate_data"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindLogEntry, KindFetchURL, KindSendReminder, KindAggregateData}

// Decode errors.
var (
	ErrUnknownKind   = errors.New("action: unknown kind")
	ErrInvalidConfig = errors.New("action: invalid config")
)

// DefaultReminderText is stored when a reminder has no text.
const DefaultReminderText = "Reminder"

// Action is a decoded job action. The set of implementations is closed:
// adding one requires a new Visitor method, which every visitor must then
// implement.
type Action interface {
	Kind() Kind
	// TriggerKey is the data key whose writes run the job immediately,
	// or "" when the job only runs on its schedule.
	TriggerKey() string
	Validate() error
	Accept(v Visitor) error
}

// Visitor handles each action kind.
type Visitor interface {
	VisitLogEntry(a *LogEntry) error
	VisitFetchURL(a *FetchURL) error
	VisitSendReminder(a *SendReminder) error
	VisitAggregateData(a *AggregateData) error
}

// trigger carries the optional trigger key shared by every config.
type trigger struct {
	Trigger string `json:"triggerKey,omitempty"`
}

func (t trigger) TriggerKey() string { return t.Trigger }

func (t trigger) validate() error {
	if t.Trigger != "" && !store.ValidKey(t.Trigger) {
		return fmt.Errorf("%w: triggerKey %q is not a valid key", ErrInvalidConfig, t.Trigger)
	}
	return nil
}

// Field declares one entry of a log_entry skeleton.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// LogEntry writes a ready-to-edit record with zero-valued fields.
type LogEntry struct {
	trigger
	Fields    []Field `json:"fields,omitempty"`
	OutputKey string  `json:"outputKey,omitempty"`
}

// FetchURL fetches a public HTTPS URL and stores the (extracted) body.
type FetchURL struct {
	trigger
	URL       string `json:"url"`
	OutputKey string `json:"outputKey"`
	JSONPath  string `json:"jsonPath,omitempty"`
}

// SendReminder stores a reminder record.
type SendReminder struct {
	trigger
	Text      string `json:"text,omitempty"`
	OutputKey string `json:"outputKey,omitempty"`
}

// AggregateData stores a statistic over a trailing window of a key.
type AggregateData struct {
	trigger
	DataKey    string `json:"dataKey"`
	Operation  string `json:"operation"`
	OutputKey  string `json:"outputKey"`
	WindowDays int    `json:"windowDays,omitempty"`
}

func (*LogEntry) Kind() Kind      { return KindLogEntry }
func (*FetchURL) Kind() Kind      { return KindFetchURL }
func (*SendReminder) Kind() Kind  { return KindSendReminder }
func (*AggregateData) Kind() Kind { return KindAggregateData }

func (a *LogEntry) Accept(v Visitor) error      { return v.VisitLogEntry(a) }
func (a *FetchURL) Accept(v Visitor) error      { return v.VisitFetchURL(a) }
func (a *SendReminder) Accept(v Visitor) error  { return v.VisitSendReminder(a) }
func (a *AggregateData) Accept(v Visitor) error { return v.VisitAggregateData(a) }

// Validate implements Action.
func (a *LogEntry) Validate() error {
	for i, f := range a.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: fields[%d] has no name", ErrInvalidConfig, i)
		}
	}
	return a.trigger.validate()
}

// Validate implements Action.
func (a *FetchURL) Validate() error {
	if a.URL == "" {
		return fmt.Errorf("%w: fetch_url requires url", ErrInvalidConfig)
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "https" || u.Hostname() == "" {
		return fmt.Errorf("%w: url %q must be an https URL with a host", ErrInvalidConfig, a.URL)
	}
	if strings.Contains(u.Hostname(), "%") {
		return fmt.Errorf("%w: url %q has a zoned host", ErrInvalidConfig, a.URL)
	}
	if a.OutputKey == "" {
		return fmt.Errorf("%w: fetch_url requires outputKey", ErrInvalidConfig)
	}
	return a.trigger.validate()
}

// Validate implements Action.
func (a *SendReminder) Validate() error { return a.trigger.validate() }

// Validate implements Action.
func (a *AggregateData) Validate() error {
	var missing []string
	if a.DataKey == "" {
		missing = append(missing, "dataKey")
	}
	if a.Operation == "" {
		missing = append(missing, "operation")
	}
	if a.OutputKey == "" {
		missing = append(missing, "outputKey")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: aggregate_data requires %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if !store.ValidKey(a.DataKey) {
		return fmt.Errorf("%w: dataKey %q is not a valid key", ErrInvalidConfig, a.DataKey)
	}
	return a.trigger.validate()
}

// Decode parses raw as the configuration of kind. Unsupported kinds
// return ErrUnknownKind; malformed JSON returns ErrInvalidConfig. Decode
// does not call Validate.
func Decode(kind string, raw json.RawMessage) (Action, error) {
	var a Action
	switch Kind(kind) {
	case KindLogEntry:
		a = &LogEntry{}
	case KindFetchURL:
		a = &FetchURL{}
	case KindSendReminder:
		a = &SendReminder{}
	case KindAggregateData:
		a = &AggregateData{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return a, nil
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, kind, err)
	}
	return a, nil
}

// Parse decodes and validates.
func Parse(kind string, raw json.RawMessage) (Action, error) {
	a, err := Decode(kind, raw)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// ResolveKey returns candidate when it is a valid data key, otherwise a
// key derived from the job: job_<id>_<suffix>.
func ResolveKey(candidate string, jobID int64, suffix string) string {
	if store.ValidKey(candidate) {
		return candidate
	}
	return fmt.Sprintf("job_%d_%s", jobID, suffix)
}
