package hub

import (
	"github.com/goccy/go-json"
)

// Message types crossing the hub/client boundary. Field names on the wire
// structs are load-bearing: the dashboard frontend decodes them by name.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSyncProgress = "sync_progress"
	TypeSyncComplete = "sync_complete"
	TypeSyncError    = "sync_error"
)

// Command is a client -> hub message.
type Command struct {
	Type       string `json:"type"`
	AccountKey string `json:"accountKey"`
}

// Event is a hub -> client message. The implementations form a closed set;
// an event can only be one of progress, complete, or error, so a complete
// event cannot carry a progress counter by construction.
type Event interface {
	AccountKey() string
	wire() interface{}
}

type ProgressEvent struct {
	Key     string
	Current int
	Total   int
	MatchID string
}

type CompleteEvent struct {
	Key         string
	TotalSynced int
}

type ErrorEvent struct {
	Key     string
	Message string
}

func (e ProgressEvent) AccountKey() string { return e.Key }
func (e CompleteEvent) AccountKey() string { return e.Key }
func (e ErrorEvent) AccountKey() string    { return e.Key }

type progressWire struct {
	Type       string `json:"type"`
	AccountKey string `json:"accountKey"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Total      int    `json:"total"`
	MatchID    string `json:"matchId"`
}

type completeWire struct {
	Type        string `json:"type"`
	AccountKey  string `json:"accountKey"`
	Status      string `json:"status"`
	TotalSynced int    `json:"totalSynced"`
}

type errorWire struct {
	Type       string `json:"type"`
	AccountKey string `json:"accountKey"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

func (e ProgressEvent) wire() interface{} {
	return progressWire{
		Type:       TypeSyncProgress,
		AccountKey: e.Key,
		Status:     "syncing",
		Progress:   e.Current,
		Total:      e.Total,
		MatchID:    e.MatchID,
	}
}

func (e CompleteEvent) wire() interface{} {
	return completeWire{
		Type:        TypeSyncComplete,
		AccountKey:  e.Key,
		Status:      "completed",
		TotalSynced: e.TotalSynced,
	}
}

func (e ErrorEvent) wire() interface{} {
	return errorWire{
		Type:       TypeSyncError,
		AccountKey: e.Key,
		Status:     "failed",
		Error:      e.Message,
	}
}

// MarshalEvent converts an event to its wire JSON form.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e.wire())
}
