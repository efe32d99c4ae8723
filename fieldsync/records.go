package fieldsync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Typed mutation envelopes the field application enqueues. The engine carries
// them as opaque payload maps; these types exist so call sites construct
// consistent shapes and so created entities carry client-assigned IDs,
// letting the server deduplicate a retried create.

// DailyLog is one day's site report.
type DailyLog struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Date      string    `json:"date"`
	Weather   string    `json:"weather,omitempty"`
	Crew      []string  `json:"crew,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewDailyLog creates a daily log with a client-assigned ID.
func NewDailyLog(projectID, date string) *DailyLog {
	return &DailyLog{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Date:      date,
		UpdatedAt: time.Now().UTC(),
	}
}

// TimeEntry records hours worked by one crew member.
type TimeEntry struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	WorkerID  string    `json:"workerId"`
	Date      string    `json:"date"`
	Hours     float64   `json:"hours"`
	CostCode  string    `json:"costCode,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTimeEntry creates a time entry with a client-assigned ID.
func NewTimeEntry(projectID, workerID, date string, hours float64) *TimeEntry {
	return &TimeEntry{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		WorkerID:  workerID,
		Date:      date,
		Hours:     hours,
		UpdatedAt: time.Now().UTC(),
	}
}

// Photo references a site photo captured offline. The blob itself is
// uploaded by the remote API from LocalPath; the queue carries metadata only.
type Photo struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	LogID     string    `json:"logId,omitempty"`
	LocalPath string    `json:"localPath"`
	Caption   string    `json:"caption,omitempty"`
	TakenAt   time.Time `json:"takenAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewPhoto creates a photo record with a client-assigned ID.
func NewPhoto(projectID, localPath string, takenAt time.Time) *Photo {
	return &Photo{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		LocalPath: localPath,
		TakenAt:   takenAt,
		UpdatedAt: time.Now().UTC(),
	}
}

// Payload converts a typed record into the opaque map the queue carries.
func Payload(record any) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
