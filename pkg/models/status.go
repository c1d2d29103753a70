package models

// CaptureStatus represents the processing status of a claimed URL in the manifest
type CaptureStatus string

const (
	CaptureStatusUnset    CaptureStatus = ""          // Zero value = unset/unknown
	CaptureStatusPending  CaptureStatus = "pending"   // URL claimed but capture not finished
	CaptureStatusSuccess  CaptureStatus = "success"   // Snapshot captured and persisted
	CaptureStatusFailure  CaptureStatus = "failure"   // Render or persist failed
	CaptureStatusNotFound CaptureStatus = "not_found" // URL not in manifest
	CaptureStatusDBError  CaptureStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s CaptureStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s CaptureStatus) IsValid() bool {
	switch s {
	case CaptureStatusPending, CaptureStatusSuccess, CaptureStatusFailure:
		return true
	}
	return false
}
