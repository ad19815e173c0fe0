package models

// Progress is the transient, process-local state of a generation run, read by
// the polling endpoint. It is never persisted.
type Progress struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// NoActiveProgress is returned when the user has no generation run on record.
func NoActiveProgress() Progress {
	return Progress{Current: 0, Total: 0, Status: "No active generation", Progress: 0}
}
