package models

import "time"

// Invocation records one tool or API operation for the history store.
type Invocation struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}
