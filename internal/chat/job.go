package chat

import "context"

// SearchJob is the unit handed to a Dispatcher: one outbound search call for
// one ServiceResponse.
type SearchJob struct {
	JobID             string `json:"job_id"`
	ServiceResponseID uint64 `json:"service_response_id"`
	Attempt           int    `json:"attempt"`
}

// Dispatcher delivers search jobs to whatever performs the backend call.
// Dispatch must not block on the backend itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, job SearchJob) error
}
