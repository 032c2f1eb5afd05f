package queue

import (
	"fmt"
	"strings"
)

// BatchTask is the broker payload dispatching one batch job to the worker
// pool. Rows are loaded from the job store on consumption, so a redelivered
// task resumes whatever is still pending.
type BatchTask struct {
	BatchID       string `json:"batchId"`
	Owner         string `json:"owner"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (t BatchTask) Validate() error {
	if strings.TrimSpace(t.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(t.Owner) == "" {
		return fmt.Errorf("owner is required")
	}
	return nil
}
