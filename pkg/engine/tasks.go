package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/types"
)

// Task names are deterministic functions of the transition they drive so
// the queue de-duplicates re-enqueues. Attempt numbers participate where
// a transition legitimately recurs.

func runTaskName(pipelineID string, attempt int) string {
	return fmt.Sprintf("p-%s-run-a%d", pipelineID, attempt)
}

func finalizeTaskName(pipelineID string) string {
	return fmt.Sprintf("p-%s-finalize", pipelineID)
}

func abortTaskName(pipelineID string) string {
	return fmt.Sprintf("p-%s-abort", pipelineID)
}

func fanoutTaskName(parentID string) string {
	return fmt.Sprintf("p-%s-fanout", parentID)
}

func fanoutAbortTaskName(rootID string, batch int) string {
	return fmt.Sprintf("p-%s-fanout-abort-b%d", rootID, batch)
}

func outputContinuationName(slotID string, batch int) string {
	return fmt.Sprintf("s-%s-output-b%d", slotID, batch)
}

func cleanupTaskName(rootID string) string {
	return fmt.Sprintf("p-%s-cleanup", rootID)
}

func runTask(pipelineID string, attempt int, eta time.Time) *queue.Task {
	params := url.Values{}
	params.Set("pipeline_key", pipelineID)
	params.Set("purpose", string(types.PurposeStart))
	params.Set("attempt", strconv.Itoa(attempt))
	return &queue.Task{
		Name:   runTaskName(pipelineID, attempt),
		Path:   queue.PathRun,
		Params: params,
		ETA:    eta,
	}
}

func finalizeTask(pipelineID string) *queue.Task {
	params := url.Values{}
	params.Set("pipeline_key", pipelineID)
	params.Set("purpose", string(types.PurposeFinalize))
	return &queue.Task{
		Name:   finalizeTaskName(pipelineID),
		Path:   queue.PathFinalized,
		Params: params,
	}
}

func abortTask(pipelineID string) *queue.Task {
	params := url.Values{}
	params.Set("pipeline_key", pipelineID)
	params.Set("purpose", string(types.PurposeAbort))
	return &queue.Task{
		Name:   abortTaskName(pipelineID),
		Path:   queue.PathAbort,
		Params: params,
	}
}

// outputTask drives barrier notification for a filled slot. The initial
// task is unnamed (notification is idempotent); continuations are named
// by (slot, batch) so re-delivery never forks the scan.
func outputTask(slotID, cursor string, batch int) *queue.Task {
	params := url.Values{}
	params.Set("slot_key", slotID)
	name := ""
	if cursor != "" {
		params.Set("cursor", cursor)
		params.Set("batch", strconv.Itoa(batch))
		name = outputContinuationName(slotID, batch)
	}
	return &queue.Task{
		Name:   name,
		Path:   queue.PathOutput,
		Params: params,
	}
}

func fanoutTask(parentID string, childIndexes []int) *queue.Task {
	params := url.Values{}
	params.Set("parent_key", parentID)
	for _, index := range childIndexes {
		params.Add("child_indexes", strconv.Itoa(index))
	}
	return &queue.Task{
		Name:   fanoutTaskName(parentID),
		Path:   queue.PathFanout,
		Params: params,
	}
}

func fanoutAbortTask(rootID, cursor string, batch int) *queue.Task {
	params := url.Values{}
	params.Set("root_pipeline_key", rootID)
	if cursor != "" {
		params.Set("cursor", cursor)
		params.Set("batch", strconv.Itoa(batch))
	}
	return &queue.Task{
		Name:   fanoutAbortTaskName(rootID, batch),
		Path:   queue.PathFanoutAbort,
		Params: params,
	}
}

func cleanupTask(rootID string) *queue.Task {
	params := url.Values{}
	params.Set("root_pipeline_key", rootID)
	return &queue.Task{
		Name:   cleanupTaskName(rootID),
		Path:   queue.PathCleanup,
		Params: params,
	}
}

func callbackTask(pipelineID string, userParams url.Values, eta time.Time) *queue.Task {
	params := url.Values{}
	for key, values := range userParams {
		params[key] = append([]string(nil), values...)
	}
	params.Set("pipeline_id", pipelineID)
	return &queue.Task{
		Path:   queue.PathCallback,
		Params: params,
		ETA:    eta,
	}
}
