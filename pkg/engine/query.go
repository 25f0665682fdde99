package engine

import (
	"context"
	"time"

	"github.com/cuemby/cascade/pkg/codec"
	"github.com/cuemby/cascade/pkg/types"
)

// RootListItem summarizes one root pipeline for the status UI.
type RootListItem struct {
	PipelineID  string `json:"pipelineId"`
	ClassPath   string `json:"classPath"`
	Status      string `json:"status"`
	StartTimeMs int64  `json:"startTimeMs,omitempty"`
	EndTimeMs   int64  `json:"endTimeMs,omitempty"`
}

// RootListResult is one page of root pipelines.
type RootListResult struct {
	Pipelines []RootListItem `json:"pipelines"`
	Cursor    string         `json:"cursor,omitempty"`
}

// RootList returns root pipelines, optionally filtered by class path.
func (e *Engine) RootList(ctx context.Context, classPath, cursor string, count int) (*RootListResult, error) {
	if count <= 0 {
		count = 50
	}
	records, next, err := e.store.ListRootPipelines(classPath, cursor, count)
	if err != nil {
		return nil, err
	}
	result := &RootListResult{Cursor: next}
	for _, record := range records {
		result.Pipelines = append(result.Pipelines, RootListItem{
			PipelineID:  record.ID,
			ClassPath:   record.ClassPath,
			Status:      string(record.Status),
			StartTimeMs: timeMs(record.StartTime),
			EndTimeMs:   timeMs(record.FinalizedTime),
		})
	}
	return result, nil
}

// PipelineInfo is the status-tree view of one pipeline.
type PipelineInfo struct {
	ClassPath        string            `json:"classPath"`
	Status           string            `json:"status"`
	Args             []any             `json:"args"`
	Kwargs           map[string]any    `json:"kwargs"`
	Outputs          map[string]string `json:"outputs"`
	Children         []string          `json:"children"`
	QueueName        string            `json:"queueName,omitempty"`
	AfterSlotKeys    []string          `json:"afterSlotKeys"`
	CurrentAttempt   int               `json:"currentAttempt"`
	MaxAttempts      int               `json:"maxAttempts"`
	BackoffSeconds   float64           `json:"backoffSeconds"`
	BackoffFactor    float64           `json:"backoffFactor"`
	StartTimeMs      int64             `json:"startTimeMs,omitempty"`
	EndTimeMs        int64             `json:"endTimeMs,omitempty"`
	LastRetryMessage string            `json:"lastRetryMessage,omitempty"`
	AbortMessage     string            `json:"abortMessage,omitempty"`
	StatusMessage    string            `json:"statusMessage,omitempty"`
	StatusConsoleURL string            `json:"statusConsoleUrl,omitempty"`
	StatusLinks      map[string]string `json:"statusLinks,omitempty"`
	StatusTimeMs     int64             `json:"statusTimeMs,omitempty"`
}

// SlotInfo is the status-tree view of one slot.
type SlotInfo struct {
	Status           string `json:"status"`
	FillTimeMs       int64  `json:"fillTimeMs,omitempty"`
	Value            any    `json:"value,omitempty"`
	FillerPipelineID string `json:"fillerPipelineId,omitempty"`
}

// StatusTree is the full state of one workflow.
type StatusTree struct {
	RootPipelineID string                   `json:"rootPipelineId"`
	Pipelines      map[string]*PipelineInfo `json:"pipelines"`
	Slots          map[string]*SlotInfo     `json:"slots"`
}

// Tree builds the status tree for a workflow. A non-root id resolves to
// its root first. Pipelines whose parameter record cannot be decoded, or
// whose class path is not registered, are rendered as error stubs rather
// than failing the whole tree.
func (e *Engine) Tree(ctx context.Context, pipelineID string) (*StatusTree, error) {
	record, err := e.store.GetPipeline(pipelineID)
	if err != nil {
		return nil, err
	}
	rootID := record.RootPipelineID

	pipelines, err := e.store.ListPipelinesByRoot(rootID)
	if err != nil {
		return nil, err
	}
	slots, err := e.store.ListSlotsByRoot(rootID)
	if err != nil {
		return nil, err
	}
	statuses, err := e.store.ListStatusByRoot(rootID)
	if err != nil {
		return nil, err
	}
	statusByPipeline := make(map[string]*types.StatusRecord, len(statuses))
	for _, status := range statuses {
		statusByPipeline[status.PipelineID] = status
	}

	tree := &StatusTree{
		RootPipelineID: rootID,
		Pipelines:      make(map[string]*PipelineInfo, len(pipelines)),
		Slots:          make(map[string]*SlotInfo, len(slots)),
	}

	for _, p := range pipelines {
		tree.Pipelines[p.ID] = e.pipelineInfo(ctx, p, statusByPipeline[p.ID])
	}
	for _, slot := range slots {
		info := &SlotInfo{
			Status:           string(slot.Status),
			FillTimeMs:       timeMs(slot.FillTime),
			FillerPipelineID: slot.Filler,
		}
		if slot.Status == types.SlotFilled {
			value, err := codec.DecodePayload(ctx, slot.Value, e.blobs)
			if err == nil {
				wrapped, werr := codec.Wrap(value)
				if werr == nil {
					info.Value = wrapped
				}
			}
		}
		tree.Slots[slot.ID] = info
	}
	return tree, nil
}

func (e *Engine) pipelineInfo(ctx context.Context, p *types.PipelineRecord, status *types.StatusRecord) *PipelineInfo {
	info := &PipelineInfo{
		ClassPath:        p.ClassPath,
		Status:           string(p.Status),
		Children:         append([]string(nil), p.FannedOut...),
		CurrentAttempt:   p.CurrentAttempt,
		MaxAttempts:      p.MaxAttempts,
		StartTimeMs:      timeMs(p.StartTime),
		EndTimeMs:        timeMs(p.FinalizedTime),
		LastRetryMessage: p.RetryMessage,
	}
	if p.IsRootPipeline {
		info.AbortMessage = p.AbortMessage
	}

	params, err := e.loadParams(ctx, p)
	if err != nil || !e.registry.Resolvable(p.ClassPath) {
		// Render a stub rather than breaking the tree.
		info.ClassPath = ""
		info.Status = "error"
		return info
	}
	info.QueueName = params.QueueName
	info.Outputs = params.OutputSlots
	info.AfterSlotKeys = append([]string(nil), params.AfterAll...)
	info.BackoffSeconds = params.BackoffSeconds
	info.BackoffFactor = params.BackoffFactor
	for _, arg := range params.Args {
		info.Args = append(info.Args, argView(arg))
	}
	info.Kwargs = make(map[string]any, len(params.Kwargs))
	for name, arg := range params.Kwargs {
		info.Kwargs[name] = argView(arg)
	}

	if status != nil {
		info.StatusMessage = status.Message
		info.StatusConsoleURL = status.ConsoleURL
		info.StatusTimeMs = timeMs(status.StatusTime)
		if len(status.LinkNames) == len(status.LinkURLs) && len(status.LinkNames) > 0 {
			info.StatusLinks = make(map[string]string, len(status.LinkNames))
			for i, name := range status.LinkNames {
				info.StatusLinks[name] = status.LinkURLs[i]
			}
		}
	}
	return info
}

// argView renders one parameter leaf for the UI.
func argView(spec types.ArgSpec) any {
	if spec.Type == types.ArgSlot {
		return map[string]any{"type": types.ArgSlot, "slotKey": spec.SlotKey}
	}
	return map[string]any{"type": types.ArgValue, "value": spec.Value}
}

// StageNames returns every registered class path, sorted.
func (e *Engine) StageNames() []string {
	return e.registry.Names()
}

func timeMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
