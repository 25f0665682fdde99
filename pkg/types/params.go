package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Argument leaf kinds inside a serialized parameter record
const (
	ArgValue = "value"
	ArgSlot  = "slot"
)

// ArgSpec is one leaf of a parameter record: either an immediate value
// (already in codec wire form) or a reference to a slot to dereference
// at run time.
type ArgSpec struct {
	Type    string `json:"type"`
	Value   any    `json:"value,omitempty"`
	SlotKey string `json:"slot_key,omitempty"`
}

// ParamsRecord is the serialized parameter dictionary persisted on every
// pipeline record. Slot references inside Args and Kwargs are collected
// into the stage's START barrier at fan-out time.
type ParamsRecord struct {
	ClassPath   string             `json:"class_path"`
	Args        []ArgSpec          `json:"args"`
	Kwargs      map[string]ArgSpec `json:"kwargs"`
	OutputSlots map[string]string  `json:"output_slots"`
	AfterAll    []string           `json:"after_all"`

	QueueName string `json:"queue_name,omitempty"`
	BasePath  string `json:"base_path,omitempty"`
	Target    string `json:"target,omitempty"`

	MaxAttempts    int     `json:"max_attempts"`
	BackoffSeconds float64 `json:"backoff_seconds"`
	BackoffFactor  float64 `json:"backoff_factor"`
	TaskRetry      bool    `json:"task_retry"`
}

// SlotRefs returns every slot key referenced by the args, kwargs and
// after_all list, deduplicated, in a stable order: positional args first,
// then kwargs in name order, then after_all.
func (p *ParamsRecord) SlotRefs() []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(key string) {
		if key != "" && !seen[key] {
			seen[key] = true
			refs = append(refs, key)
		}
	}
	for _, arg := range p.Args {
		if arg.Type == ArgSlot {
			add(arg.SlotKey)
		}
	}
	names := make([]string, 0, len(p.Kwargs))
	for name := range p.Kwargs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if arg := p.Kwargs[name]; arg.Type == ArgSlot {
			add(arg.SlotKey)
		}
	}
	for _, key := range p.AfterAll {
		add(key)
	}
	return refs
}

// EncodeParams serializes a parameter record for persistence.
func EncodeParams(p *ParamsRecord) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	return string(data), nil
}

// DecodeParams restores a parameter record. Numbers inside immediate
// argument values decode as json.Number so the codec can restore their
// original integer or float type.
func DecodeParams(text string) (*ParamsRecord, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var p ParamsRecord
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	return &p, nil
}
