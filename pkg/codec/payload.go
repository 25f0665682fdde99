package codec

import (
	"context"
	"fmt"

	"github.com/cuemby/cascade/pkg/blob"
)

// DefaultInlineSize is the largest encoded payload stored inline on a
// record. Larger payloads are offloaded to the blob store, leaving
// headroom under typical store entity-size caps.
const DefaultInlineSize = 1 << 20

// Payload stores an encoded value either inline or as a blob handle.
// Exactly one of the two fields is set.
type Payload struct {
	Text *string `json:"text,omitempty"`
	Blob *string `json:"blob,omitempty"`
}

// Inline reports whether the payload carries its text inline.
func (p Payload) Inline() bool {
	return p.Text != nil
}

// Empty reports whether neither field is set.
func (p Payload) Empty() bool {
	return p.Text == nil && p.Blob == nil
}

// NewPayload stores encoded text inline, or in the blob store when it
// exceeds the threshold. A threshold of zero means DefaultInlineSize.
func NewPayload(ctx context.Context, text string, store blob.Store, threshold int) (Payload, error) {
	if threshold <= 0 {
		threshold = DefaultInlineSize
	}
	if len(text) <= threshold {
		return Payload{Text: &text}, nil
	}
	if store == nil {
		return Payload{}, fmt.Errorf("payload of %d bytes exceeds inline threshold and no blob store is configured", len(text))
	}
	handle, err := store.Write(ctx, []byte(text))
	if err != nil {
		return Payload{}, fmt.Errorf("failed to offload payload: %w", err)
	}
	return Payload{Blob: &handle}, nil
}

// PayloadText reads a payload's encoded text back, dereferencing the
// blob store when the payload was offloaded.
func PayloadText(ctx context.Context, p Payload, store blob.Store) (string, error) {
	if p.Text != nil {
		return *p.Text, nil
	}
	if p.Blob == nil {
		return "", fmt.Errorf("payload has neither inline text nor a blob handle")
	}
	if store == nil {
		return "", fmt.Errorf("payload is offloaded and no blob store is configured")
	}
	data, err := store.Read(ctx, *p.Blob)
	if err != nil {
		return "", fmt.Errorf("failed to read offloaded payload: %w", err)
	}
	return string(data), nil
}

// EncodePayload encodes a value and stores it inline or offloaded.
func EncodePayload(ctx context.Context, v any, store blob.Store, threshold int) (Payload, error) {
	text, err := Encode(v)
	if err != nil {
		return Payload{}, err
	}
	return NewPayload(ctx, text, store, threshold)
}

// DecodePayload reads a payload back into its original value.
func DecodePayload(ctx context.Context, p Payload, store blob.Store) (any, error) {
	text, err := PayloadText(ctx, p, store)
	if err != nil {
		return nil, err
	}
	return Decode(text)
}
