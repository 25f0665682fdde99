package pipeline

import (
	"sort"

	"github.com/cuemby/cascade/pkg/codec"
	"github.com/cuemby/cascade/pkg/types"
)

// wrapArg converts one stage-call argument into a parameter-record leaf.
// Slots and futures become slot references; everything else is encoded
// immediately so bad values fail at the producing stage.
func wrapArg(v any) (types.ArgSpec, error) {
	switch arg := v.(type) {
	case *Slot:
		return types.ArgSpec{Type: types.ArgSlot, SlotKey: arg.Key()}, nil
	case *Future:
		return types.ArgSpec{Type: types.ArgSlot, SlotKey: arg.Default().Key()}, nil
	}
	wrapped, err := codec.Wrap(v)
	if err != nil {
		return types.ArgSpec{}, &SerializationError{Err: err}
	}
	return types.ArgSpec{Type: types.ArgValue, Value: wrapped}, nil
}

// BuildParams serializes a stage call into its parameter record. The
// future supplies the output-slot mapping; afterAll lists additional
// START dependencies beyond those referenced by the arguments.
func BuildParams(call StageCall, future *Future, afterAll []string, retry RetryOptions, queueName, basePath string) (*types.ParamsRecord, error) {
	args := make([]types.ArgSpec, 0, len(call.Args))
	for _, v := range call.Args {
		spec, err := wrapArg(v)
		if err != nil {
			return nil, err
		}
		args = append(args, spec)
	}

	kwargs := make(map[string]types.ArgSpec, len(call.Kwargs))
	names := make([]string, 0, len(call.Kwargs))
	for name := range call.Kwargs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec, err := wrapArg(call.Kwargs[name])
		if err != nil {
			return nil, err
		}
		kwargs[name] = spec
	}

	if call.Retry != nil {
		retry = call.Retry.Merged(retry)
	}

	return &types.ParamsRecord{
		ClassPath:      call.ClassPath,
		Args:           args,
		Kwargs:         kwargs,
		OutputSlots:    future.OutputKeys(),
		AfterAll:       append([]string(nil), afterAll...),
		QueueName:      queueName,
		BasePath:       basePath,
		Target:         call.Target,
		MaxAttempts:    retry.MaxAttempts,
		BackoffSeconds: retry.BackoffSeconds,
		BackoffFactor:  retry.BackoffFactor,
	}, nil
}
