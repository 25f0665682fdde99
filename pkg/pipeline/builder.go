package pipeline

import (
	"github.com/cuemby/cascade/pkg/types"
	"github.com/google/uuid"
)

// ChildSpec is one child stage collected during a generator drain. The
// engine persists the whole set in a single transaction.
type ChildSpec struct {
	PipelineID string
	Call       StageCall
	Future     *Future
	AfterAll   []string
	Params     *types.ParamsRecord
}

// BlockingSlots returns the slot keys the child's START barrier blocks
// on. Only valid after the builder is finalized.
func (c *ChildSpec) BlockingSlots() []string {
	return c.Params.SlotRefs()
}

// Builder collects the child graph a generator produces. Yield order is
// preserved; the After and InOrder scopes add START dependencies to the
// children yielded inside them. All state is local to one drain: the
// builder is discarded after the child graph commits.
type Builder struct {
	registry *Registry

	children   []*ChildSpec
	afterStack [][]string

	inOrder     bool
	inOrderPrev string

	err error
}

// NewBuilder creates a builder resolving stage classes from registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

// Yield appends a child stage and returns its future so later yields can
// depend on its outputs. The first authoring error poisons the builder;
// all later yields fail with it.
func (b *Builder) Yield(call StageCall) (*Future, error) {
	if b.err != nil {
		return nil, b.err
	}

	outputNames, err := b.registry.OutputNamesOf(call.ClassPath)
	if err != nil {
		b.err = err
		return nil, err
	}
	future, err := NewFuture(outputNames)
	if err != nil {
		b.err = err
		return nil, err
	}

	var afterAll []string
	for _, scope := range b.afterStack {
		afterAll = append(afterAll, scope...)
	}
	if b.inOrder {
		if b.inOrderPrev != "" {
			afterAll = append(afterAll, b.inOrderPrev)
		}
		b.inOrderPrev = future.Default().Key()
	}

	b.children = append(b.children, &ChildSpec{
		PipelineID: uuid.NewString(),
		Call:       call,
		Future:     future,
		AfterAll:   afterAll,
	})
	return future, nil
}

// After runs fn with the default slots of the given futures added to the
// START dependencies of every child yielded inside. Scopes nest and
// accumulate.
func (b *Builder) After(futures []*Future, fn func()) {
	scope := make([]string, 0, len(futures))
	for _, future := range futures {
		scope = append(scope, future.Default().Key())
	}
	b.afterStack = append(b.afterStack, scope)
	defer func() {
		b.afterStack = b.afterStack[:len(b.afterStack)-1]
	}()
	fn()
}

// InOrder runs fn with each yielded child depending on the previously
// yielded child's default slot, producing a sequential chain. Nesting
// InOrder inside another InOrder is an authoring error.
func (b *Builder) InOrder(fn func()) {
	if b.inOrder {
		b.err = Setupf("InOrder cannot be nested inside another InOrder")
		return
	}
	b.inOrder = true
	b.inOrderPrev = ""
	defer func() {
		b.inOrder = false
		b.inOrderPrev = ""
	}()
	fn()
}

// Err returns the first authoring error recorded during the drain.
func (b *Builder) Err() error {
	return b.err
}

// Children returns the collected children in yield order.
func (b *Builder) Children() []*ChildSpec {
	return b.children
}

// Finalize completes the drain: the last yielded child inherits the
// parent's output slots, and every child's parameter record is built.
// Called once, after the generator's Generate has returned.
func (b *Builder) Finalize(parentOutputs map[string]string, retry RetryOptions, queueName, basePath string) ([]*ChildSpec, error) {
	if b.err != nil {
		return nil, b.err
	}

	if len(b.children) > 0 {
		last := b.children[len(b.children)-1]
		if err := last.Future.Inherit(parentOutputs); err != nil {
			return nil, err
		}
	}

	for _, child := range b.children {
		params, err := BuildParams(child.Call, child.Future, child.AfterAll, retry, queueName, basePath)
		if err != nil {
			return nil, err
		}
		child.Params = params
	}
	return b.children, nil
}
