package workflow

import (
	"fmt"
	"sync"

	"github.com/certflow/certflow/types"
)

// InputKind tags how a step's input is produced.
type InputKind string

const (
	// InputKindStatic sends a fixed payload.
	InputKindStatic InputKind = "static"
	// InputKindFunc calls an in-process function. Function inputs do not
	// survive serialization; use InputKindNamed for definitions that are
	// stored as files.
	InputKindFunc InputKind = "function"
	// InputKindNamed resolves a function registered on the engine's
	// input registry by name.
	InputKindNamed InputKind = "named"
)

// InputFunc shapes a step's input from the live execution context.
type InputFunc func(ec *ExecutionContext) any

// StepInput is a tagged input spec for a step.
type StepInput struct {
	Kind   InputKind `json:"kind" yaml:"kind"`
	Static any       `json:"static,omitempty" yaml:"static,omitempty"`
	Name   string    `json:"name,omitempty" yaml:"name,omitempty"`

	fn InputFunc
}

// StaticInput builds a static input spec.
func StaticInput(value any) *StepInput {
	return &StepInput{Kind: InputKindStatic, Static: value}
}

// FuncInput builds a function input spec.
func FuncInput(fn InputFunc) *StepInput {
	return &StepInput{Kind: InputKindFunc, fn: fn}
}

// NamedInput builds an input spec resolved through the engine's input
// registry at execution time.
func NamedInput(name string) *StepInput {
	return &StepInput{Kind: InputKindNamed, Name: name}
}

// Validate checks the declaration is complete for its kind. It accepts a
// nil receiver, which stands for "pass the data bag".
func (si *StepInput) Validate() error {
	if si == nil {
		return nil
	}
	switch si.Kind {
	case InputKindStatic:
		return nil
	case InputKindFunc:
		if si.fn == nil {
			return types.NewValidationError(
				"function input has no function, likely loaded from a serialized definition")
		}
		return nil
	case InputKindNamed:
		if si.Name == "" {
			return types.NewValidationError("named input requires a name")
		}
		return nil
	default:
		return types.NewValidationError(fmt.Sprintf("unknown input kind %q", si.Kind))
	}
}

// resolve produces the agent input. A nil spec passes a snapshot of the
// data bag so agents cannot mutate engine state through it.
func (si *StepInput) resolve(ec *ExecutionContext, funcs *InputFuncRegistry) (any, error) {
	if si == nil {
		return ec.DataSnapshot(), nil
	}
	switch si.Kind {
	case InputKindStatic:
		return si.Static, nil
	case InputKindFunc:
		if si.fn == nil {
			return nil, types.NewValidationError("function input has no function")
		}
		return si.fn(ec), nil
	case InputKindNamed:
		fn, ok := funcs.Get(si.Name)
		if !ok {
			return nil, types.NewValidationError(
				fmt.Sprintf("input function %q is not registered", si.Name))
		}
		return fn(ec), nil
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unknown input kind %q", si.Kind))
	}
}

// InputFuncRegistry maps names to input functions so serialized definitions
// can reference in-process logic.
type InputFuncRegistry struct {
	mu    sync.RWMutex
	funcs map[string]InputFunc
}

// NewInputFuncRegistry creates an empty registry.
func NewInputFuncRegistry() *InputFuncRegistry {
	return &InputFuncRegistry{funcs: make(map[string]InputFunc)}
}

// Register stores fn under name, replacing any previous entry.
func (r *InputFuncRegistry) Register(name string, fn InputFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Get looks up a registered function.
func (r *InputFuncRegistry) Get(name string) (InputFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered function names.
func (r *InputFuncRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}
