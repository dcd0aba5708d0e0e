package workflow

import "time"

// Builder assembles a Definition fluently. Call Build to validate.
type Builder struct {
	def Definition
}

// NewBuilder starts a definition with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{def: Definition{ID: id}}
}

// WithName sets the human readable name.
func (b *Builder) WithName(name string) *Builder {
	b.def.Name = name
	return b
}

// WithDescription sets the description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.def.Description = desc
	return b
}

// WithVersion sets the definition version.
func (b *Builder) WithVersion(version string) *Builder {
	b.def.Version = version
	return b
}

// WithTimeout bounds the whole execution.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.def.Timeout = timeout
	return b
}

// OnError sets the definition-wide failure strategy.
func (b *Builder) OnError(strategy ErrorHandlingStrategy) *Builder {
	b.def.OnError = strategy
	return b
}

// Step opens a step builder; the step joins the definition in call order.
func (b *Builder) Step(id, capability string) *StepBuilder {
	return &StepBuilder{
		parent: b,
		step:   Step{ID: id, Capability: capability},
	}
}

// Build validates and returns the definition.
func (b *Builder) Build() (*Definition, error) {
	def := b.def.clone()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// StepBuilder configures one step.
type StepBuilder struct {
	parent *Builder
	step   Step
}

// Named sets the step's display name.
func (sb *StepBuilder) Named(name string) *StepBuilder {
	sb.step.Name = name
	return sb
}

// WithInput sets the input spec.
func (sb *StepBuilder) WithInput(input *StepInput) *StepBuilder {
	sb.step.Input = input
	return sb
}

// When adds a gating condition. All conditions must hold or the step is
// skipped.
func (sb *StepBuilder) When(field string, op Operator, value any) *StepBuilder {
	sb.step.Conditions = append(sb.step.Conditions, Condition{
		Field:    field,
		Operator: op,
		Value:    value,
	})
	return sb
}

// WithRetry sets the step retry policy.
func (sb *StepBuilder) WithRetry(policy RetryPolicy) *StepBuilder {
	sb.step.Retry = &policy
	return sb
}

// WithTimeout bounds the agent call for this step.
func (sb *StepBuilder) WithTimeout(timeout time.Duration) *StepBuilder {
	sb.step.Timeout = timeout
	return sb
}

// OnSuccess routes to an explicit step id instead of the next in order.
func (sb *StepBuilder) OnSuccess(stepID string) *StepBuilder {
	sb.step.OnSuccess = stepID
	return sb
}

// OnError routes failures to an explicit step id, overriding the
// definition's strategy.
func (sb *StepBuilder) OnError(stepID string) *StepBuilder {
	sb.step.OnError = stepID
	return sb
}

// PreferVersion asks for an exact agent version match.
func (sb *StepBuilder) PreferVersion(version string) *StepBuilder {
	sb.step.PreferVersion = version
	return sb
}

// Done appends the step and returns the definition builder.
func (sb *StepBuilder) Done() *Builder {
	sb.parent.def.Steps = append(sb.parent.def.Steps, sb.step)
	return sb.parent
}
