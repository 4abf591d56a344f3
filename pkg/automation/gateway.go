package automation

import "context"

// StackSummary is one entry of a stack listing.
type StackSummary struct {
	// Name is the short stack name.
	Name string `json:"name"`

	// FullName is the backend-qualified name, e.g. org/project/stack.
	FullName string `json:"fullName,omitempty"`
}

// ApplyOutput is the result of a successful apply.
type ApplyOutput struct {
	Outputs map[string]any
	RawLog  string
}

// EngineGateway is the narrow surface of the infrastructure-as-code engine.
// Implementations must not log configuration values.
type EngineGateway interface {
	ListStacks(ctx context.Context) ([]StackSummary, error)
	CreateStack(ctx context.Context, name string) error
	RemoveStack(ctx context.Context, name string, force bool) error
	SetConfig(ctx context.Context, stack, key, value string, secret bool) error

	// Apply brings stack to the state declared by the program. On failure the
	// returned output still carries the raw log collected so far.
	Apply(ctx context.Context, stack string) (ApplyOutput, error)

	// Destroy removes every resource of stack and returns the raw log.
	Destroy(ctx context.Context, stack string) (string, error)
}
