package automation

import (
	"context"
	"errors"
	"sync"
)

// fakeGateway records calls and serves canned results.
type fakeGateway struct {
	mu sync.Mutex

	stacks  map[string]bool
	config  map[string]map[string]string
	creates int
	applies int
	removes int

	listErr  error
	applyErr error
	applyLog string
	outputs  map[string]any

	// applyGate blocks Apply until closed when set.
	applyGate chan struct{}
	applying  chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		stacks: make(map[string]bool),
		config: make(map[string]map[string]string),
	}
}

func (f *fakeGateway) ListStacks(_ context.Context) ([]StackSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]StackSummary, 0, len(f.stacks))
	for name := range f.stacks {
		out = append(out, StackSummary{Name: name, FullName: "organization/froyo/" + name})
	}
	return out, nil
}

func (f *fakeGateway) CreateStack(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.stacks[name] {
		return errors.New("stack already exists")
	}
	f.stacks[name] = true
	return nil
}

func (f *fakeGateway) RemoveStack(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	delete(f.stacks, name)
	return nil
}

func (f *fakeGateway) SetConfig(_ context.Context, stack, key, value string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.config[stack] == nil {
		f.config[stack] = make(map[string]string)
	}
	f.config[stack][key] = value
	return nil
}

func (f *fakeGateway) Apply(ctx context.Context, _ string) (ApplyOutput, error) {
	if f.applying != nil {
		f.applying <- struct{}{}
	}
	if f.applyGate != nil {
		select {
		case <-f.applyGate:
		case <-ctx.Done():
			return ApplyOutput{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	if f.applyErr != nil {
		return ApplyOutput{RawLog: f.applyLog}, f.applyErr
	}
	return ApplyOutput{Outputs: f.outputs, RawLog: f.applyLog}, nil
}

func (f *fakeGateway) Destroy(_ context.Context, _ string) (string, error) {
	return "destroyed", nil
}
