// Package engine runs evaluation tasks over datasets under bounded
// concurrency, scores outputs with metrics, checkpoints progress to disk,
// and streams run events to the platform.
package engine

import (
	"context"
	"fmt"
	"reflect"
)

// TaskHooks carries the optional invocation context a task may consume.
type TaskHooks struct {
	ModelName string
	TraceID   string
}

// TaskFunc is the plain task shape: input in, output out.
type TaskFunc func(ctx context.Context, input any) (any, error)

// HookedTaskFunc additionally receives model and trace hooks.
type HookedTaskFunc func(ctx context.Context, input any, hooks TaskHooks) (any, error)

// Invoker is the pipeline-object shape: anything exposing an Invoke surface
// (graph runners, chains) can be used as a task directly.
type Invoker interface {
	Invoke(ctx context.Context, input any) (any, error)
}

// TraceInfo identifies an external trace recorded during a task invocation.
type TraceInfo struct {
	TraceID  string
	TraceURL string
}

// TraceCarrier lets task outputs surface their trace info. When an output
// implements it, the trace id/url are recorded on the item and its events.
type TraceCarrier interface {
	TraceInfo() TraceInfo
}

// Task uniformly invokes any recognized task shape.
type Task struct {
	name   string
	invoke func(ctx context.Context, input any, hooks TaskHooks) (any, error)
	fnID   uintptr
}

// NewTask normalizes v into a Task. Recognized shapes: TaskFunc,
// HookedTaskFunc, their untyped equivalents, and Invoker.
func NewTask(name string, v any) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("task name is required")
	}

	switch fn := v.(type) {
	case TaskFunc:
		return &Task{
			name:   name,
			invoke: func(ctx context.Context, in any, _ TaskHooks) (any, error) { return fn(ctx, in) },
			fnID:   reflect.ValueOf(fn).Pointer(),
		}, nil
	case func(context.Context, any) (any, error):
		return &Task{
			name:   name,
			invoke: func(ctx context.Context, in any, _ TaskHooks) (any, error) { return fn(ctx, in) },
			fnID:   reflect.ValueOf(fn).Pointer(),
		}, nil
	case HookedTaskFunc:
		return &Task{name: name, invoke: fn, fnID: reflect.ValueOf(fn).Pointer()}, nil
	case func(context.Context, any, TaskHooks) (any, error):
		return &Task{name: name, invoke: fn, fnID: reflect.ValueOf(fn).Pointer()}, nil
	case Invoker:
		return &Task{
			name:   name,
			invoke: func(ctx context.Context, in any, _ TaskHooks) (any, error) { return fn.Invoke(ctx, in) },
			fnID:   reflect.ValueOf(fn.Invoke).Pointer(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported task type %T", v)
	}
}

// Name returns the task's registered name.
func (t *Task) Name() string { return t.name }

// Invoke runs the task. The returned output may implement TraceCarrier.
func (t *Task) Invoke(ctx context.Context, input any, hooks TaskHooks) (any, error) {
	return t.invoke(ctx, input, hooks)
}
