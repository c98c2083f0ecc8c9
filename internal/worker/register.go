package worker

import (
	"github.com/ahrav/go-invoker/internal/invocation"
	"github.com/ahrav/go-invoker/internal/llm/invoke"
	"github.com/ahrav/go-invoker/internal/workflow"
	"github.com/ahrav/go-invoker/pkg/activity"
	"github.com/ahrav/go-invoker/pkg/events"
)

// Registrar is the registration surface shared by sdk workers and the
// Temporal test environment.
type Registrar interface {
	RegisterWorkflow(w any)
	RegisterActivity(a any)
}

// RegisterAll registers InvocationWorkflow and the InvokeModel activity.
// Call it once during startup, before the worker starts. A nil sink disables
// event emission.
func RegisterAll(w Registrar, invoker invocation.Invoker, defaults invoke.Options, sink events.EventSink) {
	base := activity.NewBaseActivities(sink)
	acts := invocation.NewActivities(base, invoker, defaults)

	w.RegisterWorkflow(workflow.InvocationWorkflow)
	w.RegisterActivity(acts.InvokeModel)
}
