package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-invoker/internal/invocation"
)

const defaultStartToClose = 10 * time.Minute

// InvocationRequest is the workflow input.
type InvocationRequest struct {
	invocation.InvokeModelInput

	// StartToCloseSeconds bounds one activity attempt. Zero uses ten minutes.
	StartToCloseSeconds int `json:"start_to_close_seconds,omitempty"`
}

// InvocationWorkflow runs InvokeModel once per activity attempt. Vendor
// retries and failover happen inside the activity, so the workflow retry
// policy only covers worker loss and retryable direct-binding failures.
func InvocationWorkflow(ctx workflow.Context, req InvocationRequest) (*invocation.InvokeModelOutput, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "invocation.v", workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid invocation request",
			invocation.ErrTypeValidation,
			err,
		)
	}

	startToClose := defaultStartToClose
	if req.StartToCloseSeconds > 0 {
		startToClose = time.Duration(req.StartToCloseSeconds) * time.Second
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: startToClose,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				invocation.ErrTypeValidation,
				invocation.ErrTypeMisconfiguration,
				invocation.ErrTypeExhaustedTimeout,
				invocation.ErrTypeExhaustedHard,
				invocation.ErrTypeFatalClient,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out invocation.InvokeModelOutput
	if err := workflow.ExecuteActivity(ctx, invocation.ActivityName, req.InvokeModelInput).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Error("Invocation activity failed", "model", req.ModelID, "error", err)
		return nil, err
	}
	return &out, nil
}
