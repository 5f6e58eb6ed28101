package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/stratumsec/warden/retry"
)

// WorkerInvoker fires the per-resource processing unit asynchronously.
// The router invokes it once per (environment, resource) pair when the
// dispatcher runs out of process.
type WorkerInvoker struct {
	api      LambdaAPI
	function string
	policy   retry.Policy
}

// NewWorkerInvoker creates the invoker for a function name.
func NewWorkerInvoker(api LambdaAPI, function string) *WorkerInvoker {
	return &WorkerInvoker{api: api, function: function, policy: defaultPolicy()}
}

// InvokeAsync fires an event-typed invocation and does not wait for the
// result.
func (wi *WorkerInvoker) InvokeAsync(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode worker payload: %w", err)
	}

	err = retry.DoVoid(ctx, wi.policy, func() error {
		_, err := wi.api.Invoke(ctx, &lambda.InvokeInput{
			FunctionName:   awssdk.String(wi.function),
			InvocationType: lambdatypes.InvocationTypeEvent,
			Payload:        body,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to invoke worker %s: %w", wi.function, err)
	}
	return nil
}
