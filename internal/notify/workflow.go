// Package notify hands finalized documents to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// Notifier is told about every document the pipeline finalizes.
type Notifier interface {
	Notify(ctx context.Context, n models.CompletionNotification) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, models.CompletionNotification) error { return nil }

// Workflow starts a Cloud Workflows execution per finalized document.
type Workflow struct {
	client *executions.Client
	parent string
}

// NewWorkflow targets projects/<projectID>/locations/<location>/workflows/<workflowID>.
func NewWorkflow(client *executions.Client, projectID, location, workflowID string) *Workflow {
	return &Workflow{client: client, parent: WorkflowName(projectID, location, workflowID)}
}

// WorkflowName builds the workflow resource name.
func WorkflowName(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

func (w *Workflow) Notify(ctx context.Context, n models.CompletionNotification) error {
	req, err := executionRequest(w.parent, n)
	if err != nil {
		return err
	}
	if _, err := w.client.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}

func executionRequest(parent string, n models.CompletionNotification) (*executionspb.CreateExecutionRequest, error) {
	payloadBytes, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return &executionspb.CreateExecutionRequest{
		Parent: parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}, nil
}
