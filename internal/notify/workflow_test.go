package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

func TestExecutionRequest(t *testing.T) {
	parent := WorkflowName("proj", "us-central1", "post-processing")
	req, err := executionRequest(parent, models.CompletionNotification{
		DocumentID: "b__invoices__a.pdf",
		Dataset:    "invoices",
		Status:     "completed",
	})

	require.NoError(t, err)
	assert.Equal(t, "projects/proj/locations/us-central1/workflows/post-processing", req.Parent)
	assert.JSONEq(t, `{"documentId":"b__invoices__a.pdf","dataset":"invoices","status":"completed","errorCount":0}`, req.Execution.Argument)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), models.CompletionNotification{}))
}
