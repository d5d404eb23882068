package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/persistence/file"
	"github.com/weblisite/synthralos-engine/pkg/registry"
)

func newPublishingService(t *testing.T) (*Publishing, *Workflow) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	t.Cleanup(func() { _ = persist.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewPublishing(persist, registry.NewRegistry(logger)), NewWorkflow(persist)
}

func TestPublishing_PublishBumpsVersion(t *testing.T) {
	pub, wfs := newPublishingService(t)
	ctx := context.Background()

	created, err := wfs.Create(ctx, draftWorkflow("order pipeline"))
	require.NoError(t, err)
	require.Zero(t, created.GraphVersion)

	published, err := pub.Publish(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusPublished, published.Status)
	assert.Equal(t, 1, published.GraphVersion)
	require.NotNil(t, published.PublishedAt)

	// Already published workflows cannot be republished.
	_, err = pub.Publish(ctx, created.ID)
	assert.ErrorIs(t, err, ErrAlreadyPublished)
}

func TestPublishing_RepublishAfterEditBumpsAgain(t *testing.T) {
	pub, wfs := newPublishingService(t)
	ctx := context.Background()

	created, err := wfs.Create(ctx, draftWorkflow("order pipeline"))
	require.NoError(t, err)

	_, err = pub.Publish(ctx, created.ID)
	require.NoError(t, err)

	_, err = pub.Unpublish(ctx, created.ID)
	require.NoError(t, err)

	_, err = pub.CreateDraft(ctx, created.ID)
	require.NoError(t, err)

	_, err = wfs.Update(ctx, created.ID, draftWorkflow("order pipeline v2"))
	require.NoError(t, err)

	again, err := pub.Publish(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.GraphVersion)
}

func TestPublishing_PublishRejectsInvalidGraph(t *testing.T) {
	pub, wfs := newPublishingService(t)
	ctx := context.Background()

	wf := draftWorkflow("broken")
	wf.Edges = []*models.Edge{{From: "start", To: "ghost"}}

	created, err := wfs.Create(ctx, wf)
	require.NoError(t, err)

	_, err = pub.Publish(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestPublishing_PublishRequiresNodes(t *testing.T) {
	pub, wfs := newPublishingService(t)
	ctx := context.Background()

	wf := &models.Workflow{Name: "empty", EntryNodeID: "start"}
	created, err := wfs.Create(ctx, wf)
	require.NoError(t, err)

	_, err = pub.Publish(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNodesRequired)
}

func TestPublishing_UnpublishRequiresPublished(t *testing.T) {
	pub, wfs := newPublishingService(t)
	ctx := context.Background()

	created, err := wfs.Create(ctx, draftWorkflow("still a draft"))
	require.NoError(t, err)

	_, err = pub.Unpublish(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotPublished)
}

func TestPublishing_CreateDraftReopensUnpublished(t *testing.T) {
	pub, wfs := newPublishingService(t)
	ctx := context.Background()

	created, err := wfs.Create(ctx, draftWorkflow("order pipeline"))
	require.NoError(t, err)

	_, err = pub.Publish(ctx, created.ID)
	require.NoError(t, err)

	_, err = pub.CreateDraft(ctx, created.ID)
	assert.ErrorIs(t, err, ErrCannotModifyPublished)

	_, err = pub.Unpublish(ctx, created.ID)
	require.NoError(t, err)

	draft, err := pub.CreateDraft(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, draft.Status)
	assert.Equal(t, 1, draft.GraphVersion)
}
