package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/mayegue-core/internal/models"
)

func TestSyncSubmitBufferedWriteIsAccepted(t *testing.T) {
	h := NewSyncHandler(&queueStub{result: &models.SubmitResult{Queued: true, ItemID: "item-1"}}, &triggerStub{})
	write := models.RemoteWriteRequest{ActionType: "progress_sync", Collection: "progress", Operation: models.OperationCreate}
	c, w := newTestContext(http.MethodPost, "/sync/writes", jsonBody(t, write))
	signIn(c, "remote-1", models.RoleStudent)

	h.Submit(c)
	assertStatus(t, w, http.StatusAccepted)
	assert.Contains(t, w.Body.String(), `"item-1"`)
}

func TestSyncDrainCoalescesTriggers(t *testing.T) {
	trigger := &triggerStub{}
	h := NewSyncHandler(&queueStub{}, trigger)

	c, w := newTestContext(http.MethodPost, "/sync/drain", nil)
	signIn(c, "remote-1", models.RoleStudent)
	h.Drain(c)
	assertStatus(t, w, http.StatusAccepted)
	assert.JSONEq(t, `{"data":{"scheduled":true}}`, w.Body.String())

	c, w = newTestContext(http.MethodPost, "/sync/drain", nil)
	signIn(c, "remote-1", models.RoleStudent)
	h.Drain(c)
	assert.JSONEq(t, `{"data":{"scheduled":false}}`, w.Body.String())
	assert.Equal(t, []string{"request", "request"}, trigger.reasons)
}
