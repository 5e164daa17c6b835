package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/anvil/api/v1alpha1"
)

func TestClient_Send(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := NewCoordinator(log)
	srv := httptest.NewServer(NewHandler(c, log).Router())
	defer srv.Close()

	inst := v1alpha1.NewInstance("web-1")
	g, err := c.Prepare(inst, vifEvents("p1"), time.Second, nil)
	require.NoError(t, err)
	defer g.Release()

	client := NewClient(srv.URL)
	results, err := client.Send(context.Background(), inst.UUID(), []Event{
		{Name: v1alpha1.VIFPluggedEvent, Tag: "p1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, http.StatusOK, results[0].Code)
	assert.Equal(t, StatusCompleted, results[0].Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, g.Wait(ctx))
}

func TestClient_SendRejected(t *testing.T) {
	log, _ := test.NewNullLogger()
	srv := httptest.NewServer(NewHandler(NewCoordinator(log), log).Router())
	defer srv.Close()

	_, err := NewClient(srv.URL).Send(context.Background(), "not-a-uuid", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestNewClient_AddsScheme(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8775", NewClient("127.0.0.1:8775").BaseURL)
	assert.Equal(t, "https://events.example.com", NewClient("https://events.example.com/").BaseURL)
	assert.True(t, strings.HasPrefix(NewClient("localhost:1").BaseURL, "http://"))
}
