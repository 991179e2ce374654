package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bloodlink/config"
	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/model"
)

var paris = model.Coordinate{Lat: 48.8566, Lon: 2.3522}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Fanout.Transport = "log"
	cfg.Audit = audit.Config{Backend: "jsonl", Path: filepath.Join(t.TempDir(), "audit.jsonl")}
	cfg.API.Token = "secret"
	cfg.Registry.Donors = []model.Donor{
		{ID: "d1", BloodType: "O-", Location: paris, Availability: model.Available,
			Contact: model.ContactRef{Channel: model.ChannelPush, Address: "push:d1"}},
		{ID: "d2", BloodType: "AB+", Location: paris, Availability: model.Available,
			Contact: model.ContactRef{Channel: model.ChannelPush, Address: "push:d2"}},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

type apiClient struct {
	t   *testing.T
	url string
}

func (c apiClient) do(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.url+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServiceLifecycle(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, func() bool { return svc.Index.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()
	c := apiClient{t: t, url: srv.URL}

	var donors []map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/donors?blood_type=O-", nil, &donors))
	require.Len(t, donors, 1)
	assert.Equal(t, "d1", donors[0]["id"])

	sub := dispatch.Submission{
		BloodType: "A+",
		Quantity:  1,
		Urgency:   "critical",
		Hospital:  model.Hospital{Name: "Hotel-Dieu", Location: paris},
		Requester: model.Requester{Name: "Dr Martin", Phone: "0612345678"},
	}
	var st dispatch.Status
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/requests", sub, &st))
	require.NotEmpty(t, st.RequestID)

	// O- can give to A+; AB+ cannot, so d2 is never alerted.
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/api/requests/"+st.RequestID+"/responses",
		map[string]string{"donor_id": "d2", "decision": "accept"}, nil))
	var v struct {
		Fulfilled bool `json:"fulfilled"`
	}
	require.Eventually(t, func() bool {
		return c.do(http.MethodPost, "/api/requests/"+st.RequestID+"/responses",
			map[string]string{"donor_id": "d1", "decision": "accept"}, &v) == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, v.Fulfilled)

	require.Eventually(t, func() bool {
		var got dispatch.Status
		return c.do(http.MethodGet, "/api/requests/"+st.RequestID, nil, &got) == http.StatusOK &&
			got.Status == model.StatusFulfilled
	}, 2*time.Second, 10*time.Millisecond)

	var recs []audit.Record
	require.Eventually(t, func() bool {
		return c.do(http.MethodGet, "/api/audit?request_id="+st.RequestID, nil, &recs) == http.StatusOK && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.StatusFulfilled, recs[0].Request.Status)
	assert.Equal(t, 1, recs[0].Request.FulfilledUnits)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("service did not stop")
	}
}

func TestNewRejectsUnknownPlugins(t *testing.T) {
	cfg := testConfig(t)
	cfg.Escalations = []string{"pager"}
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "pager")

	cfg = testConfig(t)
	cfg.Fanout.Transport = "mqtt"
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "broker")
}

func TestStaleDonor(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	require.NoError(t, svc.Index.Upsert(cfg.Registry.Donors[0]))
	assert.False(t, svc.staleDonor("d1"))
	require.NoError(t, svc.Index.SetAvailability("d1", model.Unavailable, time.Now()))
	assert.True(t, svc.staleDonor("d1"))
	assert.True(t, svc.staleDonor("ghost"))
}
