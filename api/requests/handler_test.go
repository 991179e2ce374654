package requests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bloodlink/core/arbiter"
	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/donorindex"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/core/ranker"
)

func newRouter(m Manager) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/requests", NewHandler(m).Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, url, strings.NewReader(body)))
	return rr
}

const submitBody = `{
	"blood_type": "O-",
	"quantity": 1,
	"urgency": "critical",
	"hospital": {"name": "Hotel-Dieu", "location": {"lat": 48.8566, "lon": 2.3522}, "pin_code": "750040"},
	"requester": {"name": "Dr Martin", "phone": "0612345678"}
}`

func TestRequestLifecycleOverHTTP(t *testing.T) {
	idx := donorindex.New()
	require.NoError(t, idx.Upsert(model.Donor{
		ID: "d1", BloodType: model.ONeg, Availability: model.Available,
		Location: model.Coordinate{Lat: 48.86, Lon: 2.35},
	}))
	alerted := make(chan string, 4)
	tr := fanout.TransportFunc(func(_ context.Context, to fanout.Recipient, _ fanout.Summary) error {
		alerted <- to.DonorID
		return nil
	})
	m, err := dispatch.NewManager(dispatch.Config{}, idx, ranker.New(ranker.Config{}),
		fanout.New(fanout.Config{}, tr, nil, nil), nil, nil)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	h := newRouter(m)

	rr := do(t, h, "POST", "/api/requests", submitBody)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var st dispatch.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "/api/requests/"+st.RequestID, rr.Header().Get("Location"))
	assert.Equal(t, "Immediate", st.UrgencyLabel)

	select {
	case id := <-alerted:
		assert.Equal(t, "d1", id)
	case <-time.After(2 * time.Second):
		t.Fatalf("donor not alerted")
	}

	rr = do(t, h, "POST", "/api/requests/"+st.RequestID+"/responses", `{"donor_id":"d1","decision":"accept"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var v arbiter.Verdict
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	assert.True(t, v.Fulfilled)

	rr = do(t, h, "GET", "/api/requests/"+st.RequestID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, model.StatusFulfilled, st.Status)
	assert.Equal(t, 1, st.FulfilledUnits)

	rr = do(t, h, "POST", "/api/requests/"+st.RequestID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, "GET", "/api/requests?active=true", "")
	assert.Equal(t, "[]\n", rr.Body.String())
}

type fakeManager struct {
	submitErr  error
	respondErr error
	cancelErr  error
	statuses   []dispatch.Status
}

func (f *fakeManager) SubmitRequest(context.Context, dispatch.Submission) (string, error) {
	return "r1", f.submitErr
}

func (f *fakeManager) Status(id string) (dispatch.Status, error) {
	for _, s := range f.statuses {
		if s.RequestID == id {
			return s, nil
		}
	}
	return dispatch.Status{}, dispatch.ErrUnknownRequest
}

func (f *fakeManager) Requests() []dispatch.Status { return f.statuses }

func (f *fakeManager) Respond(context.Context, string, string, model.Decision) (arbiter.Verdict, error) {
	return arbiter.Verdict{Result: arbiter.Rejected}, f.respondErr
}

func (f *fakeManager) Cancel(context.Context, string) error { return f.cancelErr }

func TestErrorMapping(t *testing.T) {
	f := &fakeManager{statuses: []dispatch.Status{{RequestID: "r1", Status: model.StatusAwaitingResponses}}}
	h := newRouter(f)

	f.submitErr = &dispatch.ValidationError{Field: "quantity", Reason: "must be between 1 and 50 units"}
	rr := do(t, h, "POST", "/api/requests", submitBody)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var eb errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &eb))
	assert.Equal(t, "quantity", eb.Field)

	rr = do(t, h, "POST", "/api/requests", `{"blood_type":"O-","color":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, "GET", "/api/requests/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, "POST", "/api/requests/r1/responses", `{"donor_id":"d1","decision":"timeout"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, "POST", "/api/requests/r1/responses", `{"decision":"accept"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.respondErr = arbiter.ErrNotNotified
	rr = do(t, h, "POST", "/api/requests/r1/responses", `{"donor_id":"d9","decision":"accept"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	f.cancelErr = dispatch.ErrClosed
	rr = do(t, h, "POST", "/api/requests/r1/cancel", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = do(t, h, "GET", "/api/requests?status=awaiting_responses", "")
	var list []dispatch.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)
	rr = do(t, h, "GET", "/api/requests?status=fulfilled", "")
	assert.Equal(t, "[]\n", rr.Body.String())
}
