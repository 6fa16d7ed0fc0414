package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ckoons/katra-sub000/internal/access"
	"github.com/ckoons/katra-sub000/internal/consolidation"
	"github.com/ckoons/katra-sub000/internal/encoder"
	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/synthesis"
	"github.com/ckoons/katra-sub000/internal/tier1"
	"github.com/ckoons/katra-sub000/internal/tier2"
	"github.com/ckoons/katra-sub000/internal/tier3"
	"github.com/ckoons/katra-sub000/internal/vector"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	checker := access.NewChecker(nil)
	t1 := tier1.New(root, checker)
	t2, err := tier2.Open(root)
	if err != nil {
		t.Fatalf("open tier2: %v", err)
	}
	t.Cleanup(func() { t2.Close() })
	vec := vector.New(root, vector.DefaultDimension)
	enc := encoder.New(t1, vec, checker, true, true)
	synth := synthesis.New(t1, t2, vec, enc, checker)
	return New(enc, synth, nil, Options{Debug: true})
}

func TestHealthReturnsOK(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStoreMemoryThenQueryByCIID(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(storeMemoryRequest{CIID: "ci-1", Type: "EXPERIENCE", Content: "first note"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created Response
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !created.Success {
		t.Fatalf("expected success, got %+v", created)
	}

	queryRec := httptest.NewRecorder()
	queryReq := httptest.NewRequest(http.MethodGet, "/api/v1/memories?ci_id=ci-1", nil)
	s.Router().ServeHTTP(queryRec, queryReq)
	if queryRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", queryRec.Code, queryRec.Body.String())
	}

	var queried struct {
		Success bool                  `json:"success"`
		Data    []*katra.MemoryRecord `json:"data"`
	}
	if err := json.Unmarshal(queryRec.Body.Bytes(), &queried); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(queried.Data) != 1 || queried.Data[0].Content != "first note" {
		t.Fatalf("expected the stored record back, got %+v", queried.Data)
	}
}

func TestStoreMemoryMissingFieldsReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestArchiveThenQueryOmitsRecord(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(storeMemoryRequest{CIID: "ci-1", Type: "EXPERIENCE", Content: "to be archived"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)

	var created struct {
		Data *katra.MemoryRecord `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)

	archiveRec := httptest.NewRecorder()
	archiveReq := httptest.NewRequest(http.MethodPost, "/api/v1/memories/ci-1/"+created.Data.RecordID+"/archive", nil)
	s.Router().ServeHTTP(archiveRec, archiveReq)
	if archiveRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", archiveRec.Code, archiveRec.Body.String())
	}

	queryRec := httptest.NewRecorder()
	queryReq := httptest.NewRequest(http.MethodGet, "/api/v1/memories?ci_id=ci-1", nil)
	s.Router().ServeHTTP(queryRec, queryReq)

	var queried struct {
		Data []*katra.MemoryRecord `json:"data"`
	}
	json.Unmarshal(queryRec.Body.Bytes(), &queried)
	if len(queried.Data) != 0 {
		t.Fatalf("expected archived record hidden from query, got %+v", queried.Data)
	}
}

func TestRunConsolidationUsesLiveGraphCentrality(t *testing.T) {
	root := t.TempDir()
	checker := access.NewChecker(nil)
	t1 := tier1.New(root, checker)
	t2, err := tier2.Open(root)
	if err != nil {
		t.Fatalf("open tier2: %v", err)
	}
	t.Cleanup(func() { t2.Close() })
	t3 := tier3.New(root)
	vec := vector.New(root, vector.DefaultDimension)
	enc := encoder.New(t1, vec, checker, true, true)
	synth := synthesis.New(t1, t2, vec, enc, checker)
	cp := katra.NewCheckpointStore(root)
	consol := consolidation.New(t1, t2, t3, vec, cp, consolidation.Config{
		CutoffDays:   0,
		HubThreshold: 0.1,
	})
	s := New(enc, synth, consol, Options{Debug: true})

	old := time.Now().AddDate(0, 0, -60)
	hub, err := katra.Create(katra.CreateOptions{CIID: "ci-1", Type: katra.TypeExperience, Content: "release pipeline hub", Timestamp: old.Unix()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := enc.Store(context.Background(), hub); err != nil {
		t.Fatalf("store hub: %v", err)
	}
	for i := 0; i < 5; i++ {
		peer, err := katra.Create(katra.CreateOptions{CIID: "ci-1", Type: katra.TypeExperience, Content: "release pipeline hub", Timestamp: old.Add(time.Duration(i+1) * time.Minute).Unix()})
		if err != nil {
			t.Fatalf("create peer: %v", err)
		}
		if err := enc.Store(context.Background(), peer); err != nil {
			t.Fatalf("store peer: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consolidation/ci-1/run", nil)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var run struct {
		Data []struct {
			Record struct {
				RecordID string `json:"record_id"`
			}
			Rule int
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	hubRule := 0
	for _, d := range run.Data {
		if d.Record.RecordID == hub.RecordID {
			hubRule = d.Rule
		}
	}
	if hubRule != 6 {
		t.Fatalf("expected the hub preserved by the graph-centrality rule (6), got rule %d", hubRule)
	}

	out, err := t1.Query(tier1.Criteria{CIID: "ci-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	found := false
	for _, r := range out {
		if r.RecordID == hub.RecordID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the well-connected hub record to be preserved by live graph centrality, but it was archived")
	}
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	root := t.TempDir()
	checker := access.NewChecker(nil)
	t1 := tier1.New(root, checker)
	vec := vector.New(root, vector.DefaultDimension)
	enc := encoder.New(t1, vec, checker, true, true)
	s := New(enc, nil, nil, Options{Debug: true, APIKey: "secret"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories?ci_id=ci-1", nil)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	s.Router().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected health endpoint exempt from auth, got %d", rec2.Code)
	}
}
