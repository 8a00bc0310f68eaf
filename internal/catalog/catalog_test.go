package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/shared"
)

type memoryDirectory struct {
	mu      sync.Mutex
	kind    VendorKind
	vendors []Vendor
}

func (m *memoryDirectory) Create(_ context.Context, v Vendor) (Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.vendors {
		if strings.EqualFold(existing.Name, v.Name) {
			return Vendor{}, shared.DuplicateKey("name", v.Name)
		}
	}
	v.ID = int64(len(m.vendors) + 1)
	v.Kind = m.kind
	v.IsActive = true
	m.vendors = append(m.vendors, v)
	return v, nil
}

func (m *memoryDirectory) List(_ context.Context, active *bool) ([]Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Vendor
	for _, v := range m.vendors {
		if active == nil || v.IsActive == *active {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memoryDirectory) ToggleActive(_ context.Context, id int64) (Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.vendors {
		if m.vendors[i].ID == id {
			m.vendors[i].IsActive = !m.vendors[i].IsActive
			return m.vendors[i], nil
		}
	}
	return Vendor{}, shared.NotFoundf("%s vendor %d not found", m.kind, id)
}

type recordingAudit struct{ actions []string }

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.actions = append(r.actions, log.Action)
	return nil
}

func newTestRouter() (http.Handler, *recordingAudit) {
	dirs := map[VendorKind]Directory{}
	for _, k := range Kinds {
		dirs[k] = &memoryDirectory{kind: k}
	}
	audit := &recordingAudit{}
	r := chi.NewRouter()
	r.Route("/vendors", NewHandler(nil, NewRegistry(dirs), audit).MountRoutes)
	return r, audit
}

func TestLedgerType(t *testing.T) {
	vt, ok := KindStitching.LedgerType()
	require.True(t, ok)
	require.Equal(t, ledger.VendorStitching, vt)
	vt, ok = KindFinishing.LedgerType()
	require.True(t, ok)
	require.Equal(t, ledger.VendorFinishing, vt)
	_, ok = KindFabric.LedgerType()
	require.False(t, ok)
}

func TestParseVendorKind(t *testing.T) {
	k, err := ParseVendorKind(" Washing ")
	require.NoError(t, err)
	require.Equal(t, KindWashing, k)
	_, err = ParseVendorKind("dyeing")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRegistryUnknownKind(t *testing.T) {
	_, err := NewRegistry(nil).Directory(KindFabric)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestHandlerVendorLifecycle(t *testing.T) {
	router, audit := newTestRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/vendors/stitching/", strings.NewReader(`{"name":"Rahim Tailors","phone":"0170"}`)))
	require.Equal(t, http.StatusCreated, rr.Code)
	var v Vendor
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	require.Equal(t, KindStitching, v.Kind)
	require.True(t, v.IsActive)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/vendors/stitching/", strings.NewReader(`{"name":"rahim tailors"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/vendors/stitching/1/toggle", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	require.False(t, v.IsActive)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/vendors/stitching/?active=true", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/vendors/washing/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String())

	require.Equal(t, []string{"VENDOR_CREATE", "VENDOR_TOGGLE"}, audit.actions)
}

func TestHandlerRejectsUnknownKindAndMissingVendor(t *testing.T) {
	router, _ := newTestRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/vendors/dyeing/", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/vendors/fabric/9/toggle", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/vendors/fabric/", strings.NewReader(`{"phone":"1"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
