package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdi-reconciler/internal/models"
	"cfdi-reconciler/internal/reconciler"
	"cfdi-reconciler/internal/storage"
)

const testCompany = "AAA010101AAA"

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	service, err := reconciler.NewService(store, nil, nil)
	require.NoError(t, err)
	return New(service, nil), store
}

func seed(t *testing.T, store *storage.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveMovements(ctx, []*models.BankMovement{{
		ID:        "mov-1",
		CompanyID: testCompany,
		Date:      time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Concept:   "SPEI RECIBIDO",
		Amount:    decimal.NewFromFloat(1500.00),
		Direction: models.DirectionAbono,
		Status:    models.StatusPendiente,
	}}))
	require.NoError(t, store.SaveInvoices(ctx, []*models.InvoiceRecord{{
		UUID:          "inv-1",
		CompanyID:     testCompany,
		IssueDate:     time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		Total:         decimal.NewFromFloat(1500.00),
		PaymentScheme: models.SchemePUE,
	}}))
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestExecuteReconciliation(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store)

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/conciliacion", map[string]interface{}{
		"rfc_empresa": testCompany,
		"mes":         1,
		"anio":        2024,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Exito        bool             `json:"exito"`
		Estadisticas *models.RunStats `json:"estadisticas"`
		FechaProceso string           `json:"fecha_proceso"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Exito)
	require.NotNil(t, body.Estadisticas)
	assert.Equal(t, 1, body.Estadisticas.Conciliados)
	assert.NotEmpty(t, body.FechaProceso)
}

func TestExecuteReconciliationConflict(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store)

	request := map[string]interface{}{"rfc_empresa": testCompany, "mes": 1, "anio": 2024}
	first := doJSON(t, srv, http.MethodPost, "/api/v1/conciliacion", request)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, srv, http.MethodPost, "/api/v1/conciliacion", request)
	assert.Equal(t, http.StatusConflict, second.Code,
		"repeating a scope without force must answer 409")

	var body struct {
		Exito  bool   `json:"exito"`
		Codigo string `json:"codigo"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.False(t, body.Exito)
	assert.Equal(t, "RUN_IN_PROGRESS", body.Codigo)

	forced := doJSON(t, srv, http.MethodPost, "/api/v1/conciliacion", map[string]interface{}{
		"rfc_empresa": testCompany, "mes": 1, "anio": 2024, "forzar_reproceso": true,
	})
	assert.Equal(t, http.StatusOK, forced.Code)
}

func TestExecuteReconciliationEmptyPeriod(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/conciliacion", map[string]interface{}{
		"rfc_empresa": testCompany, "mes": 5, "anio": 2024,
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestQueryMovements(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store)

	resp := doJSON(t, srv, http.MethodGet,
		"/api/v1/movimientos?rfc_empresa="+testCompany+"&estado=pendiente", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Total       int               `json:"total"`
		Movimientos []json.RawMessage `json:"movimientos"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Len(t, body.Movimientos, 1)
}

func TestQueryMovementsRejectsBadStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, srv, http.MethodGet,
		"/api/v1/movimientos?rfc_empresa="+testCompany+"&estado=descartado", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestIngestStatementEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	request := map[string]interface{}{
		"rfc_empresa":    testCompany,
		"banco":          "BBVA",
		"periodo_inicio": "2024-01-01T00:00:00Z",
		"periodo_fin":    "2024-01-31T00:00:00Z",
		"movimientos": []map[string]string{
			{"fecha": "10/01/2024", "concepto": "SPEI RECIBIDO", "monto": "1500.00"},
		},
	}

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/estados-cuenta", request)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	// Same payload again: duplicate content hash.
	dup := doJSON(t, srv, http.MethodPost, "/api/v1/estados-cuenta", request)
	assert.Equal(t, http.StatusConflict, dup.Code)
}

func TestAssignManualEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store)

	resp := doJSON(t, srv, http.MethodPatch, "/api/v1/movimientos/mov-1/asignar",
		map[string]string{"cfdi_uuid": "inv-1", "notas": "confirmado por cliente"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	movement, err := store.MovementByID(context.Background(), "mov-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusManual, movement.Status)
	assert.Equal(t, "inv-1", movement.MatchedInvoiceID)

	missing := doJSON(t, srv, http.MethodPatch, "/api/v1/movimientos/nope/asignar",
		map[string]string{"cfdi_uuid": "inv-1"})
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestRunReportEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store)

	doJSON(t, srv, http.MethodPost, "/api/v1/conciliacion", map[string]interface{}{
		"rfc_empresa": testCompany, "mes": 1, "anio": 2024,
	})

	resp := doJSON(t, srv, http.MethodGet,
		"/api/v1/conciliacion/"+testCompany+"/reporte?mes=1&anio=2024", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Proceso *models.ReconciliationRun `json:"proceso"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Proceso)
	assert.Equal(t, models.RunCompleted, body.Proceso.Status)
	require.NotNil(t, body.Proceso.Stats)
}
