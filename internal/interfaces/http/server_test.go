package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equiprent/rental-workflow/internal/application/service"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// mockCoordinator overrides only the calls a test needs
type mockCoordinator struct {
	service.Coordinator

	placeOrderFunc      func(ctx context.Context, input service.PlaceOrderInput, actor string) (*entity.RentalOrder, error)
	getOrderFunc        func(ctx context.Context, orderID int64) (*entity.RentalOrder, error)
	transitionFunc      func(ctx context.Context, orderID int64, target entity.OrderStatus, actor string, expectedVersion int64) (*entity.RentalOrder, error)
	addLineFunc         func(ctx context.Context, reportID int64, input service.DamageLineInput, expectedVersion int64) (*entity.DamageReport, error)
	removeLineFunc      func(ctx context.Context, reportID int64, lineID string, expectedVersion int64) (*entity.DamageReport, error)
	rejectFunc          func(ctx context.Context, reportID int64, rejecter, reason, category string, expectedVersion int64) (*entity.DamageReport, error)
	generateBillingFunc func(ctx context.Context, reportID int64, params service.BillingParams, actor string) (*service.BillingResult, error)
	exportFunc          func(ctx context.Context, reportID int64) (*service.Statement, error)
	getBillingFunc      func(ctx context.Context, reference string) (*entity.BillingRecord, error)
}

func (m *mockCoordinator) PlaceOrder(ctx context.Context, input service.PlaceOrderInput, actor string) (*entity.RentalOrder, error) {
	return m.placeOrderFunc(ctx, input, actor)
}

func (m *mockCoordinator) GetOrder(ctx context.Context, orderID int64) (*entity.RentalOrder, error) {
	return m.getOrderFunc(ctx, orderID)
}

func (m *mockCoordinator) TransitionOrder(ctx context.Context, orderID int64, target entity.OrderStatus, actor string, expectedVersion int64) (*entity.RentalOrder, error) {
	return m.transitionFunc(ctx, orderID, target, actor, expectedVersion)
}

func (m *mockCoordinator) AddDamageLine(ctx context.Context, reportID int64, input service.DamageLineInput, expectedVersion int64) (*entity.DamageReport, error) {
	return m.addLineFunc(ctx, reportID, input, expectedVersion)
}

func (m *mockCoordinator) RemoveDamageLine(ctx context.Context, reportID int64, lineID string, expectedVersion int64) (*entity.DamageReport, error) {
	return m.removeLineFunc(ctx, reportID, lineID, expectedVersion)
}

func (m *mockCoordinator) RejectReport(ctx context.Context, reportID int64, rejecter, reason, category string, expectedVersion int64) (*entity.DamageReport, error) {
	return m.rejectFunc(ctx, reportID, rejecter, reason, category, expectedVersion)
}

func (m *mockCoordinator) GenerateBilling(ctx context.Context, reportID int64, params service.BillingParams, actor string) (*service.BillingResult, error) {
	return m.generateBillingFunc(ctx, reportID, params, actor)
}

func (m *mockCoordinator) ExportDamageStatement(ctx context.Context, reportID int64) (*service.Statement, error) {
	return m.exportFunc(ctx, reportID)
}

func (m *mockCoordinator) GetBillingStatus(ctx context.Context, reference string) (*entity.BillingRecord, error) {
	return m.getBillingFunc(ctx, reference)
}

type stubHealth struct{ err error }

func (s stubHealth) Health(ctx context.Context) error { return s.err }

func newTestServer(coord service.Coordinator, health HealthChecker) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(DefaultServerConfig(), coord, nil, health, nopLogger{})
}

func doRequest(s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		w := doRequest(newTestServer(&mockCoordinator{}, stubHealth{}), http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"healthy"`)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Database down", func(t *testing.T) {
		w := doRequest(newTestServer(&mockCoordinator{}, stubHealth{err: errors.New("closed")}), http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"database":"unavailable"`)
	})

	t.Run("Request id is propagated", func(t *testing.T) {
		w := doRequest(newTestServer(&mockCoordinator{}, nil), http.MethodGet, "/health", "", "X-Request-ID", "req-42")

		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	})
}

func TestPlaceOrder(t *testing.T) {
	var gotInput service.PlaceOrderInput
	var gotActor string
	coord := &mockCoordinator{
		placeOrderFunc: func(ctx context.Context, input service.PlaceOrderInput, actor string) (*entity.RentalOrder, error) {
			gotInput, gotActor = input, actor
			return &entity.RentalOrder{ID: 1, OrderNumber: "ORD-1", Status: entity.OrderStatusSeparacao}, nil
		},
	}
	body := `{
		"actor": "clerk",
		"customer_name": "Maria",
		"customer_document": "12345678909",
		"delivery_method": "pickup",
		"start_date": "2026-05-04T10:00:00Z",
		"end_date": "2026-05-06T10:00:00Z",
		"items": [{"equipment_id": "EQ-1", "quantity": 2, "daily_rate": "45.50"}]
	}`

	w := doRequest(newTestServer(coord, nil), http.MethodPost, "/api/orders", body)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "clerk", gotActor)
	assert.Equal(t, "Maria", gotInput.CustomerName)
	require.Len(t, gotInput.Items, 1)
	assert.True(t, gotInput.Items[0].DailyRate.Equal(decimal.RequireFromString("45.5")))
	assert.True(t, decode(t, w).Success)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   errs.Kind
		wantError  string
	}{
		{"Validation", errs.New(errs.KindValidation, "customer_name is required"), http.StatusBadRequest, errs.KindValidation, "customer_name is required"},
		{"Not found", errs.NotFound("order", 9), http.StatusNotFound, errs.KindNotFound, "order 9 not found"},
		{"Invalid transition", errs.New(errs.KindInvalidTransition, "cannot move"), http.StatusConflict, errs.KindInvalidTransition, "cannot move"},
		{"Conflict", errs.New(errs.KindConflict, "stale"), http.StatusConflict, errs.KindConflict, "stale"},
		{"Collaborator unavailable", errs.New(errs.KindCollaboratorUnavailable, "lalamove unavailable"), http.StatusBadGateway, errs.KindCollaboratorUnavailable, "lalamove unavailable"},
		{"Internal hides detail", errors.New("sql: connection refused"), http.StatusInternalServerError, errs.KindInternal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &mockCoordinator{
				getOrderFunc: func(ctx context.Context, orderID int64) (*entity.RentalOrder, error) {
					return nil, tt.err
				},
			}

			w := doRequest(newTestServer(coord, nil), http.MethodGet, "/api/orders/9", "")

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantKind, resp.ErrorKind)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestInvalidPathID(t *testing.T) {
	w := doRequest(newTestServer(&mockCoordinator{}, nil), http.MethodGet, "/api/orders/abc", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errs.KindValidation, decode(t, w).ErrorKind)
}

func TestTransitionOrder(t *testing.T) {
	t.Run("Uses actor header and expected version", func(t *testing.T) {
		coord := &mockCoordinator{
			transitionFunc: func(ctx context.Context, orderID int64, target entity.OrderStatus, actor string, expectedVersion int64) (*entity.RentalOrder, error) {
				assert.Equal(t, int64(3), orderID)
				assert.Equal(t, entity.OrderStatusProntoEnvio, target)
				assert.Equal(t, "ops", actor)
				assert.Equal(t, int64(4), expectedVersion)
				return &entity.RentalOrder{ID: 3, Status: target}, nil
			},
		}

		w := doRequest(newTestServer(coord, nil), http.MethodPost, "/api/orders/3/transitions",
			`{"target":"pronto_envio","expected_version":4}`, "X-Actor", "ops")

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Missing target", func(t *testing.T) {
		w := doRequest(newTestServer(&mockCoordinator{}, nil), http.MethodPost, "/api/orders/3/transitions", `{}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Dispatch failure still returns the order", func(t *testing.T) {
		coord := &mockCoordinator{
			transitionFunc: func(ctx context.Context, orderID int64, target entity.OrderStatus, actor string, expectedVersion int64) (*entity.RentalOrder, error) {
				return &entity.RentalOrder{ID: 3, Status: entity.OrderStatusAguardandoLalamove},
					errs.New(errs.KindCollaboratorUnavailable, "lalamove unavailable")
			},
		}

		w := doRequest(newTestServer(coord, nil), http.MethodPost, "/api/orders/3/transitions",
			`{"target":"aguardando_lalamove"}`)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"aguardando_lalamove"`)
	})
}

func TestDamageLines(t *testing.T) {
	t.Run("Add line", func(t *testing.T) {
		coord := &mockCoordinator{
			addLineFunc: func(ctx context.Context, reportID int64, input service.DamageLineInput, expectedVersion int64) (*entity.DamageReport, error) {
				assert.Equal(t, "Betoneira", input.ItemName)
				assert.Equal(t, "inspector", input.ReportedBy)
				assert.Equal(t, "120.5", input.RepairCost.String())
				assert.Equal(t, int64(2), expectedVersion)
				return &entity.DamageReport{ID: reportID, TotalCost: input.RepairCost}, nil
			},
		}

		w := doRequest(newTestServer(coord, nil), http.MethodPost, "/api/damage-reports/5/lines",
			`{"item_name":"Betoneira","severity":"high","category":"structural","repair_cost":"120.5","expected_version":2}`,
			"X-Actor", "inspector")

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Remove line with query version", func(t *testing.T) {
		coord := &mockCoordinator{
			removeLineFunc: func(ctx context.Context, reportID int64, lineID string, expectedVersion int64) (*entity.DamageReport, error) {
				assert.Equal(t, "line-1", lineID)
				assert.Equal(t, int64(7), expectedVersion)
				return &entity.DamageReport{ID: reportID}, nil
			},
		}

		w := doRequest(newTestServer(coord, nil), http.MethodDelete, "/api/damage-reports/5/lines/line-1?expected_version=7", "")

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Bad expected version", func(t *testing.T) {
		w := doRequest(newTestServer(&mockCoordinator{}, nil), http.MethodDelete, "/api/damage-reports/5/lines/line-1?expected_version=x", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRejectReport(t *testing.T) {
	coord := &mockCoordinator{
		rejectFunc: func(ctx context.Context, reportID int64, rejecter, reason, category string, expectedVersion int64) (*entity.DamageReport, error) {
			assert.Equal(t, "manager", rejecter)
			assert.Equal(t, "photos missing", reason)
			assert.Equal(t, "evidence", category)
			return nil, errs.New(errs.KindInvalidTransition, "report 5 is draft")
		},
	}

	w := doRequest(newTestServer(coord, nil), http.MethodPost, "/api/damage-reports/5/reject",
		`{"actor":"manager","reason":"photos missing","category":"evidence"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGenerateBilling(t *testing.T) {
	t.Run("Degraded result is still created", func(t *testing.T) {
		coord := &mockCoordinator{
			generateBillingFunc: func(ctx context.Context, reportID int64, params service.BillingParams, actor string) (*service.BillingResult, error) {
				assert.Equal(t, entity.BillingMethodPix, params.Method)
				assert.Equal(t, "10", params.DiscountPct.String())
				require.Len(t, params.Fees, 1)
				assert.Equal(t, "finance", actor)
				return &service.BillingResult{
					Record:   &entity.BillingRecord{Reference: "DAM-5-1", Degraded: true},
					Degraded: true,
				}, nil
			},
		}

		w := doRequest(newTestServer(coord, nil), http.MethodPost, "/api/damage-reports/5/billing",
			`{"method":"pix","discount_pct":"10","fees":[{"name":"cleaning","amount":"30"}],"actor":"finance"}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), `"degraded":true`)
	})

	t.Run("Already billed", func(t *testing.T) {
		coord := &mockCoordinator{
			generateBillingFunc: func(ctx context.Context, reportID int64, params service.BillingParams, actor string) (*service.BillingResult, error) {
				return nil, errs.New(errs.KindAlreadyBilled, "report 5 already billed")
			},
		}

		w := doRequest(newTestServer(coord, nil), http.MethodPost, "/api/damage-reports/5/billing", `{"method":"pix"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, errs.KindAlreadyBilled, decode(t, w).ErrorKind)
	})
}

func TestExportStatement(t *testing.T) {
	coord := &mockCoordinator{
		exportFunc: func(ctx context.Context, reportID int64) (*service.Statement, error) {
			return &service.Statement{Filename: "damage-statement-5.xlsx", Content: []byte("PK")}, nil
		},
	}

	w := doRequest(newTestServer(coord, nil), http.MethodGet, "/api/damage-reports/5/statement", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "damage-statement-5.xlsx")
	assert.Equal(t, "PK", w.Body.String())
}

func TestGetBilling(t *testing.T) {
	coord := &mockCoordinator{
		getBillingFunc: func(ctx context.Context, reference string) (*entity.BillingRecord, error) {
			assert.Equal(t, "DAM-5-1", reference)
			return &entity.BillingRecord{Reference: reference, Status: entity.BillingStatusPending}, nil
		},
	}

	w := doRequest(newTestServer(coord, nil), http.MethodGet, "/api/billing/DAM-5-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reference":"DAM-5-1"`)
}

func TestWebhookRoutesAreOptional(t *testing.T) {
	w := doRequest(newTestServer(&mockCoordinator{}, nil), http.MethodPost, "/webhooks/asaas", `{}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
