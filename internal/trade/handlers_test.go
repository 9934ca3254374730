package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *env) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := newEnv(t)
	handler := NewHandler(e.service)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)

	// Use X-User-ID header as a test stand-in for auth middleware
	authGroup := v1.Group("")
	authGroup.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-User-ID"); id != "" {
			c.Set("authUserID", id)
		}
		c.Next()
	})
	handler.RegisterProtectedRoutes(authGroup)

	return r, e
}

func postJSON(router *gin.Engine, path, userID string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type tradeResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Message     string `json:"message"`
	Transaction struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"transaction"`
}

func TestHandler_OpenConfirmFlow(t *testing.T) {
	router, e := setupTestRouter(t)
	e.account(t, "buyer", "100")
	e.account(t, "seller", "0")

	w := postJSON(router, "/v1/trades", "buyer", OpenTradeRequest{
		SellerID: "seller",
		Amount:   "40",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp tradeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success || resp.Transaction.Status != "escrowed" {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
	txnID := resp.Transaction.ID

	w = postJSON(router, "/v1/trades/"+txnID+"/confirm", "buyer", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("buyer confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = postJSON(router, "/v1/trades/"+txnID+"/confirm", "seller", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("seller confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Transaction.Status != "confirmed" {
		t.Errorf("expected confirmed, got %s", resp.Transaction.Status)
	}

	// GET the finished trade
	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/trades/"+txnID, nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get trade: expected 200, got %d", w.Code)
	}
}

func TestHandler_InsufficientFunds(t *testing.T) {
	router, e := setupTestRouter(t)
	e.account(t, "buyer", "20")
	e.account(t, "seller", "0")

	w := postJSON(router, "/v1/trades", "buyer", OpenTradeRequest{
		SellerID: "seller",
		Amount:   "40",
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}

	var resp tradeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Error != "insufficient_funds" {
		t.Errorf("unexpected response: %s", w.Body.String())
	}
}

func TestHandler_Unauthorized(t *testing.T) {
	router, e := setupTestRouter(t)
	e.account(t, "buyer", "100")
	e.account(t, "seller", "0")
	txn := e.open(t, "buyer", "seller", "40")

	w := postJSON(router, "/v1/trades/"+txn.ID+"/confirm", "stranger", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_NotFound(t *testing.T) {
	router, e := setupTestRouter(t)
	e.account(t, "buyer", "100")

	w := postJSON(router, "/v1/trades/txn_missing/confirm", "buyer", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_AlreadyTerminalIsSuccess(t *testing.T) {
	router, e := setupTestRouter(t)
	e.account(t, "buyer", "100")
	e.account(t, "seller", "0")
	txn := e.open(t, "buyer", "seller", "40")

	if _, err := e.service.Cancel(context.Background(), txn.ID, "buyer", ""); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// Retrying the cancel over HTTP is a 200 with success=true.
	w := postJSON(router, "/v1/trades/"+txn.ID+"/cancel", "buyer", CancelTradeRequest{Reason: "retry"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for already-terminal retry, got %d: %s", w.Code, w.Body.String())
	}
	var resp tradeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Errorf("already-terminal retry must report success: %s", w.Body.String())
	}
}

func TestHandler_Validation(t *testing.T) {
	router, e := setupTestRouter(t)
	e.account(t, "buyer", "100")

	w := postJSON(router, "/v1/trades", "buyer", OpenTradeRequest{
		SellerID: "seller",
		Amount:   "not-a-number",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w = postJSON(router, "/v1/trades", "buyer", map[string]string{"sellerId": "seller"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing amount: expected 400, got %d", w.Code)
	}
}

func TestHandler_ListTrades(t *testing.T) {
	router, e := setupTestRouter(t)
	e.account(t, "buyer", "100")
	e.account(t, "s1", "0")
	e.account(t, "s2", "0")
	e.open(t, "buyer", "s1", "10")
	e.open(t, "buyer", "s2", "10")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/users/buyer/trades", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("expected 2 trades, got %d", resp.Count)
	}
}
