//go:build integration

// Package integration exercises a running Kestrel server end to end.
//
// Start the server, then run:
//
//	go test -tags=integration -v ./tests/integration/...
//
// KESTREL_TEST_URL overrides the default http://localhost:8080.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "it-" + uuid.NewString()[:8],
	}
}

// ScoreResponse mirrors the fields of a scored result the tests assert on.
type ScoreResponse struct {
	ID            string   `json:"id"`
	TenantID      string   `json:"tenantId"`
	SubjectID     string   `json:"subjectId"`
	Kind          string   `json:"kind"`
	EnsembleScore float64  `json:"ensembleScore"`
	Confidence    float64  `json:"confidence"`
	Verdict       string   `json:"verdict"`
	RiskFactors   []string `json:"riskFactors"`
	ModelScores   []struct {
		Model string  `json:"model"`
		Score float64 `json:"score"`
	} `json:"modelScores"`
	RecommendedAction string `json:"recommendedAction"`
	AlertID           string `json:"alertId"`
}

func do(t *testing.T, cfg TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, cfg.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", cfg.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func score(t *testing.T, cfg TestConfig, path string, body any) ScoreResponse {
	t.Helper()
	status, respBody := do(t, cfg, http.MethodPost, path, body)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, respBody)
	}
	var result ScoreResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, respBody)
	}
	return result
}

func fraudTransaction(id string) map[string]any {
	return map[string]any{
		"id":          id,
		"amount":      15000,
		"merchant":    "Electronics Store",
		"location":    "Unknown",
		"cardPresent": false,
		"timestamp":   "2025-03-01T14:00:00Z",
		"history":     []float64{50, 60, 55},
	}
}

func TestFraudulentTransaction(t *testing.T) {
	cfg := getTestConfig()

	result := score(t, cfg, "/score/transaction", fraudTransaction("tx-fraud-"+uuid.NewString()))

	if result.Verdict != "fraudulent" {
		t.Errorf("Expected verdict fraudulent, got %s (score %.3f)", result.Verdict, result.EnsembleScore)
	}
	if result.EnsembleScore < 0.8 || result.EnsembleScore > 0.87 {
		t.Errorf("Expected ensemble score near 0.837, got %.3f", result.EnsembleScore)
	}
	if len(result.ModelScores) != 3 {
		t.Errorf("Expected 3 model scores, got %d", len(result.ModelScores))
	}
	if len(result.RiskFactors) == 0 || len(result.RiskFactors) > 8 {
		t.Errorf("Expected 1..8 risk factors, got %v", result.RiskFactors)
	}
	if result.AlertID == "" {
		t.Error("Expected a critical alert to be raised")
	}
}

func TestLegitimateTransaction(t *testing.T) {
	cfg := getTestConfig()

	result := score(t, cfg, "/score/transaction", map[string]any{
		"id":          "tx-legit-" + uuid.NewString(),
		"amount":      42.99,
		"merchant":    "Coffee Shop",
		"location":    "New York, US",
		"cardPresent": true,
		"timestamp":   "2025-03-01T14:00:00Z",
		"history":     []float64{40, 45, 38},
	})

	if result.Verdict != "legitimate" {
		t.Errorf("Expected verdict legitimate, got %s (score %.3f)", result.Verdict, result.EnsembleScore)
	}
	if result.EnsembleScore > 0.1 {
		t.Errorf("Expected a low score, got %.3f", result.EnsembleScore)
	}
	if result.AlertID != "" {
		t.Errorf("Expected no alert, got %s", result.AlertID)
	}
}

func TestInvalidTransaction(t *testing.T) {
	cfg := getTestConfig()

	status, body := do(t, cfg, http.MethodPost, "/score/transaction", map[string]any{
		"id":     "tx-negative",
		"amount": -5,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", status, body)
	}
	if !strings.Contains(string(body), "amount") {
		t.Errorf("Expected error to name the amount field, got %s", body)
	}
}

func TestBiometricHeadlessBrowser(t *testing.T) {
	cfg := getTestConfig()

	result := score(t, cfg, "/score/biometric", map[string]any{
		"sessionId": "sess-" + uuid.NewString(),
		"device": map[string]any{
			"screenResolution":    "1920x1080",
			"timezone":            "UTC",
			"language":            "en-US",
			"platform":            "Linux x86_64",
			"userAgent":           "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0",
			"hardwareConcurrency": 8,
		},
	})

	if result.Kind != "biometric" {
		t.Errorf("Expected biometric kind, got %s", result.Kind)
	}
	if len(result.ModelScores) != 4 {
		t.Errorf("Expected 4 model scores, got %d", len(result.ModelScores))
	}
	found := false
	for _, f := range result.RiskFactors {
		if f == "suspicious_user_agent" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected suspicious_user_agent factor, got %v", result.RiskFactors)
	}
}

func TestResultAuditAndReplay(t *testing.T) {
	cfg := getTestConfig()
	scored := score(t, cfg, "/score/transaction", fraudTransaction("tx-audit-"+uuid.NewString()))

	// Persistence is asynchronous.
	var status int
	var body []byte
	for i := 0; i < 50; i++ {
		status, body = do(t, cfg, http.MethodGet, "/results/"+scored.ID, nil)
		if status == http.StatusOK {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status != http.StatusOK {
		t.Fatalf("Expected stored result, got %d: %s", status, body)
	}

	status, body = do(t, cfg, http.MethodPost, "/results/"+scored.ID+"/replay", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected replay 200, got %d: %s", status, body)
	}
	var replay struct {
		Matches bool `json:"matches"`
	}
	if err := json.Unmarshal(body, &replay); err != nil {
		t.Fatalf("Failed to parse replay: %v", err)
	}
	if !replay.Matches {
		t.Errorf("Expected replay to reproduce the stored verdict: %s", body)
	}

	other := cfg
	other.TenantID = cfg.TenantID + "-other"
	if status, _ := do(t, other, http.MethodGet, "/results/"+scored.ID, nil); status != http.StatusNotFound {
		t.Errorf("Expected result to be invisible to another tenant, got %d", status)
	}
}

func TestAlertLifecycle(t *testing.T) {
	cfg := getTestConfig()
	scored := score(t, cfg, "/score/transaction", fraudTransaction("tx-alert-"+uuid.NewString()))
	if scored.AlertID == "" {
		t.Fatal("Expected alert id")
	}

	var status int
	var body []byte
	for i := 0; i < 50; i++ {
		status, body = do(t, cfg, http.MethodPost, "/alerts/"+scored.AlertID+"/acknowledge", nil)
		if status == http.StatusOK {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status != http.StatusOK {
		t.Fatalf("Expected acknowledge 200, got %d: %s", status, body)
	}

	status, body = do(t, cfg, http.MethodGet, "/alerts?status=acknowledged", nil)
	if status != http.StatusOK || !strings.Contains(string(body), scored.AlertID) {
		t.Errorf("Expected acknowledged alert in list, got %d: %s", status, body)
	}
}

func TestFactorRuleLifecycle(t *testing.T) {
	cfg := getTestConfig()
	ruleID := "it-rule-" + uuid.NewString()[:8]

	status, body := do(t, cfg, http.MethodPost, "/rules", map[string]any{
		"id":           ruleID,
		"name":         "Unknown location card not present",
		"kind":         "transaction",
		"expression":   `!card_present && high_risk_location`,
		"tag":          "unknown_location_cnp",
		"significance": 0.99,
		"enabled":      true,
	})
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", status, body)
	}
	defer do(t, cfg, http.MethodDelete, "/rules/"+ruleID, nil)

	if status, body := do(t, cfg, http.MethodPost, "/rules/reload", nil); status != http.StatusOK {
		t.Fatalf("Expected reload 200, got %d: %s", status, body)
	}

	result := score(t, cfg, "/score/transaction", fraudTransaction("tx-rule-"+uuid.NewString()))
	if len(result.RiskFactors) == 0 || result.RiskFactors[0] != "unknown_location_cnp" {
		t.Errorf("Expected custom factor first, got %v", result.RiskFactors)
	}

	status, body = do(t, cfg, http.MethodPost, "/rules", map[string]any{
		"id":         "it-bad",
		"expression": "this is not CEL",
		"tag":        "bad",
		"enabled":    true,
	})
	if status != http.StatusBadRequest {
		t.Errorf("Expected invalid rule to be rejected, got %d: %s", status, body)
	}
}

func TestStream(t *testing.T) {
	cfg := getTestConfig()
	url := "ws" + strings.TrimPrefix(cfg.BaseURL, "http") + "/stream?tenant=" + cfg.TenantID

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			t.Skip("stream disabled on this server")
		}
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		frame := map[string]any{
			"type":    "transaction",
			"ref":     fmt.Sprintf("ref-%d", i),
			"payload": fraudTransaction(fmt.Sprintf("tx-ws-%d-%s", i, uuid.NewString())),
		}
		if err := conn.WriteJSON(frame); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 3; i++ {
		var out struct {
			Type   string `json:"type"`
			Ref    string `json:"ref"`
			Result *struct {
				Verdict string `json:"verdict"`
			} `json:"result"`
		}
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if out.Type != "result" || out.Result == nil || out.Result.Verdict != "fraudulent" {
			t.Errorf("Unexpected frame %+v", out)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	cfg := getTestConfig()

	if status, body := do(t, cfg, http.MethodGet, "/health", nil); status != http.StatusOK {
		t.Errorf("Expected healthy, got %d: %s", status, body)
	}
	status, body := do(t, cfg, http.MethodGet, "/metrics", nil)
	if status != http.StatusOK || !strings.Contains(string(body), "kestrel_scored_total") {
		t.Errorf("Expected Prometheus exposition, got %d", status)
	}
}
