//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel risk
// evaluation engine against a running server.
//
// These tests verify the COMPLETE evaluation pipeline:
//
//	Opportunity + Shards + Catalog → Detectors → Aggregation → Evaluation
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server under test is located via KESTREL_TEST_URL (default
// http://localhost:8080). Each run uses its own tenant so reruns do not
// collide with stale catalog entries or evaluation history.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

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
		TenantID: fmt.Sprintf("itest-%d", time.Now().UnixNano()),
	}
}

func request(t *testing.T, config TestConfig, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func mustStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("Expected status %d, got %d: %s", want, resp.StatusCode, string(body))
	}
}

func createOpportunity(t *testing.T, config TestConfig, id string, amount float64, probability float64) {
	t.Helper()

	now := time.Now().UTC()
	resp, body := request(t, config, http.MethodPost, "/opportunities", map[string]interface{}{
		"id":                id,
		"name":              "Integration deal " + id,
		"stage":             "proposal",
		"amount":            amount,
		"currency":          "EUR",
		"probability":       probability,
		"expectedCloseDate": now.AddDate(0, 1, 0).Format(time.RFC3339),
		"ownerId":           "owner-itest",
		"stakeholderCount":  3,
		"lastActivityAt":    now.AddDate(0, 0, -1).Format(time.RFC3339),
	})
	mustStatus(t, resp, body, http.StatusCreated)
}

func createRule(t *testing.T, config TestConfig, riskID, expression string, ponderation float64) {
	t.Helper()

	resp, body := request(t, config, http.MethodPost, "/catalog", map[string]interface{}{
		"riskId":             riskID,
		"name":               riskID,
		"category":           "commercial",
		"defaultPonderation": ponderation,
		"active":             true,
		"detectionRule": map[string]interface{}{
			"expression": expression,
		},
	})
	mustStatus(t, resp, body, http.StatusCreated)
}

// SCENARIO 1: An opportunity with no matching catalog rules evaluates
// to a zero score with reduced trust (an empty result is an honest
// zero, not a confident one).
func TestEvaluate_NoMatchingRules(t *testing.T) {
	config := getTestConfig()
	createOpportunity(t, config, "opp-clean", 50000, 0.7)

	resp, body := request(t, config, http.MethodPost, "/opportunities/opp-clean/evaluate", nil)
	mustStatus(t, resp, body, http.StatusOK)

	var eval struct {
		ID         string  `json:"id"`
		RiskScore  float64 `json:"riskScore"`
		TrustLevel string  `json:"trustLevel"`
	}
	if err := json.Unmarshal(body, &eval); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}

	if eval.RiskScore != 0 {
		t.Errorf("Expected zero score with no findings, got %.2f", eval.RiskScore)
	}
	if eval.TrustLevel == "high" {
		t.Errorf("Expected trust below high for an empty result, got %s", eval.TrustLevel)
	}

	t.Logf("✓ Clean opportunity: score=%.2f, trust=%s", eval.RiskScore, eval.TrustLevel)
}

// SCENARIO 2: A tenant catalog rule fires on a matching opportunity
// and the score reflects the rule's ponderation.
func TestEvaluate_RuleFires(t *testing.T) {
	config := getTestConfig()
	createRule(t, config, "big-deal", "amount > 100000.0", 0.8)
	createOpportunity(t, config, "opp-big", 250000, 0.6)

	resp, body := request(t, config, http.MethodPost, "/opportunities/opp-big/evaluate", nil)
	mustStatus(t, resp, body, http.StatusOK)

	var eval struct {
		RiskScore float64 `json:"riskScore"`
		Risks     []struct {
			RiskID     string  `json:"riskId"`
			Confidence float64 `json:"confidence"`
		} `json:"risks"`
	}
	if err := json.Unmarshal(body, &eval); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if eval.RiskScore <= 0 {
		t.Errorf("Expected positive score, got %.2f", eval.RiskScore)
	}
	found := false
	for _, r := range eval.Risks {
		if r.RiskID == "big-deal" {
			found = true
			if r.Confidence != 1.0 {
				t.Errorf("Expected rule confidence 1.0, got %.2f", r.Confidence)
			}
		}
	}
	if !found {
		t.Errorf("Expected big-deal in contributing risks, got %+v", eval.Risks)
	}

	t.Logf("✓ Rule fired: score=%.2f, risks=%d", eval.RiskScore, len(eval.Risks))
}

// SCENARIO 3: Re-evaluating inside the freshness window returns the
// same evaluation; forceRefresh recomputes.
func TestEvaluate_Freshness(t *testing.T) {
	config := getTestConfig()
	createOpportunity(t, config, "opp-fresh", 50000, 0.7)

	_, first := request(t, config, http.MethodPost, "/opportunities/opp-fresh/evaluate", nil)
	_, second := request(t, config, http.MethodPost, "/opportunities/opp-fresh/evaluate", nil)

	var e1, e2 struct {
		ID string `json:"id"`
	}
	json.Unmarshal(first, &e1)
	json.Unmarshal(second, &e2)

	if e1.ID != e2.ID {
		t.Errorf("Expected fresh evaluation reuse, got %s then %s", e1.ID, e2.ID)
	}

	_, third := request(t, config, http.MethodPost, "/opportunities/opp-fresh/evaluate", map[string]interface{}{
		"forceRefresh": true,
	})
	var e3 struct {
		ID string `json:"id"`
	}
	json.Unmarshal(third, &e3)

	if e3.ID == e1.ID {
		t.Errorf("forceRefresh returned the cached evaluation %s", e3.ID)
	}

	t.Logf("✓ Freshness: reuse=%s, refresh=%s", e1.ID[:8], e3.ID[:8])
}

// SCENARIO 4: The score breakdown is served from the audit trail and
// carries the calculation steps of the evaluation.
func TestBreakdown_AfterEvaluation(t *testing.T) {
	config := getTestConfig()
	createOpportunity(t, config, "opp-audit", 50000, 0.7)

	// No evaluation yet: 404, never a computed-on-demand answer.
	resp, body := request(t, config, http.MethodGet, "/opportunities/opp-audit/risk/breakdown", nil)
	mustStatus(t, resp, body, http.StatusNotFound)

	resp, body = request(t, config, http.MethodPost, "/opportunities/opp-audit/evaluate", nil)
	mustStatus(t, resp, body, http.StatusOK)

	resp, body = request(t, config, http.MethodGet, "/opportunities/opp-audit/risk/breakdown", nil)
	mustStatus(t, resp, body, http.StatusOK)

	var breakdown struct {
		Breakdown []struct {
			Formula          string `json:"formula"`
			ScoreCalculation []struct {
				Kind string `json:"kind"`
			} `json:"scoreCalculation"`
		} `json:"breakdown"`
	}
	if err := json.Unmarshal(body, &breakdown); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(breakdown.Breakdown) == 0 {
		t.Fatal("Expected at least one audit entry")
	}
	if len(breakdown.Breakdown[0].ScoreCalculation) == 0 {
		t.Error("Expected calculation steps in the trail")
	}
	if breakdown.Breakdown[0].Formula == "" {
		t.Error("Expected the scoring formula to be recorded")
	}

	t.Logf("✓ Breakdown: %d entries, %d steps",
		len(breakdown.Breakdown), len(breakdown.Breakdown[0].ScoreCalculation))
}

// SCENARIO 5: Revenue at risk splits the deal value by the risk score.
func TestRevenueAtRisk(t *testing.T) {
	config := getTestConfig()
	createOpportunity(t, config, "opp-rar", 100000, 0.5)

	resp, body := request(t, config, http.MethodGet, "/opportunities/opp-rar/revenue-at-risk", nil)
	mustStatus(t, resp, body, http.StatusOK)

	var rar struct {
		DealValue         float64 `json:"dealValue"`
		RevenueAtRisk     float64 `json:"revenueAtRisk"`
		RiskAdjustedValue float64 `json:"riskAdjustedValue"`
	}
	if err := json.Unmarshal(body, &rar); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if rar.DealValue != 100000 {
		t.Errorf("Expected deal value 100000, got %.2f", rar.DealValue)
	}
	sum := rar.RevenueAtRisk + rar.RiskAdjustedValue
	if diff := sum - rar.DealValue; diff > 0.01 || diff < -0.01 {
		t.Errorf("Exposure split does not sum to deal value: %.2f + %.2f != %.2f",
			rar.RevenueAtRisk, rar.RiskAdjustedValue, rar.DealValue)
	}

	t.Logf("✓ Revenue at risk: %.2f at risk, %.2f adjusted", rar.RevenueAtRisk, rar.RiskAdjustedValue)
}

// SCENARIO 6: Updating a catalog entry queues re-evaluations for the
// tenant's opportunities; a later evaluation reflects the change.
func TestCatalogUpdate_Cascades(t *testing.T) {
	config := getTestConfig()
	createRule(t, config, "low-probability", "probability < 0.4", 0.6)
	createOpportunity(t, config, "opp-cascade", 60000, 0.3)

	resp, body := request(t, config, http.MethodPost, "/opportunities/opp-cascade/evaluate", nil)
	mustStatus(t, resp, body, http.StatusOK)

	var before struct {
		RiskScore float64 `json:"riskScore"`
	}
	json.Unmarshal(body, &before)
	if before.RiskScore <= 0 {
		t.Fatalf("Expected the rule to fire before the update, got %.2f", before.RiskScore)
	}

	// Disabling the rule cascades; a forced re-evaluation must no
	// longer include it.
	resp, body = request(t, config, http.MethodPost, "/catalog/low-probability/disable", nil)
	mustStatus(t, resp, body, http.StatusOK)

	resp, body = request(t, config, http.MethodPost, "/opportunities/opp-cascade/evaluate", map[string]interface{}{
		"forceRefresh": true,
	})
	mustStatus(t, resp, body, http.StatusOK)

	var after struct {
		RiskScore float64 `json:"riskScore"`
	}
	json.Unmarshal(body, &after)
	if after.RiskScore >= before.RiskScore {
		t.Errorf("Expected score to drop after disabling the rule: %.2f -> %.2f",
			before.RiskScore, after.RiskScore)
	}

	t.Logf("✓ Catalog cascade: score %.2f -> %.2f", before.RiskScore, after.RiskScore)
}

// SCENARIO 7: Input validation and tenant isolation at the HTTP edge.
func TestValidation(t *testing.T) {
	config := getTestConfig()

	t.Run("MissingTenantHeader", func(t *testing.T) {
		httpReq, _ := http.NewRequest(http.MethodGet, config.BaseURL+"/catalog", nil)
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(httpReq)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for missing tenant header, got %d", resp.StatusCode)
		}
	})

	t.Run("MissingName", func(t *testing.T) {
		resp, _ := request(t, config, http.MethodPost, "/opportunities", map[string]interface{}{
			"amount": 1000,
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for missing name, got %d", resp.StatusCode)
		}
	})

	t.Run("BadRuleExpression", func(t *testing.T) {
		resp, _ := request(t, config, http.MethodPost, "/catalog", map[string]interface{}{
			"riskId":             "broken",
			"name":               "Broken",
			"category":           "commercial",
			"defaultPonderation": 0.5,
			"detectionRule": map[string]interface{}{
				"expression": "amount >",
			},
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for malformed rule, got %d", resp.StatusCode)
		}
	})

	t.Run("UnknownOpportunity", func(t *testing.T) {
		resp, _ := request(t, config, http.MethodPost, "/opportunities/ghost/evaluate", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404 for unknown opportunity, got %d", resp.StatusCode)
		}
	})
}
