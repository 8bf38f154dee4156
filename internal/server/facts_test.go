package server

import (
	"net/http"
	"testing"
)

func TestFactEndpoints(t *testing.T) {
	srv := testServer(t)

	code, body := do(t, srv, "POST", "/api/namespaces/t1/facts",
		`{"subject":"OpenAI","predicate":"has_CEO","object":"Sam Altman","valid_from":"2019-03-01"}`)
	if code != http.StatusCreated {
		t.Fatalf("insert = %d %v", code, body)
	}
	firstID := body["id"].(string)

	code, body = do(t, srv, "POST", "/api/namespaces/t1/facts",
		`{"subject":"OpenAI","predicate":"has_CEO","object":"X","valid_from":"2023-11-01T00:00:00Z"}`)
	if code != http.StatusCreated {
		t.Fatalf("second insert = %d %v", code, body)
	}
	closed := body["closed"].(map[string]any)
	if closed["id"] != firstID || closed["valid_to"] != "2023-11-01T00:00:00Z" {
		t.Errorf("closed = %v", closed)
	}

	// Same object again is an update, not a new interval.
	code, body = do(t, srv, "POST", "/api/namespaces/t1/facts",
		`{"subject":"OpenAI","predicate":"has_CEO","object":"X","valid_from":"2024-01-01"}`)
	if code != http.StatusOK || body["updated"] != true {
		t.Errorf("idempotent insert = %d %v", code, body)
	}

	_, body = do(t, srv, "GET", "/api/namespaces/t1/facts/at?subject=OpenAI&predicate=has_CEO&at=2021-01-01", "")
	if body["object"] != "Sam Altman" {
		t.Errorf("at 2021 = %v", body)
	}
	_, body = do(t, srv, "GET", "/api/namespaces/t1/facts/current?subject=OpenAI&predicate=has_CEO", "")
	if body["object"] != "X" {
		t.Errorf("current = %v", body)
	}

	_, body = do(t, srv, "GET", "/api/namespaces/t1/facts/timeline?subject=OpenAI&predicate=has_CEO", "")
	if n := len(body["facts"].([]any)); n != 2 {
		t.Errorf("timeline has %d facts, want 2", n)
	}

	code, body = do(t, srv, "GET", "/api/namespaces/t1/facts/compare?subject=OpenAI&t1=2021-01-01&t2=2024-06-01", "")
	if code != http.StatusOK || len(body["changed"].([]any)) != 1 {
		t.Errorf("compare = %d %v", code, body)
	}

	_, body = do(t, srv, "GET", "/api/namespaces/t1/facts/volatile", "")
	pairs := body["pairs"].([]any)
	if len(pairs) != 1 || pairs[0].(map[string]any)["changes"].(float64) != 1 {
		t.Errorf("volatile = %v", pairs)
	}

	code, body = do(t, srv, "POST", "/api/namespaces/t1/facts/invalidate",
		`{"subject":"OpenAI","predicate":"has_CEO","at":"2025-01-01"}`)
	if code != http.StatusOK || body["valid_to"] == nil {
		t.Errorf("invalidate = %d %v", code, body)
	}

	code, _ = do(t, srv, "GET", "/api/namespaces/t2/facts/"+firstID, "")
	if code != http.StatusForbidden {
		t.Errorf("cross-namespace fact = %d, want 403", code)
	}
	code, body = do(t, srv, "PATCH", "/api/namespaces/t1/facts/"+firstID, `{"confidence":0.3}`)
	if code != http.StatusOK || body["confidence"].(float64) != 0.3 {
		t.Errorf("update = %d %v", code, body)
	}
	code, _ = do(t, srv, "DELETE", "/api/namespaces/t1/facts/"+firstID, "")
	if code != http.StatusOK {
		t.Errorf("purge = %d", code)
	}
	code, _ = do(t, srv, "GET", "/api/namespaces/t1/facts/"+firstID, "")
	if code != http.StatusNotFound {
		t.Errorf("get after purge = %d, want 404", code)
	}
}

func TestFactBackfillRejected(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/namespaces/t1/facts", `{"subject":"a","predicate":"b","object":"c","valid_from":"2020-01-01"}`)
	code, body := do(t, srv, "POST", "/api/namespaces/t1/facts", `{"subject":"a","predicate":"b","object":"d","valid_from":"2019-01-01"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (%v)", code, body)
	}
}
