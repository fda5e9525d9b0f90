package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func initUploadSession(t *testing.T, ta *testApp, totalSize int64, totalChunks int) string {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{
		"fileName":    "clip.mp4",
		"totalSize":   totalSize,
		"totalChunks": totalChunks,
		"tool":        "compress",
	})

	resp, err := doUserRequest(t, ta.app, http.MethodPost, "/api/upload/init", string(body))
	if err != nil {
		t.Fatalf("init request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	uploadID, _ := result["uploadId"].(string)
	if uploadID == "" {
		t.Fatalf("no uploadId in response: %v", result)
	}
	return uploadID
}

func putChunk(t *testing.T, ta *testApp, uploadID string, index int, data []byte) *http.Response {
	t.Helper()
	resp, err := doRawPut(ta.app, "/api/upload/chunk", data, chunkHeaders(testUser, uploadID, index))
	if err != nil {
		t.Fatalf("chunk request failed: %v", err)
	}
	return resp
}

// chunkHeaders addresses a chunk slot the way the binary PUT expects: the
// session and index travel in headers, not the path.
func chunkHeaders(user, uploadID string, index int) map[string]string {
	h := gatewayHeaders(user)
	h["X-Upload-Id"] = uploadID
	h["X-Chunk-Index"] = fmt.Sprintf("%d", index)
	return h
}

func TestUploadFullFlow(t *testing.T) {
	ta := setupApp(t)
	parts := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cc")}
	uploadID := initUploadSession(t, ta, 10, 3)

	// Out-of-order arrival is fine.
	for _, i := range []int{2, 0, 1} {
		assertStatus(t, putChunk(t, ta, uploadID, i, parts[i]), http.StatusNoContent)
	}

	resp, err := doUserRequest(t, ta.app, http.MethodPost, "/api/upload/"+uploadID+"/complete", "")
	if err != nil {
		t.Fatalf("complete request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatalf("no jobId in response: %v", result)
	}
	if result["jobToken"] == "" {
		t.Error("expected a job token")
	}

	status := waitForJob(t, ta, jobID)
	if status["status"] != "completed" {
		t.Fatalf("reassembled job did not complete: %v", status)
	}
}

func TestUploadCompleteRejectsMissingChunk(t *testing.T) {
	ta := setupApp(t)
	uploadID := initUploadSession(t, ta, 10, 3)

	assertStatus(t, putChunk(t, ta, uploadID, 0, []byte("aaaa")), http.StatusNoContent)
	assertStatus(t, putChunk(t, ta, uploadID, 2, []byte("cc")), http.StatusNoContent)

	resp, err := doUserRequest(t, ta.app, http.MethodPost, "/api/upload/"+uploadID+"/complete", "")
	if err != nil {
		t.Fatalf("complete request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	body := parseJSON(t, resp)
	errObj, _ := body["error"].(map[string]interface{})
	details, _ := errObj["details"].(map[string]interface{})
	if details["missingIndex"] != float64(1) {
		t.Errorf("expected missingIndex 1, got %v", body)
	}
}

func TestUploadChunkValidation(t *testing.T) {
	ta := setupApp(t)
	uploadID := initUploadSession(t, ta, 10, 2)

	// Empty body
	assertStatus(t, putChunk(t, ta, uploadID, 0, nil), http.StatusBadRequest)

	// Index out of range
	assertStatus(t, putChunk(t, ta, uploadID, 5, []byte("x")), http.StatusBadRequest)

	// Missing addressing headers
	resp, err := doRawPut(ta.app, "/api/upload/chunk", []byte("x"), gatewayHeaders(testUser))
	if err != nil {
		t.Fatalf("chunk request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	// Unknown session
	resp, err = doRawPut(ta.app, "/api/upload/chunk", []byte("x"), chunkHeaders(testUser, "nope", 0))
	if err != nil {
		t.Fatalf("chunk request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)

	// Someone else's session
	resp, err = doRawPut(ta.app, "/api/upload/chunk", []byte("x"), chunkHeaders("someone-else", uploadID, 0))
	if err != nil {
		t.Fatalf("chunk request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusForbidden)

	// Oversize: the two chunks together exceed the declared 10 bytes.
	assertStatus(t, putChunk(t, ta, uploadID, 0, []byte("123456789")), http.StatusNoContent)
	assertStatus(t, putChunk(t, ta, uploadID, 1, []byte("123456789")), http.StatusBadRequest)
}

func TestUploadInitValidation(t *testing.T) {
	ta := setupApp(t)

	cases := []struct {
		name string
		body string
	}{
		{"unknown tool", `{"fileName":"a.mp4","totalSize":10,"totalChunks":1,"tool":"karaoke"}`},
		{"zero chunks", `{"fileName":"a.mp4","totalSize":10,"totalChunks":0,"tool":"compress"}`},
		{"missing size", `{"fileName":"a.mp4","totalChunks":1,"tool":"compress"}`},
	}
	for _, tc := range cases {
		resp, err := doUserRequest(t, ta.app, http.MethodPost, "/api/upload/init", tc.body)
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.name, err)
		}
		assertStatus(t, resp, http.StatusBadRequest)
	}
}
