package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-gpt/extract"
	"resume-gpt/internal/constants"
)

// newTestServer returns a router over a test App with a running worker pool.
func newTestServer(t *testing.T, gen Generator) (*App, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	setupPrompts(t)

	app := newTestApp(t, gen, &staticStrategy{method: extract.DirectText, text: sampleText})
	app.creditsSecret = testCreditsSecret
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	startWorkerPool(ctx, app, 1)
	return app, setupRouter(app)
}

const testCreditsSecret = "webhook-secret"

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONWithToken(t, router, method, path, "", body)
}

// topUp posts a credit top-up signed with the test secret.
func topUp(t *testing.T, router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONWithToken(t, router, http.MethodPost, "/api/credits", testCreditsSecret, body)
}

func doJSONWithToken(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func uploadResume(t *testing.T, router *gin.Engine, filename, templateID string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 placeholder"))
	require.NoError(t, err)
	if templateID != "" {
		require.NoError(t, writer.WriteField("template_id", templateID))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload-resume", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRootAndHealth(t *testing.T) {
	_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = doJSON(t, router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTemplatesHandler(t *testing.T) {
	_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})

	w := doJSON(t, router, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "professional", list[0]["id"])
	assert.Equal(t, "modern", list[1]["id"])
	assert.NotEmpty(t, list[0]["preview_image"])
}

func TestUploadResumeHandler(t *testing.T) {
	t.Run("rejects non-PDF files", func(t *testing.T) {
		_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})
		w := uploadResume(t, router, "cv.docx", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Only PDF files")
	})

	t.Run("rejects unknown templates", func(t *testing.T) {
		_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})
		w := uploadResume(t, router, "cv.pdf", "fancy")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "template not found")
	})

	t.Run("missing file", func(t *testing.T) {
		_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})
		w := doJSON(t, router, http.MethodPost, "/api/upload-resume", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("generation failure names the stage", func(t *testing.T) {
		_, router := newTestServer(t, &fakeGenerator{markers: "no markers at all"})
		require.NoError(t, replaceSettings(Settings{DefaultTemplate: "professional", GenerationMode: constants.ModeMarkers, StrictMode: true}))

		w := uploadResume(t, router, "cv.pdf", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.Equal(t, "rendering", body["stage"])
		assert.Contains(t, body["error"], "rendering stage failed")
	})
}

func TestUploadAndPurchaseFlow(t *testing.T) {
	app, router := newTestServer(t, &fakeGenerator{data: sampleResume()})

	w := uploadResume(t, router, "Jane CV.pdf", "modern")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	upload := decode(t, w)
	id := upload["id"].(string)
	assert.Equal(t, "Jane CV.pdf", upload["original_filename"])
	assert.Equal(t, "/api/download/"+id, upload["download_url"])
	assert.Equal(t, "modern", upload["template_id"])
	assert.Equal(t, sampleText, upload["original_text"])
	assert.NotNil(t, upload["improved_data"])

	// Progress and session reflect the finished pipeline
	w = doJSON(t, router, http.MethodGet, "/api/progress/"+id, nil)
	progress := decode(t, w)
	assert.Equal(t, constants.StageComplete, progress["stage"])
	assert.Equal(t, float64(100), progress["progress"])

	w = doJSON(t, router, http.MethodGet, "/api/session/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	session := decode(t, w)
	assert.Equal(t, "DirectText", session["extraction_method"])
	assert.Equal(t, "modern", session["template_id"])

	w = doJSON(t, router, http.MethodGet, "/api/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])

	// Only the preview exists so far
	w = doJSON(t, router, http.MethodGet, "/api/download/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "resume_preview.pdf")
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))

	// No entitlement and no credits
	purchase := map[string]string{"file_id": id, "user_id": "user-1"}
	w = doJSON(t, router, http.MethodPost, "/api/generate-pdf", purchase)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "entitlement", decode(t, w)["stage"])

	w = topUp(t, router, map[string]interface{}{"user_id": "user-1", "amount": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["balance"])

	w = doJSON(t, router, http.MethodPost, "/api/generate-pdf", purchase)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	final := decode(t, w)
	assert.Equal(t, "success", final["status"])
	assert.Equal(t, "/api/download/"+id, final["download_url"])

	w = doJSON(t, router, http.MethodGet, "/api/credits/user-1", nil)
	assert.Equal(t, float64(0), decode(t, w)["balance"])

	w = doJSON(t, router, http.MethodGet, "/api/download/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "improved_resume.pdf")

	stored, err := GetSession(app.Database, id)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Downloads)
}

func TestDownloadHandler(t *testing.T) {
	_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})

	w := doJSON(t, router, http.MethodGet, "/api/download/..%2F..%2Fetc%2Fpasswd", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/download/"+generateJobID(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGeneratePDFHandler_Validation(t *testing.T) {
	_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})

	w := doJSON(t, router, http.MethodPost, "/api/generate-pdf", map[string]string{"file_id": generateJobID()})
	assert.Equal(t, http.StatusBadRequest, w.Code, "user_id is required")

	w = doJSON(t, router, http.MethodPost, "/api/generate-pdf", map[string]string{"file_id": generateJobID(), "user_id": "u"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_NotFound(t *testing.T) {
	_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})
	w := doJSON(t, router, http.MethodGet, "/api/session/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreditsHandler_Validation(t *testing.T) {
	_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})

	w := topUp(t, router, map[string]interface{}{"user_id": "u", "amount": -2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = topUp(t, router, map[string]interface{}{"amount": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreditsHandler_RequiresSecret(t *testing.T) {
	app, router := newTestServer(t, &fakeGenerator{data: sampleResume()})
	grant := map[string]interface{}{"user_id": "mallory", "amount": 100}

	for name, token := range map[string]string{
		"missing token": "",
		"wrong token":   "guess",
	} {
		t.Run(name, func(t *testing.T) {
			w := doJSONWithToken(t, router, http.MethodPost, "/api/credits", token, grant)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	balance, err := app.Credits.Balance("mallory")
	require.NoError(t, err)
	assert.Equal(t, 0, balance, "rejected top-ups grant nothing")

	w := topUp(t, router, grant)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireBearerSecret_EmptySecretRejectsAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/hook", requireBearerSecret(""), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := doJSONWithToken(t, router, http.MethodPost, "/hook", "anything", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doJSON(t, router, http.MethodPost, "/hook", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSettingsHandlers(t *testing.T) {
	_, router := newTestServer(t, &fakeGenerator{data: sampleResume()})

	w := doJSON(t, router, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "professional", decode(t, w)["default_template"])

	w = doJSON(t, router, http.MethodPost, "/api/settings", map[string]interface{}{"generation_mode": "Markers"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := currentSettings()
	assert.Equal(t, constants.ModeMarkers, updated.GenerationMode)
	assert.Equal(t, "professional", updated.DefaultTemplate, "omitted fields are kept")
	assert.True(t, updated.StrictMode)

	w = doJSON(t, router, http.MethodPost, "/api/settings", map[string]interface{}{"default_template": "fancy"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "professional", currentSettings().DefaultTemplate)

	w = doJSON(t, router, http.MethodPost, "/api/settings", map[string]interface{}{"generation_mode": "xml"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromptsHandlers(t *testing.T) {
	app, router := newTestServer(t, &fakeGenerator{data: sampleResume()})

	w := doJSON(t, router, http.MethodGet, "/api/prompts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	prompts := decode(t, w)
	assert.Equal(t, defaultMarkersPrompt, prompts["markers_template"])
	instructions := prompts["instructions"].(map[string]interface{})
	assert.Contains(t, instructions, "professional")
	assert.Contains(t, instructions, "modern")

	w = doJSON(t, router, http.MethodPost, "/api/prompts", map[string]interface{}{
		"markers_template": "{{.Instructions | upper}}\n{{.Content}}",
		"instructions":     map[string]string{"modern": "Use [TITLE: ...] only"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	content, err := os.ReadFile(filepath.Join(app.promptsDir, promptFile("markers")))
	require.NoError(t, err)
	assert.Equal(t, "{{.Instructions | upper}}\n{{.Content}}", string(content))
	_, modern, err := app.Templates.Lookup("modern")
	require.NoError(t, err)
	assert.Equal(t, "Use [TITLE: ...] only", modern)
	assert.FileExists(t, filepath.Join(app.promptsDir, "modern_instructions.txt"))

	w = doJSON(t, router, http.MethodPost, "/api/prompts", map[string]interface{}{"json_template": "{{.Content"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/prompts", map[string]interface{}{
		"instructions": map[string]string{"fancy": "x"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
