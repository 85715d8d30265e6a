package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"resume-gpt/internal/constants"
	"resume-gpt/templates"
)

// errorStatus maps pipeline errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, templates.ErrTemplateNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrUploadNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error, naming the failed stage when known.
func respondError(c *gin.Context, err error) {
	response := gin.H{"error": err.Error()}
	var pe *PipelineError
	if errors.As(err, &pe) {
		response["stage"] = pe.Stage
	}
	c.JSON(errorStatus(err), response)
}

// validUploadID rejects anything that is not an upload id before it is used
// in a file path.
func validUploadID(c *gin.Context, id string) bool {
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid upload ID"})
		return false
	}
	return true
}

// requireBearerSecret admits only requests carrying "Authorization: Bearer
// <secret>". An empty secret admits nothing.
func requireBearerSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if secret == "" || !found || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			log.WithField("path", c.FullPath()).Warn("Rejected unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// rootHandler handles the GET / endpoint
func rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Resume GPT API"})
}

// healthHandler handles the GET /health endpoint
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// templatesHandler handles the GET /api/templates endpoint
func (app *App) templatesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.Templates.List())
}

// progressHandler handles the GET /api/progress/:id endpoint
func (app *App) progressHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.Progress.Get(c.Param("id")))
}

// uploadResumeHandler handles the POST /api/upload-resume endpoint. It waits
// for the worker pool to finish the preview.
func (app *App) uploadResumeHandler(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	filename := filepath.Base(file.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are supported"})
		return
	}

	s := currentSettings()
	templateID := strings.TrimSpace(c.PostForm("template_id"))
	if templateID == "" {
		templateID = s.DefaultTemplate
	}
	if _, err := app.Templates.Get(templateID); err != nil {
		respondError(c, err)
		return
	}

	id := generateJobID()
	logger := uploadLogger(id).WithField("template_id", templateID)
	app.Progress.Set(id, constants.StageUploading, "Uploading your resume...")
	if err := InsertSession(app.Database, &ResumeSession{
		ID:               id,
		OriginalFilename: filename,
		TemplateID:       templateID,
		GenerationMode:   s.GenerationMode,
		Stage:            constants.StageUploading,
	}); err != nil {
		logger.Errorf("Failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	pdfPath := filepath.Join(app.uploadDir, uploadFile(id))
	if err := c.SaveUploadedFile(file, pdfPath); err != nil {
		logger.Errorf("Failed to save upload: %v", err)
		app.setStage(id, constants.StageError, "Error: failed to save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save upload"})
		return
	}
	app.setStage(id, constants.StageUploaded, "Upload complete! Extracting text...")
	logger.WithField("filename", filename).Info("Resume uploaded")

	job := newJob(id, filename, pdfPath, templateID, s)
	if err := app.Jobs.submit(job); err != nil {
		app.setStage(id, constants.StageError, "Error: "+err.Error())
		respondError(c, err)
		return
	}

	select {
	case <-job.Done():
	case <-c.Request.Context().Done():
		logger.Warn("Client went away before the preview was ready")
		return
	}

	result, err := job.Outcome()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// downloadHandler handles the GET /api/download/:id endpoint. The final
// document is served when it exists, the preview otherwise.
func (app *App) downloadHandler(c *gin.Context) {
	id := c.Param("id")
	if !validUploadID(c, id) {
		return
	}

	improved := filepath.Join(app.outputDir, improvedFile(id))
	if _, err := os.Stat(improved); err == nil {
		if err := IncrementDownloads(app.Database, id); err != nil {
			uploadLogger(id).Warnf("Failed to count download: %v", err)
		}
		c.FileAttachment(improved, "improved_resume.pdf")
		return
	}

	preview := filepath.Join(app.outputDir, previewFile(id))
	if _, err := os.Stat(preview); err == nil {
		c.FileAttachment(preview, "resume_preview.pdf")
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
}

// generatePDFHandler handles the POST /api/generate-pdf endpoint
func (app *App) generatePDFHandler(c *gin.Context) {
	var req FinalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}
	if !validUploadID(c, req.FileID) {
		return
	}

	url, err := app.renderFinal(c.Request.Context(), req)
	if err != nil {
		uploadLogger(req.FileID).Errorf("Final document failed: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "download_url": url})
}

// sessionHandler handles the GET /api/session/:id endpoint
func (app *App) sessionHandler(c *gin.Context) {
	session, err := GetSession(app.Database, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                session.ID,
		"original_filename": session.OriginalFilename,
		"template_id":       session.TemplateID,
		"generation_mode":   session.GenerationMode,
		"extraction_method": session.Method,
		"engine":            session.Engine,
		"page_count":        session.PageCount,
		"stage":             session.Stage,
		"error":             session.Error,
		"downloads":         session.Downloads,
		"created_at":        session.CreatedAt,
		"updated_at":        session.UpdatedAt,
	})
}

// getAllJobsHandler handles the GET /api/jobs endpoint
func (app *App) getAllJobsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, app.Jobs.GetAllJobs())
}

// getJobStatusHandler handles the GET /api/jobs/:job_id endpoint
func (app *App) getJobStatusHandler(c *gin.Context) {
	job, exists := app.Jobs.getJob(c.Param("job_id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// addCreditsHandler handles the POST /api/credits endpoint
func (app *App) addCreditsHandler(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Amount int    `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	balance, err := app.Credits.AddCredits(req.UserID, req.Amount)
	if err != nil {
		log.Errorf("Failed to add credits: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add credits"})
		return
	}
	log.WithField("user_id", req.UserID).Infof("Added %d credits", req.Amount)
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "balance": balance})
}

// getCreditsHandler handles the GET /api/credits/:user_id endpoint
func (app *App) getCreditsHandler(c *gin.Context) {
	userID := c.Param("user_id")
	balance, err := app.Credits.Balance(userID)
	if err != nil {
		log.Errorf("Failed to read credits: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read credits"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

// getSettingsHandler handles the GET /api/settings endpoint
func (app *App) getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, currentSettings())
}

// updateSettingsHandler handles the POST /api/settings endpoint. Fields left
// out of the payload keep their current value.
func (app *App) updateSettingsHandler(c *gin.Context) {
	next := currentSettings()
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}
	next.GenerationMode = strings.ToLower(strings.TrimSpace(next.GenerationMode))

	exists := func(id string) bool {
		_, err := app.Templates.Get(id)
		return err == nil
	}
	if err := next.validate(exists); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := replaceSettings(next); err != nil {
		log.Errorf("Failed to save settings: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, next)
}

// getPromptsHandler handles the GET /api/prompts endpoint
func (app *App) getPromptsHandler(c *gin.Context) {
	templateMutex.RLock()
	defer templateMutex.RUnlock()

	// Read the templates from files or use default content
	markersContent, err := os.ReadFile(filepath.Join(app.promptsDir, promptFile("markers")))
	if err != nil {
		markersContent = []byte(defaultMarkersPrompt)
	}
	jsonContent, err := os.ReadFile(filepath.Join(app.promptsDir, promptFile("json")))
	if err != nil {
		jsonContent = []byte(defaultJSONPrompt)
	}

	instructions := map[string]string{}
	for _, summary := range app.Templates.List() {
		if t, err := app.Templates.Get(summary.ID); err == nil {
			instructions[t.ID] = t.Instructions
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"markers_template": string(markersContent),
		"json_template":    string(jsonContent),
		"instructions":     instructions,
	})
}

// updatePromptsHandler handles the POST /api/prompts endpoint
func (app *App) updatePromptsHandler(c *gin.Context) {
	var req struct {
		MarkersTemplate string            `json:"markers_template"`
		JSONTemplate    string            `json:"json_template"`
		Instructions    map[string]string `json:"instructions"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	// Reject the whole request before anything changes
	for id := range req.Instructions {
		if _, err := app.Templates.Get(id); err != nil {
			respondError(c, err)
			return
		}
	}
	var markers, jsonPrompt *template.Template
	if req.MarkersTemplate != "" {
		t, err := template.New("markers").Funcs(sprig.FuncMap()).Parse(req.MarkersTemplate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid markers template: %v", err)})
			return
		}
		markers = t
	}
	if req.JSONTemplate != "" {
		t, err := template.New("json").Funcs(sprig.FuncMap()).Parse(req.JSONTemplate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid JSON template: %v", err)})
			return
		}
		jsonPrompt = t
	}

	templateMutex.Lock()
	defer templateMutex.Unlock()

	if markers != nil {
		markersTemplate = markers
		app.writePrompt(promptFile("markers"), req.MarkersTemplate)
	}
	if jsonPrompt != nil {
		jsonTemplate = jsonPrompt
		app.writePrompt(promptFile("json"), req.JSONTemplate)
	}
	for id, instructions := range req.Instructions {
		if err := app.Templates.SetInstructions(id, instructions); err != nil {
			respondError(c, err)
			return
		}
		app.writePrompt(templates.InstructionsFile(id), instructions)
	}

	c.Status(http.StatusOK)
}

func (app *App) writePrompt(name, content string) {
	path := filepath.Join(app.promptsDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		log.Errorf("Failed to write %s: %v", path, err)
		return
	}
	log.WithField("file", path).Debug("Prompt saved")
}
