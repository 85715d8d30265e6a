package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"resume-gpt/extract"
	"resume-gpt/internal/constants"
	"resume-gpt/marker"
	"resume-gpt/render"
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageExtraction  Stage = "extraction"
	StageGeneration  Stage = "generation"
	StageParsing     Stage = "parsing"
	StageRendering   Stage = "rendering"
	StageEntitlement Stage = "entitlement"
)

var (
	// ErrPaymentRequired is returned when a user has neither an active
	// entitlement nor a credit.
	ErrPaymentRequired = errors.New("no active entitlement and no credits left")

	// ErrUploadNotFound is returned for upload ids without stored artifacts.
	ErrUploadNotFound = errors.New("upload not found")
)

// PipelineError tells the caller which stage of the pipeline failed.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func stageError(stage Stage, err error) error {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return &PipelineError{Stage: stage, Err: err}
}

// Generation is the generator output for one upload. It is written next to
// the preview so the final document can be rendered without calling the
// generator again.
type Generation struct {
	UploadID         string             `json:"upload_id"`
	Mode             string             `json:"mode"`
	TemplateID       string             `json:"template_id"`
	ExtractionMethod string             `json:"extraction_method"`
	OriginalText     string             `json:"original_text"`
	Text             string             `json:"improved_text,omitempty"`
	Data             *marker.ResumeData `json:"improved_data,omitempty"`
	Simulated        bool               `json:"simulated"`
	Strict           bool               `json:"strict"`
	CreatedAt        time.Time          `json:"created_at"`
}

// UploadResult is returned to the client once the preview is ready.
type UploadResult struct {
	ID               string             `json:"id"`
	OriginalFilename string             `json:"original_filename"`
	Timestamp        time.Time          `json:"timestamp"`
	OriginalText     string             `json:"original_text"`
	ImprovedData     *marker.ResumeData `json:"improved_data,omitempty"`
	ImprovedText     string             `json:"improved_text,omitempty"`
	DownloadURL      string             `json:"download_url"`
	ExtractionMethod string             `json:"extraction_method"`
	TemplateID       string             `json:"template_id"`
	GenerationMode   string             `json:"generation_mode"`
	Simulated        bool               `json:"simulated"`
}

func uploadFile(id string) string   { return id + ".pdf" }
func previewFile(id string) string  { return id + "_preview.pdf" }
func improvedFile(id string) string { return id + "_improved.pdf" }
func debugFile(id string) string    { return id + "_debug.json" }

func downloadURL(id string) string { return "/api/download/" + id }

func uploadLogger(id string) *logrus.Entry {
	return log.WithField("upload_id", id)
}

// setStage records progress for the client and the stored session.
func (app *App) setStage(id, stage, message string) {
	app.Progress.Set(id, stage, message)
	changes := ResumeSession{Stage: stage}
	if stage == constants.StageError {
		changes.Error = message
	}
	if err := UpdateSession(app.Database, id, changes); err != nil {
		uploadLogger(id).WithError(err).Warn("Failed to update session stage")
	}
}

// processUpload runs extraction, generation and preview rendering for one
// uploaded PDF. The stages run strictly in that order.
func (app *App) processUpload(ctx context.Context, job *Job) (*UploadResult, error) {
	logger := uploadLogger(job.ID).WithField("template_id", job.TemplateID)

	style, instructions, err := app.Templates.Lookup(job.TemplateID)
	if err != nil {
		return nil, err
	}

	app.setStage(job.ID, constants.StageExtracting, "Reading your resume with OCR...")
	extraction, err := app.Extractor.Extract(ctx, job.ID, job.PDFPath)
	if err != nil {
		return nil, stageError(StageExtraction, err)
	}
	if err := UpdateSession(app.Database, job.ID, ResumeSession{
		Method:    string(extraction.Method),
		Engine:    extraction.Engine,
		PageCount: extraction.PageCount,
	}); err != nil {
		logger.WithError(err).Warn("Failed to record extraction method")
	}

	app.setStage(job.ID, constants.StageImproving, "AI is enhancing your resume...")
	gen, err := app.generate(ctx, extraction.Text, instructions, job.Mode, job.Strict)
	if err != nil {
		return nil, stageError(StageGeneration, err)
	}
	gen.UploadID = job.ID
	gen.TemplateID = job.TemplateID
	gen.ExtractionMethod = string(extraction.Method)
	gen.OriginalText = extraction.Text
	gen.Strict = job.Strict
	gen.CreatedAt = time.Now()
	if err := writeGeneration(filepath.Join(app.outputDir, debugFile(job.ID)), gen); err != nil {
		return nil, stageError(StageGeneration, err)
	}

	app.setStage(job.ID, constants.StageFormatting, "Formatting your professional resume...")
	previewPath := filepath.Join(app.outputDir, previewFile(job.ID))
	if err := renderGeneration(gen, style, job.Strict, constants.PreviewWatermark, previewPath); err != nil {
		return nil, err
	}

	app.setStage(job.ID, constants.StageComplete, "Your resume is ready!")
	logger.WithFields(logrus.Fields{
		"method":    extraction.Method,
		"mode":      gen.Mode,
		"simulated": gen.Simulated,
	}).Info("Preview ready")

	return &UploadResult{
		ID:               job.ID,
		OriginalFilename: job.Filename,
		Timestamp:        gen.CreatedAt,
		OriginalText:     extraction.Text,
		ImprovedData:     gen.Data,
		ImprovedText:     gen.Text,
		DownloadURL:      downloadURL(job.ID),
		ExtractionMethod: string(extraction.Method),
		TemplateID:       job.TemplateID,
		GenerationMode:   gen.Mode,
		Simulated:        gen.Simulated,
	}, nil
}

// generate improves text in the requested mode. Without strict mode a
// failing or missing generator falls back to the local improver.
func (app *App) generate(ctx context.Context, text, instructions, mode string, strict bool) (*Generation, error) {
	if app.Generator == nil {
		if strict {
			return nil, fmt.Errorf("%w: no generator configured", ErrGenerationFailed)
		}
		return simulatedGeneration(text), nil
	}

	var err error
	switch mode {
	case constants.ModeJSON:
		var data marker.ResumeData
		data, err = app.Generator.ImproveJSON(ctx, text, instructions)
		if err == nil {
			return &Generation{Mode: constants.ModeJSON, Data: &data}, nil
		}
	case constants.ModeMarkers:
		var improved string
		improved, err = app.Generator.ImproveMarkers(ctx, text, instructions)
		if err == nil {
			return &Generation{Mode: constants.ModeMarkers, Text: improved}, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown generation mode %q", ErrGenerationFailed, mode)
	}

	if strict {
		return nil, err
	}
	log.WithError(err).Warn("Generation failed, falling back to simulated improvement")
	return simulatedGeneration(text), nil
}

func simulatedGeneration(text string) *Generation {
	return &Generation{
		Mode:      constants.ModeMarkers,
		Text:      simulateImprovement(text),
		Simulated: true,
	}
}

// renderGeneration writes gen as a PDF to path. Structured data is mapped to
// elements first; marker text goes through the marker parser, or the
// heuristic layout for simulated text.
func renderGeneration(gen *Generation, style render.StyleConfiguration, strict bool, watermark, path string) error {
	renderer := render.New(render.Options{
		Watermark: watermark,
		Title:     documentTitle(gen),
		Author:    "resume-gpt",
	})

	if gen.Data != nil {
		elements := marker.FromResumeData(*gen.Data)
		if len(elements) == 0 {
			return stageError(StageParsing, fmt.Errorf("%w: résumé data has no content", render.ErrNoElements))
		}
		if err := renderer.Render(elements, style, path); err != nil {
			return stageError(StageRendering, err)
		}
		return nil
	}

	mode, err := renderer.RenderTextFile(gen.Text, style, strict && !gen.Simulated, path)
	if err != nil {
		return stageError(StageRendering, err)
	}
	log.WithFields(logrus.Fields{"upload_id": gen.UploadID, "layout": mode}).Debug("Rendered document")
	return nil
}

func documentTitle(gen *Generation) string {
	if gen.Data != nil && gen.Data.Header.Name != "" {
		return gen.Data.Header.Name + " - Resume"
	}
	return "Resume"
}

// writeGeneration stores gen as indented JSON.
func writeGeneration(path string, gen *Generation) error {
	data, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding generation output: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing generation output: %w", err)
	}
	return nil
}

// readGeneration loads the generation output of an upload.
func readGeneration(path string) (*Generation, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading generation output: %w", err)
	}
	var gen Generation
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("error decoding generation output: %w", err)
	}
	return &gen, nil
}

// FinalRequest asks for the unwatermarked document of an upload.
type FinalRequest struct {
	FileID     string `json:"file_id" binding:"required"`
	UserID     string `json:"user_id" binding:"required"`
	TemplateID string `json:"template_id"`
}

// renderFinal renders the purchased document of an upload. The user needs an
// active entitlement or a credit; a credit is only taken once the document
// has been written.
func (app *App) renderFinal(ctx context.Context, req FinalRequest) (string, error) {
	logger := uploadLogger(req.FileID).WithField("user_id", req.UserID)

	gen, err := readGeneration(filepath.Join(app.outputDir, debugFile(req.FileID)))
	if err != nil {
		return "", err
	}
	templateID := req.TemplateID
	if templateID == "" {
		templateID = gen.TemplateID
	}
	style, _, err := app.Templates.Lookup(templateID)
	if err != nil {
		return "", err
	}

	useCredit, err := app.admit(ctx, req.UserID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(app.outputDir, improvedFile(req.FileID))
	if err := renderGeneration(gen, style, gen.Strict, "", path); err != nil {
		return "", err
	}

	if useCredit {
		ok, err := app.Credits.DeductCredit(req.UserID)
		if err != nil || !ok {
			if removeErr := os.Remove(path); removeErr != nil {
				logger.WithError(removeErr).Warn("Failed to remove unpaid document")
			}
			if err != nil {
				return "", stageError(StageEntitlement, err)
			}
			return "", stageError(StageEntitlement, ErrPaymentRequired)
		}
		logger.Info("Deducted one credit")
	}

	logger.WithField("template_id", templateID).Info("Final document ready")
	return downloadURL(req.FileID), nil
}

// admit checks the entitlement service and then the credit ledger. It
// reports whether a credit has to be taken after rendering.
func (app *App) admit(ctx context.Context, userID string) (bool, error) {
	logger := log.WithField("user_id", userID)
	if app.Entitlement != nil {
		ok, err := app.Entitlement.HasAccess(ctx, userID)
		if err != nil {
			logger.WithError(err).Warn("Entitlement check failed, checking credits")
		} else if ok {
			return false, nil
		}
	}

	balance, err := app.Credits.Balance(userID)
	if err != nil {
		return false, stageError(StageEntitlement, err)
	}
	if balance > 0 {
		return true, nil
	}
	return false, stageError(StageEntitlement, ErrPaymentRequired)
}
