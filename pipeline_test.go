package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-gpt/extract"
	"resume-gpt/internal/constants"
	"resume-gpt/marker"
	"resume-gpt/render"
	"resume-gpt/templates"
)

// staticStrategy is an extraction method answering with fixed text.
type staticStrategy struct {
	method extract.Method
	text   string
	err    error

	mu    sync.Mutex
	calls int
}

func (s *staticStrategy) Method() extract.Method { return s.method }

func (s *staticStrategy) Extract(_ context.Context, _ *extract.Source) (*extract.Attempt, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &extract.Attempt{Text: s.text, PageCount: 1}, nil
}

func (s *staticStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeGenerator returns canned generator output.
type fakeGenerator struct {
	markers string
	data    marker.ResumeData
	err     error
}

func (g *fakeGenerator) ImproveMarkers(_ context.Context, _, _ string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.markers, nil
}

func (g *fakeGenerator) ImproveJSON(_ context.Context, _, _ string) (marker.ResumeData, error) {
	if g.err != nil {
		return marker.ResumeData{}, g.err
	}
	return g.data, nil
}

// staticEntitlement grants or denies every user.
type staticEntitlement struct {
	access bool
	err    error
}

func (e staticEntitlement) HasAccess(context.Context, string) (bool, error) {
	return e.access, e.err
}

const (
	sampleText    = "Jane Doe\njane@example.com\nEXPERIENCE\nAcme Corp 2020 - 2024\nResponsible for the billing system"
	sampleMarkers = "[TITLE: JANE DOE]\n[CONTACT: NY • 555-1111 • jane@example.com]\n[SECTION: SKILLS]\n[BULLET: Go]\n[BULLET: SQL]"
)

func sampleResume() marker.ResumeData {
	return marker.ResumeData{
		Header: marker.Header{Name: "Jane Doe", Email: "jane@example.com", Phone: "555-1111"},
		Experience: []marker.ExperienceJob{{
			Company:  "Acme Corp",
			Role:     "Engineer",
			Location: "New York, NY",
			Date:     "2020 - 2024",
			Bullets:  []string{"Led the billing system migration"},
		}},
		Skills: marker.Skills{"Go", "SQL"},
	}
}

// newTestApp builds an App on temporary directories and a temporary
// database. Settings default to JSON mode with strict mode on.
func newTestApp(t *testing.T, gen Generator, strategies ...extract.Strategy) *App {
	t.Helper()
	root := t.TempDir()
	app := &App{
		Database:    newTestDB(t),
		Extractor:   extract.NewExtractor(nil, extract.FileSink{Dir: filepath.Join(root, "uploads")}, strategies...),
		Generator:   gen,
		Templates:   templates.Default(),
		Entitlement: staticEntitlement{},
		Progress:    NewProgressStore(),
		Jobs:        NewJobStore(),
		uploadDir:   filepath.Join(root, "uploads"),
		outputDir:   filepath.Join(root, "outputs"),
		promptsDir:  filepath.Join(root, "prompts"),
	}
	app.Credits = NewCreditLedger(app.Database)
	for _, dir := range []string{app.uploadDir, app.outputDir, app.promptsDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	useSettings(t, Settings{DefaultTemplate: "professional", GenerationMode: constants.ModeJSON, StrictMode: true})
	return app
}

// newTestJob stores a placeholder PDF and its session and returns the job.
func newTestJob(t *testing.T, app *App, s Settings) *Job {
	t.Helper()
	id := generateJobID()
	path := filepath.Join(app.uploadDir, uploadFile(id))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 placeholder"), 0644))
	require.NoError(t, InsertSession(app.Database, &ResumeSession{
		ID:         id,
		TemplateID: s.DefaultTemplate,
		Stage:      constants.StageUploaded,
	}))
	return newJob(id, "cv.pdf", path, s.DefaultTemplate, s)
}

func assertPDF(t *testing.T, path string) {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(content) > 4 && string(content[:4]) == "%PDF", "expected a PDF at %s", path)
}

func TestProcessUpload_JSONMode(t *testing.T) {
	direct := &staticStrategy{method: extract.DirectText, text: sampleText}
	ocrA := &staticStrategy{method: extract.OcrEngineA, text: "should not be used"}
	app := newTestApp(t, &fakeGenerator{data: sampleResume()}, direct, ocrA)
	job := newTestJob(t, app, currentSettings())

	result, err := app.processUpload(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, job.ID, result.ID)
	assert.Equal(t, "cv.pdf", result.OriginalFilename)
	assert.Equal(t, sampleText, result.OriginalText)
	require.NotNil(t, result.ImprovedData)
	assert.Equal(t, "Jane Doe", result.ImprovedData.Header.Name)
	assert.Empty(t, result.ImprovedText)
	assert.Equal(t, "/api/download/"+job.ID, result.DownloadURL)
	assert.Equal(t, "DirectText", result.ExtractionMethod)
	assert.False(t, result.Simulated)

	// Direct text succeeded so OCR never ran
	assert.Equal(t, 0, ocrA.callCount())

	assertPDF(t, filepath.Join(app.outputDir, previewFile(job.ID)))
	assert.FileExists(t, filepath.Join(app.outputDir, debugFile(job.ID)))
	assert.FileExists(t, filepath.Join(app.uploadDir, extract.DiagnosticsFile(job.ID)))

	session, err := GetSession(app.Database, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageComplete, session.Stage)
	assert.Equal(t, "DirectText", session.Method)

	progress := app.Progress.Get(job.ID)
	assert.Equal(t, constants.StageComplete, progress.Stage)
	assert.Equal(t, 100, progress.Progress)

	gen, err := readGeneration(filepath.Join(app.outputDir, debugFile(job.ID)))
	require.NoError(t, err)
	assert.Equal(t, constants.ModeJSON, gen.Mode)
	assert.Equal(t, "professional", gen.TemplateID)
	assert.Equal(t, "Acme Corp", gen.Data.Experience[0].Company)
}

func TestProcessUpload_MarkersMode(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{markers: sampleMarkers},
		&staticStrategy{method: extract.DirectText, text: sampleText})
	s := currentSettings()
	s.GenerationMode = constants.ModeMarkers
	job := newTestJob(t, app, s)

	result, err := app.processUpload(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, sampleMarkers, result.ImprovedText)
	assert.Nil(t, result.ImprovedData)
	assert.Equal(t, constants.ModeMarkers, result.GenerationMode)
	assertPDF(t, filepath.Join(app.outputDir, previewFile(job.ID)))
}

func TestProcessUpload_StrictModeRejectsMarkerlessText(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{markers: "Jane Doe\nEngineer at Acme"},
		&staticStrategy{method: extract.DirectText, text: sampleText})
	s := currentSettings()
	s.GenerationMode = constants.ModeMarkers
	job := newTestJob(t, app, s)

	_, err := app.processUpload(context.Background(), job)
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageRendering, pe.Stage)
	assert.ErrorIs(t, err, render.ErrNoMarkers)
	assert.NoFileExists(t, filepath.Join(app.outputDir, previewFile(job.ID)))
}

func TestProcessUpload_GenerationFailure(t *testing.T) {
	failing := &fakeGenerator{err: errors.New("model overloaded")}

	t.Run("strict mode propagates", func(t *testing.T) {
		app := newTestApp(t, failing, &staticStrategy{method: extract.DirectText, text: sampleText})
		job := newTestJob(t, app, currentSettings())

		_, err := app.processUpload(context.Background(), job)
		var pe *PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, StageGeneration, pe.Stage)
		assert.ErrorContains(t, err, "model overloaded")
	})

	t.Run("lenient mode falls back to simulation", func(t *testing.T) {
		app := newTestApp(t, failing, &staticStrategy{method: extract.DirectText, text: sampleText})
		s := currentSettings()
		s.StrictMode = false
		job := newTestJob(t, app, s)

		result, err := app.processUpload(context.Background(), job)
		require.NoError(t, err)
		assert.True(t, result.Simulated)
		assert.Equal(t, simulateImprovement(sampleText), result.ImprovedText)
		assert.Contains(t, result.ImprovedText, "Led the billing system")
		assertPDF(t, filepath.Join(app.outputDir, previewFile(job.ID)))
	})
}

func TestProcessUpload_NoGenerator(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		app := newTestApp(t, nil, &staticStrategy{method: extract.DirectText, text: sampleText})
		_, err := app.processUpload(context.Background(), newTestJob(t, app, currentSettings()))
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("lenient", func(t *testing.T) {
		app := newTestApp(t, nil, &staticStrategy{method: extract.DirectText, text: sampleText})
		s := currentSettings()
		s.StrictMode = false
		result, err := app.processUpload(context.Background(), newTestJob(t, app, s))
		require.NoError(t, err)
		assert.True(t, result.Simulated)
	})
}

func TestProcessUpload_ExtractionFailed(t *testing.T) {
	direct := &staticStrategy{method: extract.DirectText, text: "   "}
	ocrA := &staticStrategy{method: extract.OcrEngineA, text: ""}
	ocrB := &staticStrategy{method: extract.OcrEngineB, err: errors.New("engine crashed")}
	app := newTestApp(t, &fakeGenerator{data: sampleResume()}, direct, ocrA, ocrB)
	job := newTestJob(t, app, currentSettings())

	_, err := app.processUpload(context.Background(), job)
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageExtraction, pe.Stage)
	assert.ErrorIs(t, err, extract.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "extraction stage failed")

	assert.Equal(t, 1, direct.callCount())
	assert.Equal(t, 1, ocrA.callCount())
	assert.Equal(t, 1, ocrB.callCount())
	assert.FileExists(t, filepath.Join(app.uploadDir, extract.DiagnosticsFile(job.ID)))
}

func TestProcessUpload_OCRFallback(t *testing.T) {
	direct := &staticStrategy{method: extract.DirectText, text: ""}
	ocrA := &staticStrategy{method: extract.OcrEngineA, text: sampleText}
	app := newTestApp(t, &fakeGenerator{data: sampleResume()}, direct, ocrA)
	job := newTestJob(t, app, currentSettings())

	result, err := app.processUpload(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "OcrEngineA", result.ExtractionMethod)
}

func TestProcessUpload_EmptyResumeData(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{}, &staticStrategy{method: extract.DirectText, text: sampleText})
	_, err := app.processUpload(context.Background(), newTestJob(t, app, currentSettings()))

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageParsing, pe.Stage)
	assert.ErrorIs(t, err, render.ErrNoElements)
}

func TestProcessUpload_UnknownTemplate(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{data: sampleResume()}, &staticStrategy{method: extract.DirectText, text: sampleText})
	s := currentSettings()
	s.DefaultTemplate = "fancy"
	_, err := app.processUpload(context.Background(), newTestJob(t, app, s))
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
}

// preparedUpload runs the upload pipeline and returns the upload id.
func preparedUpload(t *testing.T, app *App) string {
	t.Helper()
	job := newTestJob(t, app, currentSettings())
	_, err := app.processUpload(context.Background(), job)
	require.NoError(t, err)
	return job.ID
}

func TestRenderFinal(t *testing.T) {
	newApp := func(t *testing.T) *App {
		return newTestApp(t, &fakeGenerator{data: sampleResume()}, &staticStrategy{method: extract.DirectText, text: sampleText})
	}

	t.Run("active entitlement", func(t *testing.T) {
		app := newApp(t)
		app.Entitlement = staticEntitlement{access: true}
		id := preparedUpload(t, app)

		url, err := app.renderFinal(context.Background(), FinalRequest{FileID: id, UserID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "/api/download/"+id, url)
		assertPDF(t, filepath.Join(app.outputDir, improvedFile(id)))
	})

	t.Run("credit is taken after rendering", func(t *testing.T) {
		app := newApp(t)
		id := preparedUpload(t, app)
		_, err := app.Credits.AddCredits("bob", 1)
		require.NoError(t, err)

		_, err = app.renderFinal(context.Background(), FinalRequest{FileID: id, UserID: "bob", TemplateID: "modern"})
		require.NoError(t, err)
		balance, err := app.Credits.Balance("bob")
		require.NoError(t, err)
		assert.Equal(t, 0, balance)

		_, err = app.renderFinal(context.Background(), FinalRequest{FileID: id, UserID: "bob"})
		var pe *PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, StageEntitlement, pe.Stage)
		assert.ErrorIs(t, err, ErrPaymentRequired)
	})

	t.Run("entitlement error falls back to credits", func(t *testing.T) {
		app := newApp(t)
		app.Entitlement = staticEntitlement{err: errors.New("revenuecat down")}
		id := preparedUpload(t, app)

		_, err := app.renderFinal(context.Background(), FinalRequest{FileID: id, UserID: "carol"})
		assert.ErrorIs(t, err, ErrPaymentRequired)

		_, err = app.Credits.AddCredits("carol", 1)
		require.NoError(t, err)
		_, err = app.renderFinal(context.Background(), FinalRequest{FileID: id, UserID: "carol"})
		assert.NoError(t, err)
	})

	t.Run("unknown upload", func(t *testing.T) {
		app := newApp(t)
		app.Entitlement = staticEntitlement{access: true}
		_, err := app.renderFinal(context.Background(), FinalRequest{FileID: generateJobID(), UserID: "alice"})
		assert.ErrorIs(t, err, ErrUploadNotFound)
	})

	t.Run("unknown template", func(t *testing.T) {
		app := newApp(t)
		app.Entitlement = staticEntitlement{access: true}
		id := preparedUpload(t, app)
		_, err := app.renderFinal(context.Background(), FinalRequest{FileID: id, UserID: "alice", TemplateID: "fancy"})
		assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
	})
}

func TestRenderFinal_KeepsUploadStrictness(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{markers: "Jane Doe\nEngineer at Acme"},
		&staticStrategy{method: extract.DirectText, text: sampleText})
	app.Entitlement = staticEntitlement{access: true}
	s := currentSettings()
	s.GenerationMode = constants.ModeMarkers
	s.StrictMode = false
	job := newTestJob(t, app, s)

	_, err := app.processUpload(context.Background(), job)
	require.NoError(t, err)
	gen, err := readGeneration(filepath.Join(app.outputDir, debugFile(job.ID)))
	require.NoError(t, err)
	assert.False(t, gen.Strict)

	// Strict mode switched on between preview and final download.
	useSettings(t, Settings{DefaultTemplate: "professional", GenerationMode: constants.ModeMarkers, StrictMode: true})

	_, err = app.renderFinal(context.Background(), FinalRequest{FileID: job.ID, UserID: "alice"})
	require.NoError(t, err)
	assertPDF(t, filepath.Join(app.outputDir, improvedFile(job.ID)))
}

func TestPipelineError(t *testing.T) {
	err := stageError(StageRendering, render.ErrNoMarkers)
	assert.Equal(t, "rendering stage failed: text carries no formatting markers", err.Error())
	assert.ErrorIs(t, err, render.ErrNoMarkers)

	// An error that already names its stage keeps it
	wrapped := stageError(StageGeneration, err)
	var pe *PipelineError
	require.ErrorAs(t, wrapped, &pe)
	assert.Equal(t, StageRendering, pe.Stage)
}
