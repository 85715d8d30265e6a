package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"gorm.io/gorm"

	"resume-gpt/extract"
	"resume-gpt/marker"
	"resume-gpt/ocr"
	"resume-gpt/render"
	"resume-gpt/templates"
)

// sweepInterval is the pause between retention sweeps.
const sweepInterval = 10 * time.Minute

// Global Variables and Constants
var (

	// Logger
	log = logrus.New()

	// Environment Variables
	logLevel      = strings.ToLower(os.Getenv("LOG_LEVEL"))
	listenAddress = envOrDefault("LISTEN_ADDRESS", ":8080")
	dataDir       = envOrDefault("DATA_DIR", "data")
	workerCount   = envInt("WORKER_COUNT", 4)

	extractionChain        = envOrDefault("EXTRACTION_CHAIN", "direct,ocr_a,ocr_b")
	ocrEngineA             = envOrDefault("OCR_ENGINE_A", "tesseract")
	ocrEngineB             = envOrDefault("OCR_ENGINE_B", "tesseract_text")
	ocrDPI                 = envInt("OCR_DPI", extract.DefaultDPI)
	ocrConfidenceThreshold = envFloat("OCR_CONFIDENCE_THRESHOLD", ocr.DefaultConfidenceThreshold)
	ocrLanguages           = envOrDefault("OCR_LANGUAGES", "eng")
	paddleOCRURL           = os.Getenv("PADDLE_OCR_URL")
	doclingURL             = os.Getenv("DOCLING_URL")
	googleProjectID        = os.Getenv("GOOGLE_PROJECT_ID")
	googleLocation         = os.Getenv("GOOGLE_LOCATION")
	googleProcessorID      = os.Getenv("GOOGLE_PROCESSOR_ID")
	visionLlmProvider      = os.Getenv("VISION_LLM_PROVIDER")
	visionLlmModel         = os.Getenv("VISION_LLM_MODEL")
	azureDocAIEndpoint     = os.Getenv("AZURE_DOCAI_ENDPOINT")
	azureDocAIKey          = os.Getenv("AZURE_DOCAI_KEY")
	azureDocAIModelID      = os.Getenv("AZURE_DOCAI_MODEL_ID")
	azureDocAITimeout      = envInt("AZURE_DOCAI_TIMEOUT_SECONDS", 120)
	mistralOCRModel        = os.Getenv("MISTRAL_OCR_MODEL")

	llmProvider            = os.Getenv("LLM_PROVIDER")
	llmModel               = os.Getenv("LLM_MODEL")
	openaiAPIKey           = os.Getenv("OPENAI_API_KEY")
	ollamaHost             = envOrDefault("OLLAMA_HOST", "http://127.0.0.1:11434")
	googleAIAPIKey         = os.Getenv("GOOGLEAI_API_KEY")
	googleAIThinkingBudget = os.Getenv("GOOGLEAI_THINKING_BUDGET")
	mistralAPIKey          = os.Getenv("MISTRAL_API_KEY")
	tokenLimit             = envInt("TOKEN_LIMIT", 0)
	llmRequestsPerMinute   = envFloat("LLM_REQUESTS_PER_MINUTE", 0)
	llmMaxRetries          = envInt("LLM_MAX_RETRIES", 3)

	generationMode   = strings.ToLower(envOrDefault("GENERATION_MODE", "json"))
	strictMode       = envBool("STRICT_MODE", true)
	revenueCatAPIKey = os.Getenv("REVENUECAT_API_KEY")
	entitlementID    = envOrDefault("ENTITLEMENT_ID", "pro_access")
	creditsSecret    = os.Getenv("CREDITS_WEBHOOK_SECRET")
	retentionHours   = envInt("RETENTION_HOURS", 72)

	// Prompt templates wrapping the template instructions
	markersTemplate *template.Template
	jsonTemplate    *template.Template
	templateMutex   sync.RWMutex

	// Default prompts
	defaultMarkersPrompt = `{{.Instructions}}

Rewrite the résumé below. Keep every fact (names, employers, dates, degrees) and use only the markers listed above.
Respond with the marked-up résumé only.

RÉSUMÉ TEXT:
{{.Content}}
`

	defaultJSONPrompt = `{{.Instructions}}

Parse the résumé below and improve its wording: use strong action verbs, quantify results and fix grammar.
Return a single JSON object with exactly this schema and nothing else:
{
  "header": {"name": "...", "email": "...", "phone": "...", "linkedin": "..."},
  "education": [{"school": "...", "degree": "...", "location": "...", "date": "..."}],
  "experience": [{"company": "...", "role": "...", "location": "...", "date": "...", "bullets": ["..."]}],
  "skills": "Skill 1, Skill 2, Skill 3"
}

RAW TEXT:
{{.Content}}
`
)

// App struct to hold dependencies
type App struct {
	Database    *gorm.DB
	Extractor   *extract.Extractor
	Generator   Generator
	Templates   *templates.Registry
	Entitlement Entitlement
	Credits     *CreditLedger
	Progress    *ProgressStore
	Jobs        *JobStore

	uploadDir  string
	outputDir  string
	promptsDir string

	// creditsSecret authenticates credit top-ups. Empty disables them.
	creditsSecret string
}

func main() {
	// Initialize logrus logger
	initLogger()

	// Validate Environment Variables
	validateEnvVars()

	uploadDir := filepath.Join(dataDir, "uploads")
	outputDir := filepath.Join(dataDir, "outputs")
	promptsDir := filepath.Join(dataDir, "prompts")
	for _, dir := range []string{uploadDir, outputDir, promptsDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	// Initialize Database
	database := InitializeDB(filepath.Join(dataDir, "db"))

	// Load settings and templates
	settingsDir = filepath.Join(dataDir, configDir)
	loadSettings()
	loadTemplates(promptsDir)

	registry := templates.Default()
	if err := registry.LoadInstructionOverrides(promptsDir); err != nil {
		log.Fatalf("Failed to load template instructions: %v", err)
	}

	// Initialize the extraction chain
	extractor, err := createExtractor(uploadDir)
	if err != nil {
		log.Fatalf("Failed to create extraction chain: %v", err)
	}

	// Initialize LLM
	var generator Generator
	if llmProvider != "" {
		llm, err := createLLM()
		if err != nil {
			log.Fatalf("Failed to create LLM client: %v", err)
		}
		generator = NewLLMGenerator(NewRateLimitedLLM(llm, RateLimitConfig{
			RequestsPerMinute: llmRequestsPerMinute,
			MaxRetries:        llmMaxRetries,
		}), newTokenBudget(tokenLimit, llmModel))
	} else {
		log.Warn("LLM_PROVIDER not set, generation runs in simulation mode")
	}

	// Initialize App with dependencies
	app := &App{
		Database:    database,
		Extractor:   extractor,
		Generator:   generator,
		Templates:   registry,
		Entitlement: NewRevenueCatEntitlement(revenueCatAPIKey, entitlementID),
		Credits:     NewCreditLedger(database),
		Progress:    NewProgressStore(),
		Jobs:        NewJobStore(),
		uploadDir:   uploadDir,
		outputDir:   outputDir,
		promptsDir:  promptsDir,

		creditsSecret: creditsSecret,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the pipeline worker pool
	startWorkerPool(ctx, app, workerCount)

	// Start background removal of old artifacts
	StartBackgroundTasks(ctx, &artifactSweeper{
		dirs:     []string{uploadDir, outputDir},
		maxAge:   time.Duration(retentionHours) * time.Hour,
		db:       database,
		jobs:     app.Jobs,
		progress: app.Progress,
	}, sweepInterval)

	router := setupRouter(app)
	server := &http.Server{Addr: listenAddress, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server shutdown failed: %v", err)
		}
	}()

	log.Infof("Server started on %s", listenAddress)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// setupRouter registers every route on a gin engine with default middleware
// (logger and recovery).
func setupRouter(app *App) *gin.Engine {
	router := gin.Default()

	router.GET("/", rootHandler)
	router.GET("/health", healthHandler)

	api := router.Group("/api")
	{
		api.GET("/templates", app.templatesHandler)
		api.GET("/progress/:id", app.progressHandler)
		api.POST("/upload-resume", app.uploadResumeHandler)
		api.GET("/download/:id", app.downloadHandler)
		api.POST("/generate-pdf", app.generatePDFHandler)
		api.GET("/session/:id", app.sessionHandler)
		api.GET("/jobs", app.getAllJobsHandler)
		api.GET("/jobs/:job_id", app.getJobStatusHandler)

		// Credit ledger
		api.POST("/credits", requireBearerSecret(app.creditsSecret), app.addCreditsHandler)
		api.GET("/credits/:user_id", app.getCreditsHandler)

		// Runtime configuration
		api.GET("/settings", app.getSettingsHandler)
		api.POST("/settings", app.updateSettingsHandler)
		api.GET("/prompts", app.getPromptsHandler)
		api.POST("/prompts", app.updatePromptsHandler)
	}

	return router
}

func initLogger() {
	switch logLevel {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		if logLevel != "" {
			log.Fatalf("Invalid log level: '%s'.", logLevel)
		}
	}

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Library packages log through their own loggers
	level := log.GetLevel()
	extract.SetLogLevel(level)
	ocr.SetLogLevel(level)
	marker.SetLogLevel(level)
	render.SetLogLevel(level)
	templates.SetLogLevel(level)
}

// validateEnvVars ensures all necessary environment variables are set
func validateEnvVars() {
	if workerCount <= 0 {
		log.Fatal("Please set WORKER_COUNT to a positive number.")
	}

	if ocrDPI < 72 || ocrDPI > 600 {
		log.Fatal("Please set OCR_DPI to a value between 72 and 600.")
	}

	if ocrConfidenceThreshold < 0 || ocrConfidenceThreshold > 1 {
		log.Fatal("Please set OCR_CONFIDENCE_THRESHOLD to a value between 0 and 1.")
	}

	if generationMode != "markers" && generationMode != "json" {
		log.Fatal("Please set the GENERATION_MODE environment variable to 'markers' or 'json'.")
	}

	if llmProvider != "" && llmModel == "" {
		log.Fatal("Please set the LLM_MODEL environment variable.")
	}

	if strings.ToLower(llmProvider) == "openai" && openaiAPIKey == "" && os.Getenv("OPENAI_BASE_URL") == "" {
		log.Fatal("Please set the OPENAI_API_KEY environment variable for OpenAI provider.")
	}

	if strings.ToLower(llmProvider) == "googleai" && googleAIAPIKey == "" {
		log.Fatal("Please set the GOOGLEAI_API_KEY environment variable for Google AI provider.")
	}

	if strings.ToLower(llmProvider) == "mistral" && mistralAPIKey == "" {
		log.Fatal("Please set the MISTRAL_API_KEY environment variable for Mistral provider.")
	}

	if retentionHours <= 0 {
		log.Fatal("Please set RETENTION_HOURS to a positive number.")
	}

	if creditsSecret == "" {
		log.Warn("CREDITS_WEBHOOK_SECRET not set, credit top-ups are rejected")
	}

	if revenueCatAPIKey == "" {
		log.Warn("REVENUECAT_API_KEY not set, entitlement checks run in mock mode")
	}
}

// loadTemplates loads the generation prompts from files or uses the defaults
func loadTemplates(promptsDir string) {
	templateMutex.Lock()
	defer templateMutex.Unlock()

	if err := os.MkdirAll(promptsDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create prompts directory: %v", err)
	}

	var err error
	markersTemplate, err = loadPromptTemplate(promptsDir, "markers", defaultMarkersPrompt)
	if err != nil {
		log.Fatalf("Failed to load markers prompt: %v", err)
	}
	jsonTemplate, err = loadPromptTemplate(promptsDir, "json", defaultJSONPrompt)
	if err != nil {
		log.Fatalf("Failed to load JSON prompt: %v", err)
	}
}

// loadPromptTemplate reads <name>_prompt.tmpl, writing the default to disk
// when the file is missing.
func loadPromptTemplate(promptsDir, name, defaultContent string) (*template.Template, error) {
	path := filepath.Join(promptsDir, promptFile(name))
	content, err := os.ReadFile(path)
	if err != nil {
		log.Infof("Could not read %s, using default prompt: %v", path, err)
		content = []byte(defaultContent)
		if err := os.WriteFile(path, content, 0644); err != nil {
			return nil, fmt.Errorf("failed to write default prompt to disk: %w", err)
		}
	}
	return template.New(name).Funcs(sprig.FuncMap()).Parse(string(content))
}

func promptFile(name string) string {
	return name + "_prompt.tmpl"
}

// createLLM creates the appropriate LLM client based on the provider
func createLLM() (llms.Model, error) {
	switch strings.ToLower(llmProvider) {
	case "openai":
		opts := []openai.Option{
			openai.WithModel(llmModel),
			openai.WithToken(openaiAPIKey),
		}
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(opts...)
	case "ollama":
		return ollama.New(
			ollama.WithModel(llmModel),
			ollama.WithServerURL(ollamaHost),
		)
	case "googleai":
		var budget *int32
		if googleAIThinkingBudget != "" {
			v, err := strconv.ParseInt(googleAIThinkingBudget, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid GOOGLEAI_THINKING_BUDGET: %w", err)
			}
			b := int32(v)
			budget = &b
		}
		return NewGoogleAIProvider(context.Background(), llmModel, googleAIAPIKey, budget)
	case "mistral":
		return mistral.New(
			mistral.WithModel(llmModel),
			mistral.WithAPIKey(mistralAPIKey),
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmProvider)
	}
}

// ocrConfig builds the provider configuration for one OCR engine.
func ocrConfig(provider string) ocr.Config {
	return ocr.Config{
		Provider:          provider,
		Languages:         splitList(ocrLanguages, "+,"),
		DPI:               ocrDPI,
		PaddleURL:         paddleOCRURL,
		GoogleProjectID:   googleProjectID,
		GoogleLocation:    googleLocation,
		GoogleProcessorID: googleProcessorID,
		VisionLLMProvider: visionLlmProvider,
		VisionLLMModel:    visionLlmModel,
		DoclingURL:        doclingURL,
		AzureEndpoint:     azureDocAIEndpoint,
		AzureAPIKey:       azureDocAIKey,
		AzureModelID:      azureDocAIModelID,
		AzureTimeout:      azureDocAITimeout,
		MistralAPIKey:     mistralAPIKey,
		MistralOCRModel:   mistralOCRModel,
	}
}

// createExtractor constructs the OCR engines once and resolves the configured
// fallback chain. An engine that fails to initialize is a startup error only
// when the chain uses it.
func createExtractor(diagnosticsDir string) (*extract.Extractor, error) {
	names := splitList(extractionChain, ",")
	uses := func(name string) bool {
		for _, n := range names {
			if strings.EqualFold(n, name) {
				return true
			}
		}
		return false
	}

	available := map[string]extract.Strategy{
		"direct": extract.NewDirectTextStrategy(),
	}
	if uses("ocr_a") {
		provider, err := ocr.NewProvider(ocrConfig(ocrEngineA))
		if err != nil {
			return nil, fmt.Errorf("OCR engine A (%s): %w", ocrEngineA, err)
		}
		engine := ocr.NewEngine(ocrEngineA, provider, ocr.EngineOptions{
			ConfidenceThreshold: ocrConfidenceThreshold,
			Preprocess:          true,
		})
		available["ocr_a"] = extract.NewOCRStrategy(extract.OcrEngineA, engine)
	}
	if uses("ocr_b") {
		provider, err := ocr.NewProvider(ocrConfig(ocrEngineB))
		if err != nil {
			return nil, fmt.Errorf("OCR engine B (%s): %w", ocrEngineB, err)
		}
		engine := ocr.NewEngine(ocrEngineB, provider, ocr.EngineOptions{
			ConfidenceThreshold: ocrConfidenceThreshold,
		})
		available["ocr_b"] = extract.NewOCRStrategy(extract.OcrEngineB, engine)
	}

	chain, err := extract.Chain(names, available)
	if err != nil {
		return nil, err
	}
	extractor := extract.NewExtractor(extract.NewFitzRasterizer(ocrDPI), extract.FileSink{Dir: diagnosticsDir}, chain...)
	log.WithField("chain", extractor.Methods()).Info("Extraction chain ready")
	return extractor, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// splitList splits s on any of the separator characters, dropping blanks.
func splitList(s, separators string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(separators, r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
