package constants

// DummyAPIKey is used as a placeholder when connecting to OpenAI-compatible services
// that don't require authentication. Many services expect a token in the request
// header but don't validate it.
const DummyAPIKey = "not-needed"

// Processing stages reported for an upload.
const (
	StageInitializing = "initializing"
	StageUploading    = "uploading"
	StageUploaded     = "uploaded"
	StageExtracting   = "extracting"
	StageImproving    = "improving"
	StageFormatting   = "formatting"
	StageComplete     = "complete"
	StageError        = "error"
)

// StageProgress is the percentage shown for each stage.
var StageProgress = map[string]int{
	StageInitializing: 0,
	StageUploading:    10,
	StageUploaded:     25,
	StageExtracting:   40,
	StageImproving:    60,
	StageFormatting:   80,
	StageComplete:     100,
	StageError:        0,
}

// Generation modes.
const (
	ModeMarkers = "markers"
	ModeJSON    = "json"
)

// PreviewWatermark is drawn across documents rendered before purchase.
const PreviewWatermark = "PREVIEW"
