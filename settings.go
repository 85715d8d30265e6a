package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"resume-gpt/internal/constants"
)

const (
	configDir    = "config"
	settingsFile = "settings.json"
)

// Settings are the runtime options editable through /api/settings.
type Settings struct {
	DefaultTemplate string `json:"default_template"`
	GenerationMode  string `json:"generation_mode"`
	StrictMode      bool   `json:"strict_mode"`
}

var (
	settings      Settings
	settingsMutex sync.RWMutex
	settingsDir   = configDir
)

func defaultSettings() Settings {
	return Settings{
		DefaultTemplate: "professional",
		GenerationMode:  generationMode,
		StrictMode:      strictMode,
	}
}

// validate checks the settings against the known modes and, when registry
// lookups are possible, the template ids.
func (s Settings) validate(templateExists func(string) bool) error {
	if s.GenerationMode != constants.ModeMarkers && s.GenerationMode != constants.ModeJSON {
		return fmt.Errorf("generation_mode must be %q or %q", constants.ModeMarkers, constants.ModeJSON)
	}
	if s.DefaultTemplate == "" {
		return errors.New("default_template must not be empty")
	}
	if templateExists != nil && !templateExists(s.DefaultTemplate) {
		return fmt.Errorf("unknown template %q", s.DefaultTemplate)
	}
	return nil
}

// currentSettings returns a copy of the active settings.
func currentSettings() Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settings
}

// saveSettings saves the current settings to the settings.json file.
func saveSettings() error {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	return saveSettingsLocked()
}

// saveSettingsLocked performs the actual saving without locking the mutex.
// This is to be called from functions that already hold the lock.
func saveSettingsLocked() error {
	if err := os.MkdirAll(settingsDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(settingsDir, settingsFile), data, 0644)
}

// replaceSettings swaps the active settings and persists them.
func replaceSettings(next Settings) error {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	previous := settings
	settings = next
	if err := saveSettingsLocked(); err != nil {
		settings = previous
		return err
	}
	return nil
}

// loadSettings loads the settings from settings.json, creating it with defaults if it doesn't exist or is corrupt.
func loadSettings() {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settingsPath := filepath.Join(settingsDir, settingsFile)
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("Settings file not found at %s, creating with default values.", settingsPath)
			settings = defaultSettings()
			if err := saveSettingsLocked(); err != nil {
				log.Fatalf("Failed to create default settings file: %v", err)
			}
		} else {
			log.Warnf("Failed to read settings file: %v. Loading default settings.", err)
			settings = defaultSettings()
		}
		return
	}

	// Fields missing from the file keep their defaults
	loaded := defaultSettings()
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warnf("Failed to parse settings file, please check its format. Loading default settings. Error: %v", err)
		settings = defaultSettings()
		return
	}
	if err := loaded.validate(nil); err != nil {
		log.Warnf("Invalid settings file: %v. Loading default settings.", err)
		settings = defaultSettings()
		return
	}
	settings = loaded

	log.Info("Successfully loaded settings from settings.json")
}
