package lua

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// sanitizeFilename checks for directory traversal and ensures a valid .lua extension.
func sanitizeFilename(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("filename must end with .lua")
	}
	cleanName := filepath.Base(name)
	if cleanName != name || cleanName == ".lua" || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("invalid filename '%s'", name)
	}
	return cleanName, nil
}

// GetScriptPath returns the path of a script within the engine's directory,
// creating the directory if needed.
func (e *Engine) GetScriptPath(name string) (string, error) {
	cleanName, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(e.scriptsDir); os.IsNotExist(err) {
		logger.Infof("creating scripts directory: %s", e.scriptsDir)
		if err := os.MkdirAll(e.scriptsDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create scripts directory: %w", err)
		}
	}
	return filepath.Join(e.scriptsDir, cleanName), nil
}

// GetScriptCode reads and returns the source of a script.
func (e *Engine) GetScriptCode(name string) (string, error) {
	path, err := e.GetScriptPath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SaveScriptCode writes Lua source to a script file.
func (e *Engine) SaveScriptCode(name, code string) error {
	path, err := e.GetScriptPath(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(code), 0644)
}

// DeleteScript removes a script file by name.
func (e *Engine) DeleteScript(name string) error {
	path, err := e.GetScriptPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// GetScriptList returns the sorted names of available .lua files.
func (e *Engine) GetScriptList() ([]string, error) {
	scripts := []string{}
	files, err := os.ReadDir(e.scriptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return scripts, nil
		}
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".lua" {
			scripts = append(scripts, file.Name())
		}
	}
	sort.Strings(scripts)
	return scripts, nil
}
