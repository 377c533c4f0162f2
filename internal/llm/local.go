package llm

import (
	"os"
	"path/filepath"
	"strings"
)

// localArtifactExts are the model artifact types recognized in the local
// models directory.
var localArtifactExts = map[string]bool{
	".gguf":        true,
	".bin":         true,
	".safetensors": true,
}

// ScanLocalModels lists the model names available in dir. Each artifact file
// becomes a model named after its base name, served through the configured
// OpenAI-compatible local inference endpoint.
func ScanLocalModels(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if localArtifactExts[ext] {
			names = append(names, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		}
	}
	return names
}
