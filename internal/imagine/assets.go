// Copyright 2024 Gran Dzilam Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package imagine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync"
)

const (
	// DefaultTemplateFile is the prompt template looked up in the asset FS
	DefaultTemplateFile = "prompt.txt"
	// DefaultBaseImageFile is the reference render looked up in the asset FS
	DefaultBaseImageFile = "base.png"
)

// Assets loads the prompt template and base reference image once and keeps
// them in memory. A failed load is not cached, so the next call retries.
type Assets struct {
	fsys         fs.FS
	templateFile string
	imageFile    string

	mu       sync.Mutex
	loaded   bool
	template string
	imageURI string
}

// NewAssets reads templateFile and imageFile from fsys on first use
func NewAssets(fsys fs.FS, templateFile, imageFile string) *Assets {
	if templateFile == "" {
		templateFile = DefaultTemplateFile
	}
	if imageFile == "" {
		imageFile = DefaultBaseImageFile
	}
	return &Assets{fsys: fsys, templateFile: templateFile, imageFile: imageFile}
}

// Load returns the prompt template and the base image as a data URI
func (a *Assets) Load() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded {
		return a.template, a.imageURI, nil
	}
	if a.fsys == nil {
		return "", "", errors.New("imagine assets are not configured")
	}

	tmpl, err := fs.ReadFile(a.fsys, a.templateFile)
	if err != nil {
		return "", "", fmt.Errorf("failed to read prompt template %s: %w", a.templateFile, err)
	}
	if strings.TrimSpace(string(tmpl)) == "" {
		return "", "", fmt.Errorf("prompt template %s is empty", a.templateFile)
	}

	img, err := fs.ReadFile(a.fsys, a.imageFile)
	if err != nil {
		return "", "", fmt.Errorf("failed to read base image %s: %w", a.imageFile, err)
	}
	if len(img) == 0 {
		return "", "", fmt.Errorf("base image %s is empty", a.imageFile)
	}

	a.template = string(tmpl)
	a.imageURI = "data:" + http.DetectContentType(img) + ";base64," + base64.StdEncoding.EncodeToString(img)
	a.loaded = true

	return a.template, a.imageURI, nil
}

// RenderPrompt fills the template placeholders
func RenderPrompt(template, descripcion, size string) string {
	return strings.NewReplacer(
		"{{descripcion}}", descripcion,
		"{{size}}", size,
	).Replace(template)
}
