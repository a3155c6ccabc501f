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

import "strings"

type generationRequest struct {
	Model string            `json:"model"`
	Input []generationInput `json:"input"`
	Tools []generationTool  `json:"tools"`
}

type generationInput struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type generationTool struct {
	Type string `json:"type"`
	Size string `json:"size,omitempty"`
}

func newGenerationRequest(model, prompt, imageURI, size string) generationRequest {
	return generationRequest{
		Model: model,
		Input: []generationInput{{
			Role: "user",
			Content: []generationContent{
				{Type: "input_text", Text: prompt},
				{Type: "input_image", ImageURL: imageURI},
			},
		}},
		Tools: []generationTool{{Type: "image_generation", Size: size}},
	}
}

// generationResponse accepts both the responses API output list and the
// images API data list.
type generationResponse struct {
	Output []struct {
		Type   string `json:"type"`
		Result string `json:"result"`
	} `json:"output"`
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (r generationResponse) imageURL() string {
	for _, out := range r.Output {
		if out.Type == "image_generation_call" && out.Result != "" {
			return inlineImage(out.Result)
		}
	}
	for _, d := range r.Data {
		if d.URL != "" {
			return d.URL
		}
		if d.B64JSON != "" {
			return inlineImage(d.B64JSON)
		}
	}
	return ""
}

func inlineImage(b64 string) string {
	if strings.HasPrefix(b64, "data:") {
		return b64
	}
	return "data:image/png;base64," + b64
}
