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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/gran-dzilam/internal/chat"
	"github.com/your-org/gran-dzilam/internal/imagine"
)

type chatRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history"`
}

type imagineResponse struct {
	OK bool `json:"ok"`
	imagine.Result
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	reply, err := s.deps.Chat.Reply(c.Request.Context(), req.Message, req.History)
	if err != nil {
		s.respondError(c, err, "chat reply")
		return
	}

	ok(c, http.StatusOK, gin.H{"reply": reply})
}

func (s *Server) handleImagine(c *gin.Context) {
	var req imagine.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	result, err := s.deps.Imagine.Generate(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err, "imagine design")
		return
	}

	c.JSON(http.StatusOK, imagineResponse{OK: true, Result: result})
}
