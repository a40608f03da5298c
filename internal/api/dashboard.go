// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
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
)

// Dashboard registers the aggregate statistics routes.
func Dashboard(r *gin.RouterGroup, s *Services) {
	stats := r.Group("/stats")
	{
		stats.GET("", func(c *gin.Context) {
			if s.Sessions == nil {
				unavailable(c)
				return
			}
			userID := c.Query("user_id")
			if userID == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
				return
			}
			out, err := s.Sessions.Stats(c.Request.Context(), userID)
			if err != nil {
				abort(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}
