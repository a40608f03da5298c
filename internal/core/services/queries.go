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

// Package services contains the business logic for reading and writing heart
// sessions. This file, `queries.go`, holds the BigQuery SQL. The table name
// is injected with fmt.Sprintf; every caller supplied value is bound through
// a named query parameter.
//
// Streaming insert deduplication is best effort, so a redelivered recording
// notification can leave a second row with the same id. Every query reads
// only the newest row per id.
package services

const (
	// latestPerSession keeps one row per session id.
	latestPerSession = " QUALIFY ROW_NUMBER() OVER (PARTITION BY id ORDER BY create_date DESC) = 1"

	// QryListSessions returns a user's sessions newest first.
	//
	// Placeholders:
	// - `%s`: The fully qualified name of the session table.
	//
	// Parameters: @user_id, @limit.
	QryListSessions = "SELECT * FROM `%s` WHERE user_id = @user_id" + latestPerSession +
		" ORDER BY create_date DESC LIMIT @limit"

	// QryFindSessionById looks up one session by its ID.
	QryFindSessionById = "SELECT * FROM `%s` WHERE id = @id ORDER BY create_date DESC LIMIT 1"

	// QryUserStats aggregates a user's history. Every session counts towards
	// session_count; only sessions with status ok feed the averages.
	QryUserStats = "SELECT user_id, COUNT(*) AS session_count, " +
		"IFNULL(AVG(IF(status = 'ok', metrics.avg_heart_rate, NULL)), 0) AS avg_heart_rate, " +
		"IFNULL(AVG(IF(status = 'ok', metrics.rmssd, NULL)), 0) AS avg_rmssd, " +
		"IFNULL(AVG(IF(status = 'ok', metrics.stress_index, NULL)), 0) AS avg_stress_index, " +
		"MAX(create_date) AS last_session_date " +
		"FROM (SELECT * FROM `%s` WHERE user_id = @user_id" + latestPerSession + ") GROUP BY user_id"
)
