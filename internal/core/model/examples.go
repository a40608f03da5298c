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

// Package model defines the data structures for the application. This file
// provides example instances used for few-shot prompting, so the generative
// model sees exactly the JSON shape it must answer with.
package model

// GetExampleInsight is a well-formed answer for a moderately stressed session.
func GetExampleInsight() *StressInsight {
	return &StressInsight{
		Summary: "Your heart rate stayed in a normal resting range, but beat-to-beat " +
			"variability was on the low side, which often goes with sustained focus or mild stress.",
		Level: "moderate",
		Suggestions: []string{
			"Take a two minute break and breathe slowly, about six breaths per minute.",
			"Stand up and stretch before the next lecture segment.",
			"Keep water nearby and sip regularly.",
		},
	}
}
