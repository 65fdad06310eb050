// Copyright 2025 Tom Barlow
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

package externals

import (
	"math"
	"strconv"
	"strings"

	"github.com/tombee/hostedjob/internal/jobmodel"
)

// vespaLogFields is the exact field count of one Vespa log line (§6):
// epochSeconds.micros, host, processId, service, component, levelName,
// message.
const vespaLogFields = 7

// ParseVespaLogLine parses one tab-separated Vespa log line into a
// LogEntry (with ID left zero; the log store assigns it on append). Lines
// that do not split into exactly vespaLogFields fields are skipped (ok ==
// false, no error: malformed lines are simply dropped per §6).
func ParseVespaLogLine(line string) (jobmodel.LogEntry, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) != vespaLogFields {
		return jobmodel.LogEntry{}, false
	}

	epoch, host, _, service, component, levelName, rawMessage := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]

	epochSeconds, err := strconv.ParseFloat(epoch, 64)
	if err != nil {
		return jobmodel.LogEntry{}, false
	}

	text := host + "\t" + service + "\t" + component + "\n" + unescapeVespaMessage(rawMessage)

	return jobmodel.LogEntry{
		ID:     0,
		Millis: int64(math.Floor(epochSeconds * 1000)),
		Level:  levelFromVespa(levelName),
		Text:   text,
	}, true
}

// unescapeVespaMessage reverses the \n/\t escaping Vespa applies so a
// message can safely occupy one tab-separated field.
func unescapeVespaMessage(s string) string {
	s = strings.ReplaceAll(s, `\t`, "\t")
	s = strings.ReplaceAll(s, `\n`, "\n")
	return s
}

// levelFromVespa maps a Vespa level name to the job runner's coarser
// LogLevel enumeration.
func levelFromVespa(name string) jobmodel.LogLevel {
	switch strings.ToLower(name) {
	case "fatal", "error":
		return jobmodel.LogError
	case "warning":
		return jobmodel.LogWarning
	case "debug", "spam":
		return jobmodel.LogDebug
	default: // info, config, event, and anything unrecognised
		return jobmodel.LogInfo
	}
}
