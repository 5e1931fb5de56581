package workerproc

import (
	"encoding/json"
	"strings"

	"github.com/kmajdoub/botfleet/internal/session"
	"github.com/kmajdoub/botfleet/internal/supervisor"
)

// wireEvent is one line of the worker's stdout protocol: line-delimited
// JSON objects dispatched on "type". Anything that doesn't parse is
// treated as a plain log line.
type wireEvent struct {
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	Reason        string   `json:"reason"`
	EarnedKamas   int64    `json:"earnedKamas"`
	NbrFightsDone int      `json:"nbrFightsDone"`
	EarnedLevels  int      `json:"earnedLevels"`
	Lines         []string `json:"lines"`
	Message       string   `json:"message"`
}

// parseLine interprets one worker stdout line. The bool is false when
// the line is not a structured event and should be forwarded as a log
// line instead.
func parseLine(line string) (supervisor.Event, bool) {
	line = strings.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return supervisor.Event{}, false
	}

	var evt wireEvent
	if err := json.Unmarshal([]byte(line), &evt); err != nil {
		return supervisor.Event{}, false
	}

	switch evt.Type {
	case "status":
		status := session.Status(strings.ToUpper(evt.Status))
		if !status.Valid() {
			return supervisor.Event{}, false
		}
		return supervisor.StatusEvent(status, evt.Reason), true
	case "metrics":
		return supervisor.MetricsEvent(session.MetricsDelta{
			EarnedKamas:   evt.EarnedKamas,
			NbrFightsDone: evt.NbrFightsDone,
			EarnedLevels:  evt.EarnedLevels,
		}), true
	case "log":
		lines := evt.Lines
		if len(lines) == 0 && evt.Message != "" {
			lines = []string{evt.Message}
		}
		if len(lines) == 0 {
			return supervisor.Event{}, false
		}
		return supervisor.LogEvent(lines...), true
	}
	return supervisor.Event{}, false
}
