package agent

import (
	"encoding/json"
	"strings"
)

// CLIResult is the JSON result object claude emits with
// --output-format json. Other agents may emit a compatible object;
// absence is never an error.
type CLIResult struct {
	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int     `json:"num_turns"`
	SessionID    string  `json:"session_id"`
}

// trailingJSONScanback is how many lines from the end of output we look
// for a result object
const trailingJSONScanback = 50

// parseTrailingJSON finds the agent's JSON result object near the end of
// its output. Returns nil if none parses.
func parseTrailingJSON(lines []string) *CLIResult {
	start := len(lines) - trailingJSONScanback
	if start < 0 {
		start = 0
	}
	for i := len(lines) - 1; i >= start; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
			continue
		}
		var res CLIResult
		if err := json.Unmarshal([]byte(trimmed), &res); err != nil {
			continue
		}
		// Require at least one meaningful field so arbitrary JSON noise
		// in agent output does not masquerade as the result
		if res.Result == "" && res.TotalCostUSD == 0 && res.SessionID == "" && !res.IsError {
			continue
		}
		return &res
	}
	return nil
}
