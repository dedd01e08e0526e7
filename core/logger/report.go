package logger

import (
	"encoding/json"
	"io"
	"sort"
	"strconv"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *LogEntry)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var logEntry LogEntry
		if err := decoder.Decode(&logEntry); err != nil {
			return err
		}

		handler(&logEntry)
	}
	return nil
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	Sessions       int        `json:"sessions"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	RunCommand        RunCommandReport        `json:"run_command_report"`
	UnknownCommand    UnknownCommandReport    `json:"unknown_command_report"`
	InvalidInvocation InvalidInvocationReport `json:"invalid_invocation_report"`
	HistoryReplay     HistoryReplayReport     `json:"history_replay_report"`
	ChildExit         ChildExitReport         `json:"child_exit_report"`
	Fatal             FatalReport             `json:"fatal_report"`

	seenSessions map[string]bool
}

func (r *Report) Update(le *LogEntry) {
	r.LogEntries++

	if le.SessionID != "" {
		if r.seenSessions == nil {
			r.seenSessions = make(map[string]bool)
		}
		if !r.seenSessions[le.SessionID] {
			r.seenSessions[le.SessionID] = true
			r.Sessions++
		}
	}

	switch {
	case le.RunCommand != nil:
		r.RunCommand.update(le.RunCommand)
	case le.UnknownCommand != nil:
		r.UnknownCommand.update(le.UnknownCommand)
	case le.InvalidInvocation != nil:
		r.InvalidInvocation.update(le.InvalidInvocation)
	case le.HistoryReplay != nil:
		r.HistoryReplay.Count++
	case le.ChildExit != nil:
		r.ChildExit.update(le.ChildExit)
	case le.Fatal != nil:
		r.Fatal.Errors = append(r.Fatal.Errors, le.Fatal.Error)
	default:
		r.InvalidEntries.Increment("empty")
	}
}

type RunCommandReport struct {
	// Name of the program
	CommandNames StrCounter `json:"command_names"`
	// Dispatch shape of the line
	Shapes     StrCounter `json:"shapes"`
	Background int        `json:"background"`
}

func (r *RunCommandReport) update(rc *RunCommand) {
	if len(rc.Command) > 0 {
		r.CommandNames.Increment(rc.Command[0])
	}
	r.Shapes.Increment(rc.Shape)
	if rc.Background {
		r.Background++
	}
}

type UnknownCommandReport struct {
	CommandNames StrCounter `json:"command_names"`
}

func (r *UnknownCommandReport) update(logEntry *UnknownCommand) {
	if len(logEntry.Command) > 0 {
		r.CommandNames.Increment(logEntry.Command[0])
	}
}

type InvalidInvocationReport struct {
	Errors StrCounter `json:"errors"`
}

func (r *InvalidInvocationReport) update(logEntry *InvalidInvocation) {
	r.Errors.Increment(logEntry.Error)
}

type HistoryReplayReport struct {
	Count int `json:"count"`
}

type ChildExitReport struct {
	ExitCodes StrCounter `json:"exit_codes"`
}

func (r *ChildExitReport) update(logEntry *ChildExit) {
	r.ExitCodes.Increment(strconv.Itoa(logEntry.ExitCode))
}

type FatalReport struct {
	Errors []string `json:"errors"`
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Get returns the count for the key.
func (s *StrCounter) Get(key string) int {
	return s.internal[key]
}

// Keys returns the counted keys in sorted order.
func (s *StrCounter) Keys() []string {
	var out []string
	for k := range s.internal {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON implemnts custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.internal)
}
