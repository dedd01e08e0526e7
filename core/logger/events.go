package logger

// LogEntry is a single event in the log. Exactly one of the event fields is
// set.
type LogEntry struct {
	TimestampMicros int64  `json:"timestamp_micros"`
	SessionID       string `json:"session_id,omitempty"`

	RunCommand        *RunCommand        `json:"run_command,omitempty"`
	UnknownCommand    *UnknownCommand    `json:"unknown_command,omitempty"`
	InvalidInvocation *InvalidInvocation `json:"invalid_invocation,omitempty"`
	HistoryReplay     *HistoryReplay     `json:"history_replay,omitempty"`
	ChildExit         *ChildExit         `json:"child_exit,omitempty"`
	Fatal             *Fatal             `json:"fatal,omitempty"`
}

// LogType is implemented by every event that can be recorded.
type LogType interface {
	attach(le *LogEntry)
}

// RunCommand is logged when a process is about to be spawned.
type RunCommand struct {
	Command    []string `json:"command"`
	Shape      string   `json:"shape"`
	Background bool     `json:"background,omitempty"`
}

func (e *RunCommand) attach(le *LogEntry) { le.RunCommand = e }

// UnknownCommand is logged when a program can't be resolved or started.
type UnknownCommand struct {
	Command      []string `json:"command"`
	ErrorMessage string   `json:"error_message"`
}

func (e *UnknownCommand) attach(le *LogEntry) { le.UnknownCommand = e }

// InvalidInvocation is logged for lines that can't be dispatched.
type InvalidInvocation struct {
	Line  string `json:"line"`
	Error string `json:"error"`
}

func (e *InvalidInvocation) attach(le *LogEntry) { le.InvalidInvocation = e }

// HistoryReplay is logged when !! re-dispatches the stored line.
type HistoryReplay struct {
	Line string `json:"line"`
}

func (e *HistoryReplay) attach(le *LogEntry) { le.HistoryReplay = e }

// ChildExit is logged when a spawned process is reaped.
type ChildExit struct {
	Command    []string `json:"command"`
	ExitCode   int      `json:"exit_code"`
	Background bool     `json:"background,omitempty"`
}

func (e *ChildExit) attach(le *LogEntry) { le.ChildExit = e }

// Fatal is logged right before the interpreter terminates.
type Fatal struct {
	Error string `json:"error"`
}

func (e *Fatal) attach(le *LogEntry) { le.Fatal = e }
