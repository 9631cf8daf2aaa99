package service

import (
	"encoding/json"
	"errors"
)

const (
	// NoOutput stands in for an empty stdout on a command that ran.
	NoOutput = "(no output)"

	// ScreenshotPlaceholder is returned when a screenshot is requested. No
	// capture is ever performed.
	ScreenshotPlaceholder = "screenshot capture is not implemented"
)

var (
	ErrTimeout            = errors.New("timeout")
	ErrMalformedInput     = errors.New("malformed input")
	ErrLaunch             = errors.New("launch failure")
	ErrBlockedDestination = errors.New("destination not allowed")
	ErrCommandDisabled    = errors.New("command execution is disabled")
)

// Kind classifies the outcome of a fetch or a command run. It is kept out of
// the serialized records.
type Kind string

const (
	KindNone           Kind = "none"
	KindTransport      Kind = "transport"
	KindMalformedInput Kind = "malformed_input"
	KindLaunch         Kind = "launch"
	KindNonZeroExit    Kind = "non_zero_exit"
	KindTimeout        Kind = "timeout"
)

type FetchRequest struct {
	URL            string `json:"url"`
	TakeScreenshot bool   `json:"takeScreenshot,omitempty"`
}

// FetchResult is the outcome of a single URL fetch.
type FetchResult struct {
	URL        string  `json:"url" yaml:"url"`
	Content    string  `json:"content" yaml:"content"`
	Screenshot *string `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
	Error      *string `json:"error,omitempty" yaml:"error,omitempty"`

	Kind Kind `json:"-" yaml:"-"`
}

func (r FetchResult) Failed() bool {
	return r.Error != nil
}

type RunCommandRequest struct {
	CommandLine string `json:"commandLine"`
}

// CommandResult is the outcome of a single shell command.
type CommandResult struct {
	Command    string  `json:"command" yaml:"command"`
	Output     string  `json:"output" yaml:"output"`
	Error      *string `json:"error,omitempty" yaml:"error,omitempty"`
	ExecutedAt string  `json:"executedAt" yaml:"executedAt"`

	ExitCode int  `json:"-" yaml:"-"`
	Kind     Kind `json:"-" yaml:"-"`
}

func (r CommandResult) Failed() bool {
	return r.Error != nil
}

// CommandOutcome distinguishes a command that was never requested from one
// that ran (successfully or not).
type CommandOutcome struct {
	result *CommandResult
}

// NotRequested is the outcome when no command was supplied.
func NotRequested() CommandOutcome {
	return CommandOutcome{}
}

// Executed wraps the result of a command that was run.
func Executed(res CommandResult) CommandOutcome {
	return CommandOutcome{result: &res}
}

func (o CommandOutcome) Executed() bool {
	return o.result != nil
}

// Result returns a copy of the command result and whether there was one.
func (o CommandOutcome) Result() (CommandResult, bool) {
	if o.result == nil {
		return CommandResult{}, false
	}
	return *o.result, true
}

type commandOutcomeJSON struct {
	Executed bool           `json:"executed" yaml:"executed"`
	Result   *CommandResult `json:"result,omitempty" yaml:"result,omitempty"`
}

func (o CommandOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(commandOutcomeJSON{Executed: o.Executed(), Result: o.result})
}

func (o *CommandOutcome) UnmarshalJSON(data []byte) error {
	var v commandOutcomeJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch {
	case v.Executed && v.Result == nil:
		return errors.New("executed command outcome without a result")
	case !v.Executed && v.Result != nil:
		return errors.New("command outcome has a result but was not executed")
	case v.Executed:
		o.result = v.Result
	default:
		o.result = nil
	}
	return nil
}

// MarshalYAML renders the outcome the same way as its JSON form.
func (o CommandOutcome) MarshalYAML() (any, error) {
	return commandOutcomeJSON{Executed: o.Executed(), Result: o.result}, nil
}

func strPtr(s string) *string {
	return &s
}
