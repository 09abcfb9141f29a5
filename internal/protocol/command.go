// Package protocol implements the line-oriented command protocol spoken
// over the runner process's standard input and output. Outbound commands
// are one line of the form verb(args); inbound lines are classified into
// log output, progress reports, status markers, and delimited JSON
// responses.
//
// Wire encoding: arguments are positional. File paths are double-quoted;
// the diarization flag is sent as the Python literal True/False, since the
// runner is a Python read-eval loop and strips quotes itself.
package protocol

import (
	"fmt"
	"strings"
)

// Verb identifies a runner command.
type Verb string

const (
	VerbLoadModel  Verb = "load-model"
	VerbTranscribe Verb = "transcribe-audio"
	VerbExit       Verb = "exit"
)

// Command is an encodable runner command.
type Command struct {
	verb Verb
	args []string
}

// LoadModel builds a load-model command for the given model name.
func LoadModel(model string) Command {
	return Command{verb: VerbLoadModel, args: []string{model}}
}

// TranscribeAudio builds a transcribe-audio command. Backslashes are
// normalized to forward slashes so Windows paths survive the runner's
// naive argument parsing.
func TranscribeAudio(path string, diarize bool) Command {
	path = strings.ReplaceAll(path, `\`, "/")
	flag := "False"
	if diarize {
		flag = "True"
	}
	return Command{verb: VerbTranscribe, args: []string{fmt.Sprintf("%q", path), flag}}
}

// Exit builds the shutdown command. The runner terminates without sending
// a response.
func Exit() Command {
	return Command{verb: VerbExit}
}

// Verb returns the command verb.
func (c Command) Verb() Verb { return c.verb }

// Encode renders the command as a single protocol line including the
// trailing newline.
func (c Command) Encode() string {
	return fmt.Sprintf("%s(%s)\n", c.verb, strings.Join(c.args, ", "))
}
