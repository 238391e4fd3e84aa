package core

import "poi-controller/internal/protocol"

// CommandType defines the type of command being dispatched.
type CommandType string

const (
	// CmdSend carries a poi command in Command.Poi to the active link.
	CmdSend           CommandType = "send"
	CmdRunScript      CommandType = "runScript"
	CmdStopScript     CommandType = "stopScript"
	CmdRunCode        CommandType = "runCode"
	CmdAddSchedule    CommandType = "addSchedule"
	CmdRemoveSchedule CommandType = "removeSchedule"
	CmdGetScriptCode  CommandType = "getScriptCode"
	CmdSaveScriptCode CommandType = "saveScriptCode"
	CmdDeleteScript   CommandType = "deleteScript"
)

// Command is the envelope for incoming requests to change state or perform actions.
type Command struct {
	Type    CommandType
	Poi     protocol.Command
	Payload map[string]interface{}
}

// Send wraps a poi command in a CmdSend envelope.
func Send(cmd protocol.Command) Command {
	return Command{Type: CmdSend, Poi: cmd}
}

// CommandChannel is the single channel that the core Agent listens to for commands.
type CommandChannel chan Command
