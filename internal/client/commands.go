package client

import "strings"

type command struct {
	name string
	arg  string
}

// parseCommand splits an input line. Lines not starting with "/" are plain
// actions.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "action", arg: line}
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	name = strings.ToLower(name)
	switch name {
	case "say":
		name = "speech"
	case "think":
		name = "thought"
	case "do", "act":
		name = "action"
	case "exit":
		name = "quit"
	}
	return command{name: name, arg: strings.TrimSpace(arg)}
}

const helpText = `commands:
  <text>            take an action
  /say <text>       speak
  /think <text>     think
  /roll <dice>      roll dice, e.g. /roll 2d6+1 or /roll d20 adv
  /fulfill          roll the pending requirement and submit it
  /status           show game status
  /speak <text>     voice text
  /reconnect        reopen the push channel
  /quit             leave`
