package view

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQuit is returned by ParseInput for /quit.
var ErrQuit = errors.New("quit")

// ParseInput turns one line typed at the terminal into an Action. Lines that
// do not start with '/' are chat input and are passed through unchanged. A
// leading "//" sends the rest of the line, one slash included, as chat.
func ParseInput(line string) (Action, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Send{Content: line}, nil
	}
	if strings.HasPrefix(trimmed, "//") {
		return Send{Content: trimmed[1:]}, nil
	}

	fields := strings.Fields(trimmed)
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "/login":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: /login <username> <password>")
		}
		return Login{Username: args[0], Password: args[1]}, nil

	case "/register":
		if len(args) != 3 {
			return nil, fmt.Errorf("usage: /register <username> <password> <confirm>")
		}
		return Register{Username: args[0], Password: args[1], Confirm: args[2]}, nil

	case "/tab":
		if len(args) == 1 {
			switch args[0] {
			case "login":
				return SwitchTab{Tab: TabLogin}, nil
			case "register":
				return SwitchTab{Tab: TabRegister}, nil
			}
		}
		return nil, fmt.Errorf("usage: /tab login|register")

	case "/logout":
		return Logout{}, nil

	case "/quit", "/exit":
		return nil, ErrQuit

	default:
		return nil, fmt.Errorf("unknown command %s", cmd)
	}
}
