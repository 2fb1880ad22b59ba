package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"collabd/internal/models"
)

// CommandKind names a line typed at the client prompt.
type CommandKind int

const (
	// CmdEdit carries an Insert, Delete or Cursor op.
	CmdEdit CommandKind = iota
	CmdLeft
	CmdRight
	CmdSync
	CmdShow
	CmdUsers
	CmdCursors
	CmdHelp
	CmdQuit
)

// Command is one parsed prompt line.
type Command struct {
	Kind CommandKind
	Op   models.Op
}

var (
	// ErrEmptyCommand is returned for blank input.
	ErrEmptyCommand = errors.New("empty command")
	// ErrUnknownCommand is returned for input that is not a command.
	ErrUnknownCommand = errors.New("unknown command, try /help")
)

var simpleCommands = map[string]CommandKind{
	"/left":    CmdLeft,
	"/right":   CmdRight,
	"/sync":    CmdSync,
	"/show":    CmdShow,
	"/users":   CmdUsers,
	"/cursors": CmdCursors,
	"/help":    CmdHelp,
	"/quit":    CmdQuit,
}

// ParseCommand parses one line of user input:
//
//	/insert <pos> <text>   i <pos> <text>
//	/delete <pos> <len>    d <pos> <len>
//	/cursor <pos>          c <pos>
//	/left /right /sync /show /users /cursors /help /quit
func ParseCommand(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{}, ErrEmptyCommand
	}
	if kind, ok := simpleCommands[strings.ToLower(trimmed)]; ok {
		return Command{Kind: kind}, nil
	}

	verb, rest, _ := strings.Cut(trimmed, " ")
	switch verb {
	case "/insert", "i":
		return parseInsert(rest)
	case "/delete", "d":
		return parseDelete(rest)
	case "/cursor", "c":
		return parseCursor(rest)
	}
	return Command{}, ErrUnknownCommand
}

// parseInsert keeps the text verbatim after the single separating space,
// so inserted text may start with or contain spaces.
func parseInsert(rest string) (Command, error) {
	posStr, text, _ := strings.Cut(rest, " ")
	pos, err := parseOffset(posStr)
	if err != nil {
		return Command{}, err
	}
	return edit(models.Op{Kind: models.OpInsert, Pos: pos, Text: text}), nil
}

func parseDelete(rest string) (Command, error) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("usage: /delete <pos> <len>")
	}
	pos, err := parseOffset(fields[0])
	if err != nil {
		return Command{}, err
	}
	length, err := parseOffset(fields[1])
	if err != nil {
		return Command{}, err
	}
	return edit(models.Op{Kind: models.OpDelete, Pos: pos, Len: length}), nil
}

func parseCursor(rest string) (Command, error) {
	pos, err := parseOffset(strings.TrimSpace(rest))
	if err != nil {
		return Command{}, err
	}
	return edit(models.Op{Kind: models.OpCursor, Pos: pos}), nil
}

func parseOffset(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return n, nil
}

func edit(op models.Op) Command {
	return Command{Kind: CmdEdit, Op: op}
}

const helpText = `Commands:
  /insert <pos> <text>   (or: i <pos> <text>)
  /delete <pos> <len>    (or: d <pos> <len>)
  /cursor <pos>          (or: c <pos>)
  /left, /right          move the cursor one character
  /sync
  /show
  /users
  /cursors
  /quit`
