package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandType identifies the operation a command asks for.
type CommandType string

// Supported command types.
const (
	CommandRegisterSite          CommandType = "register_site"
	CommandSetupClient           CommandType = "setup_client"
	CommandGetAuthorizationURL   CommandType = "get_authorization_url"
	CommandGetAuthorizationCode  CommandType = "get_authorization_code"
	CommandIntrospectAccessToken CommandType = "introspect_access_token"
	CommandGetRp                 CommandType = "get_rp"
)

// CommandTypes lists every command type the daemon understands.
var CommandTypes = []CommandType{
	CommandRegisterSite,
	CommandSetupClient,
	CommandGetAuthorizationURL,
	CommandGetAuthorizationCode,
	CommandIntrospectAccessToken,
	CommandGetRp,
}

// ErrParse is returned when a payload is not a valid command.
var ErrParse = errors.New("failed to parse command")

// Command is a single request sent by a client application.
type Command struct {
	Type   CommandType     `json:"command"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ParseCommand decodes a frame payload into a Command.
func ParseCommand(payload string) (Command, error) {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	cmd.Type = CommandType(strings.TrimSpace(string(cmd.Type)))
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("%w: command type is missing", ErrParse)
	}
	return cmd, nil
}

// NewCommand builds a command with params encoded as JSON.
func NewCommand(t CommandType, params any) (Command, error) {
	cmd := Command{Type: t}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Command{}, fmt.Errorf("failed to encode params: %w", err)
		}
		cmd.Params = raw
	}
	return cmd, nil
}

// DecodeParams unmarshals the command params into v. Missing params decode to
// the zero value.
func (c Command) DecodeParams(v any) error {
	if len(c.Params) == 0 || string(c.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.Params, v); err != nil {
		return NewError(CodeBadRequest, fmt.Sprintf("invalid params for %s: %v", c.Type, err))
	}
	return nil
}

// JSON encodes the command as the frame payload.
func (c Command) JSON() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
