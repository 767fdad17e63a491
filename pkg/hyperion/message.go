// Package hyperion provides Hyperion JSON-RPC message building and parsing.
package hyperion

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultPort is the port of the Hyperion web interface, which also serves JSON-RPC over websocket.
	DefaultPort = 8090

	// CommandServerInfo requests general information about the server.
	CommandServerInfo = "serverinfo"
	// CommandLEDColors controls the live LED colour stream.
	CommandLEDColors = "ledcolors"
	// CommandLEDStreamUpdate is the command name of pushed LED stream frames.
	CommandLEDStreamUpdate = "ledcolors-ledstream-update"

	SubcommandLEDStreamStart = "ledstream-start"
	SubcommandLEDStreamStop  = "ledstream-stop"
)

// Request is a JSON-RPC command sent to the server.
type Request struct {
	Command    string `json:"command"`
	Subcommand string `json:"subcommand,omitempty"`
	Tan        int    `json:"tan,omitempty"`
}

// Response is any message received from the server, either a reply or a pushed update.
type Response struct {
	Command string          `json:"command"`
	Success bool            `json:"success"`
	Tan     int             `json:"tan,omitempty"`
	Error   string          `json:"error,omitempty"`
	Info    json.RawMessage `json:"info,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// ServerInfo is the decoded reply to a serverinfo command.
type ServerInfo struct {
	Success bool
	Info    ServerDetails
}

// ServerDetails holds the fields of the serverinfo payload this module uses.
type ServerDetails struct {
	Hostname string `json:"hostname"`
}

type ledStreamResult struct {
	Leds []int `json:"leds"`
}

// NewServerInfoRequest builds a serverinfo command.
func NewServerInfoRequest(tan int) Request {
	return Request{Command: CommandServerInfo, Tan: tan}
}

// NewLEDStreamRequest builds a command that starts or stops the LED colour stream.
func NewLEDStreamRequest(start bool, tan int) Request {
	sub := SubcommandLEDStreamStop
	if start {
		sub = SubcommandLEDStreamStart
	}
	return Request{Command: CommandLEDColors, Subcommand: sub, Tan: tan}
}

// ParseResponse decodes a raw server message.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode hyperion message: %w", err)
	}
	if resp.Command == "" {
		return nil, fmt.Errorf("hyperion message has no command")
	}
	return &resp, nil
}

// ServerInfo decodes the info payload of a serverinfo reply.
// A reply with success=false still decodes; callers check Success.
func (r *Response) ServerInfo() (*ServerInfo, error) {
	if r.Command != CommandServerInfo {
		return nil, fmt.Errorf("expected %s reply, got %s", CommandServerInfo, r.Command)
	}
	info := &ServerInfo{Success: r.Success}
	if len(r.Info) > 0 {
		if err := json.Unmarshal(r.Info, &info.Info); err != nil {
			return nil, fmt.Errorf("failed to decode server info: %w", err)
		}
	}
	return info, nil
}

// LEDColors decodes the flat [r,g,b,r,g,b,...] array of a stream update.
// Channel values outside 0-255 are clamped.
func (r *Response) LEDColors() ([][3]uint8, error) {
	if r.Command != CommandLEDStreamUpdate {
		return nil, fmt.Errorf("expected %s, got %s", CommandLEDStreamUpdate, r.Command)
	}
	var result ledStreamResult
	if err := json.Unmarshal(r.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode led stream: %w", err)
	}
	if len(result.Leds)%3 != 0 {
		return nil, fmt.Errorf("led stream length %d is not a multiple of 3", len(result.Leds))
	}

	leds := make([][3]uint8, len(result.Leds)/3)
	for i := range leds {
		for c := 0; c < 3; c++ {
			leds[i][c] = clampChannel(result.Leds[i*3+c])
		}
	}
	return leds, nil
}

func clampChannel(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
