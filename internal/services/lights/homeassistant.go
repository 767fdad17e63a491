package lights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

const haLightDomain = "light."

// colour modes that accept rgb_color
var haColorModes = map[string]bool{
	"hs":    true,
	"xy":    true,
	"rgb":   true,
	"rgbw":  true,
	"rgbww": true,
}

// HomeAssistant lists and drives light.* entities through the Home Assistant REST API.
type HomeAssistant struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHomeAssistant creates a backend for the instance at baseURL using a long-lived access token.
func NewHomeAssistant(baseURL, token string, client *http.Client) *HomeAssistant {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HomeAssistant{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (h *HomeAssistant) Name() string { return "homeassistant" }

func (h *HomeAssistant) Owns(deviceID string) bool {
	return strings.HasPrefix(deviceID, haLightDomain)
}

type haState struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		FriendlyName        string   `json:"friendly_name"`
		SupportedColorModes []string `json:"supported_color_modes"`
	} `json:"attributes"`
}

func (h *HomeAssistant) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (h *HomeAssistant) do(req *http.Request, out interface{}) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("home assistant %s %s returned HTTP %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListLights returns every light entity, sorted by ID.
func (h *HomeAssistant) ListLights(ctx context.Context) ([]Light, error) {
	req, err := h.newRequest(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, err
	}
	var states []haState
	if err := h.do(req, &states); err != nil {
		return nil, fmt.Errorf("failed to list home assistant states: %w", err)
	}

	var result []Light
	for _, s := range states {
		if !strings.HasPrefix(s.EntityID, haLightDomain) {
			continue
		}
		supportsColor := false
		for _, mode := range s.Attributes.SupportedColorModes {
			if haColorModes[mode] {
				supportsColor = true
				break
			}
		}
		name := s.Attributes.FriendlyName
		if name == "" {
			name = s.EntityID
		}
		result = append(result, Light{
			ID:            s.EntityID,
			Name:          name,
			Backend:       h.Name(),
			SupportsColor: supportsColor,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type haTurnOn struct {
	EntityID string   `json:"entity_id"`
	RGBColor [3]uint8 `json:"rgb_color"`
}

// SetColor calls light.turn_on with rgb_color.
func (h *HomeAssistant) SetColor(ctx context.Context, deviceID string, color zone.RGB) error {
	req, err := h.newRequest(ctx, http.MethodPost, "/api/services/light/turn_on", haTurnOn{
		EntityID: deviceID,
		RGBColor: color.Array(),
	})
	if err != nil {
		return err
	}
	return h.do(req, nil)
}
