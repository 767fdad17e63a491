package lights

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/openhue/openhue-go"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

const huePrefix = "hue:"

// Hue drives lights on one Philips Hue bridge. Device IDs are "hue:<light id>".
type Hue struct {
	bridgeIP string
	client   *openhue.ClientWithResponses
}

// NewHue creates a backend for the bridge at ip using an application key.
func NewHue(ip, appKey string) (*Hue, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			// bridges serve a self-signed certificate
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	client, err := openhue.NewClientWithResponses(
		fmt.Sprintf("https://%s", ip),
		openhue.WithHTTPClient(httpClient),
		openhue.WithRequestEditorFn(func(ctx context.Context, req *http.Request) error {
			req.Header.Set("hue-application-key", appKey)
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Hue client for %s: %w", ip, err)
	}
	return &Hue{bridgeIP: ip, client: client}, nil
}

func (h *Hue) Name() string { return "hue" }

func (h *Hue) Owns(deviceID string) bool {
	return strings.HasPrefix(deviceID, huePrefix)
}

// ListLights returns the bridge's lights, sorted by ID.
func (h *Hue) ListLights(ctx context.Context) ([]Light, error) {
	resp, err := h.client.GetLightsWithResponse(ctx)
	if err != nil {
		return nil, fmt.Errorf("hue bridge %s: %w", h.bridgeIP, err)
	}
	if resp.JSON200 == nil || resp.JSON200.Data == nil {
		status := 0
		if resp.HTTPResponse != nil {
			status = resp.HTTPResponse.StatusCode
		}
		return nil, fmt.Errorf("hue bridge %s returned no light data (HTTP %d)", h.bridgeIP, status)
	}

	var result []Light
	for _, l := range *resp.JSON200.Data {
		if l.Id == nil {
			continue
		}
		name := "Hue Light"
		if l.Metadata != nil && l.Metadata.Name != nil {
			name = *l.Metadata.Name
		}
		result = append(result, Light{
			ID:            huePrefix + *l.Id,
			Name:          name,
			Backend:       h.Name(),
			SupportsColor: l.Color != nil,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	log.Printf("[hue] Bridge %s: found %d light(s)", h.bridgeIP, len(result))
	return result, nil
}

// SetColor sends the colour as CIE xy plus brightness. Black turns the light off.
func (h *Hue) SetColor(ctx context.Context, deviceID string, color zone.RGB) error {
	lightID := strings.TrimPrefix(deviceID, huePrefix)
	resp, err := h.client.UpdateLightWithResponse(ctx, lightID, hueUpdate(color))
	if err != nil {
		return err
	}
	if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned HTTP %d", resp.HTTPResponse.StatusCode)
	}
	return nil
}

func hueUpdate(color zone.RGB) openhue.UpdateLightJSONRequestBody {
	c := colorful.Color{
		R: float64(color.R) / 255.0,
		G: float64(color.G) / 255.0,
		B: float64(color.B) / 255.0,
	}
	_, _, v := c.Hsv()

	on := v > 0
	body := openhue.UpdateLightJSONRequestBody{
		On: &openhue.On{On: &on},
	}
	if !on {
		return body
	}

	x64, y64, _ := c.Xyy()
	x, y := float32(x64), float32(y64)
	brightness := openhue.Brightness(v * 100.0)
	body.Color = &openhue.Color{Xy: &openhue.GamutPosition{X: &x, Y: &y}}
	body.Dimming = &openhue.Dimming{Brightness: &brightness}
	return body
}
