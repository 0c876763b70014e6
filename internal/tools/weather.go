package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const defaultWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// WeatherConfig configures the weather tool.
type WeatherConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Weather reports current conditions from OpenWeather.
type Weather struct {
	base
	cfg WeatherConfig
}

// NewWeather creates the weather tool.
func NewWeather(cfg WeatherConfig) *Weather {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultWeatherBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Weather{
		base: base{schema: Schema{
			Name:        "weather",
			Description: "Obtiene el tiempo actual de una ciudad.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"city":  {Type: "string", Description: "Nombre de la ciudad"},
					"units": {Type: "string", Description: "Unidades de temperatura", Enum: []string{"metric", "imperial", "kelvin"}, Default: "metric"},
				},
				Required: []string{"city"},
			},
		}},
		cfg: cfg,
	}
}

type openWeatherResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func (w *Weather) Execute(ctx context.Context, args Args) (Result, error) {
	if w.cfg.APIKey == "" {
		return Failure("OpenWeather API key not configured. Set OPENWEATHER_API_KEY environment variable."), nil
	}
	city := args.String("city")
	if city == "" {
		return Failure("Debe indicar una ciudad"), nil
	}
	units := args.StringOr("units", "metric")

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", w.cfg.APIKey)
	switch units {
	case "imperial", "metric":
		q.Set("units", units)
	case "kelvin":
		q.Set("units", "standard")
	default:
		units = "metric"
		q.Set("units", units)
	}

	var data openWeatherResponse
	client := httpClient(w.cfg.Timeout, 10*time.Second)
	if err := getJSON(ctx, client, w.cfg.BaseURL+"/weather?"+q.Encode(), &data, openWeatherMessage); err != nil {
		return Failure(err.Error()), nil
	}

	desc := ""
	if len(data.Weather) > 0 {
		desc = data.Weather[0].Description
	}
	return Result{
		"success": true,
		"data": map[string]any{
			"city":        data.Name,
			"country":     data.Sys.Country,
			"temperature": fmt.Sprintf("%s%s", num(data.Main.Temp), tempSymbol(units)),
			"description": desc,
			"humidity":    num(data.Main.Humidity) + "%",
			"windSpeed":   num(data.Wind.Speed) + " " + windUnit(units),
			"pressure":    num(data.Main.Pressure) + " hPa",
		},
	}, nil
}

func tempSymbol(units string) string {
	switch units {
	case "imperial":
		return "°F"
	case "kelvin":
		return "K"
	default:
		return "°C"
	}
}

func windUnit(units string) string {
	if units == "imperial" {
		return "mph"
	}
	return "m/s"
}

func openWeatherMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Message
	}
	return ""
}
