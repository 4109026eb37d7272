package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// Demo weather tools. They return synthetic data so the agent can be
// exercised without any external service.

var weatherConditions = []string{"sunny", "cloudy", "rainy", "snowy", "foggy"}

type weatherArgs struct {
	City string `json:"city"`
}

func cityArgSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{
				"type":        "string",
				"description": "The name of the city",
			},
		},
		"required": []string{"city"},
	}
}

func parseCity(args json.RawMessage) (string, error) {
	var parsed weatherArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if parsed.City == "" {
		return "", fmt.Errorf("missing required argument: city")
	}
	return parsed.City, nil
}

// NewWeatherTool reports the current temperature for a city.
// rng may be nil, in which case a time-seeded source is used.
func NewWeatherTool(rng *rand.Rand) Tool {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Func{
		Meta: Spec{
			Name:             "get_weather",
			Description:      "Get the current temperature for a city",
			Schema:           cityArgSchema(),
			Category:         "weather",
			Status:           StatusActive,
			MaxExecutionTime: 30 * time.Second,
			RetryCount:       3,
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			city, err := parseCity(args)
			if err != nil {
				return "", err
			}
			temp := rng.Intn(45) - 10 // -10..34
			return fmt.Sprintf("The temperature in %s is %d°C", city, temp), nil
		},
	}
}

// NewWeatherConditionsTool reports the current conditions for a city.
func NewWeatherConditionsTool(rng *rand.Rand) Tool {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Func{
		Meta: Spec{
			Name:             "get_weather_conditions",
			Description:      "Get the current weather conditions for a city",
			Schema:           cityArgSchema(),
			Category:         "weather",
			Status:           StatusActive,
			MaxExecutionTime: 30 * time.Second,
			RetryCount:       3,
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			if _, err := parseCity(args); err != nil {
				return "", err
			}
			return weatherConditions[rng.Intn(len(weatherConditions))], nil
		},
	}
}

// RegisterDefaults registers the built-in demo tools.
func RegisterDefaults(r *Registry) {
	r.Register(NewWeatherTool(nil))
	r.Register(NewWeatherConditionsTool(nil))
}
