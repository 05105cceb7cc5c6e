package params

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Defaults for fields not supplied on submission, per the generation
// parameters table.
const (
	DefaultNumFrames          = 84
	DefaultNumInferenceSteps  = 50
	DefaultGuidanceScale      = 7.5
	DefaultFPS                = 30
	DefaultWidth              = 848
	DefaultHeight             = 480
	DefaultPriority           = 0
	MinNumFrames              = 1
	MaxNumFrames              = 163
	MinNumInferenceSteps      = 10
	MaxNumInferenceSteps      = 100
	MinGuidanceScale          = 1.0
	MaxGuidanceScale          = 20.0
	MinFPS                    = 1
	MaxFPS                    = 60
	MinDimension              = 256
	MaxDimension              = 1024
	DimensionMultiple         = 64
	MinPriority               = -10
	MaxPriority               = 10
	MaxPromptLength           = 2000
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// GenerationParams holds the fully-resolved, validated parameters for a
// single generation job. It is immutable once a Job is submitted.
type GenerationParams struct {
	Prompt             string  `json:"prompt"`
	NumFrames          int     `json:"num_frames"`
	NumInferenceSteps  int     `json:"num_inference_steps"`
	GuidanceScale      float64 `json:"guidance_scale"`
	FPS                int     `json:"fps"`
	Width              int     `json:"width"`
	Height             int     `json:"height"`
	Seed               int64   `json:"seed"`
	Priority           int     `json:"priority"`
}

// Request is the wire shape accepted by POST /api/jobs/submit. Pointer
// fields distinguish "not supplied" (nil, defaulted) from an explicit
// zero value.
type Request struct {
	Prompt             string   `json:"prompt" validate:"required,max=2000"`
	NumFrames          *int     `json:"num_frames" validate:"omitempty,min=1,max=163"`
	NumInferenceSteps  *int     `json:"num_inference_steps" validate:"omitempty,min=10,max=100"`
	GuidanceScale      *float64 `json:"guidance_scale" validate:"omitempty,min=1.0,max=20.0"`
	FPS                *int     `json:"fps" validate:"omitempty,min=1,max=60"`
	Width              *int     `json:"width" validate:"omitempty,min=256,max=1024"`
	Height             *int     `json:"height" validate:"omitempty,min=256,max=1024"`
	Seed               *int64   `json:"seed"`
	Priority           *int     `json:"priority" validate:"omitempty,min=-10,max=10"`
}

// ValidationError aggregates every violation found while resolving a
// Request, so a caller sees the full set of problems in one response
// instead of one at a time.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

func newValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// Resolve validates r and fills in defaults for every field the caller
// omitted, returning the fully-resolved GenerationParams. All violations
// are collected and returned together via a *ValidationError.
func (r *Request) Resolve() (GenerationParams, error) {
	var violations []string

	if strings.TrimSpace(r.Prompt) == "" {
		violations = append(violations, "prompt must not be empty")
	}

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				violations = append(violations, describeFieldError(fe))
			}
		} else {
			violations = append(violations, err.Error())
		}
	}

	width := DefaultWidth
	if r.Width != nil {
		width = *r.Width
		if width%DimensionMultiple != 0 {
			violations = append(violations, fmt.Sprintf("width must be a multiple of %d", DimensionMultiple))
		}
	}

	height := DefaultHeight
	if r.Height != nil {
		height = *r.Height
		if height%DimensionMultiple != 0 {
			violations = append(violations, fmt.Sprintf("height must be a multiple of %d", DimensionMultiple))
		}
	}

	if len(violations) > 0 {
		return GenerationParams{}, newValidationError(violations...)
	}

	out := GenerationParams{
		Prompt:            r.Prompt,
		NumFrames:         DefaultNumFrames,
		NumInferenceSteps: DefaultNumInferenceSteps,
		GuidanceScale:     DefaultGuidanceScale,
		FPS:               DefaultFPS,
		Width:             width,
		Height:            height,
		Priority:          DefaultPriority,
	}
	if r.NumFrames != nil {
		out.NumFrames = *r.NumFrames
	}
	if r.NumInferenceSteps != nil {
		out.NumInferenceSteps = *r.NumInferenceSteps
	}
	if r.GuidanceScale != nil {
		out.GuidanceScale = *r.GuidanceScale
	}
	if r.FPS != nil {
		out.FPS = *r.FPS
	}
	if r.Priority != nil {
		out.Priority = *r.Priority
	}
	if r.Seed != nil {
		out.Seed = *r.Seed
	} else {
		out.Seed = rand.Int64()
	}
	return out, nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
