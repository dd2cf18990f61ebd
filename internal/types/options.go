package types

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default submission option values
const (
	DefaultSubmitTimeout = 60 * time.Second
	DefaultRecheckDelay  = 500 * time.Millisecond
)

// Control option keys accepted in a flat submission body. They are consumed
// by the ledger and never forwarded to the operation.
const (
	OptionForceRestart = "force_restart"
	OptionSynchronous  = "synchronous"
	OptionTimeout      = "timeout"
	OptionRecheckDelay = "recheck_delay"
	OptionJobID        = "job_id"
	OptionDedupe       = "dedupe"
)

// SubmitOptions controls how a submission treats existing jobs and whether it waits.
type SubmitOptions struct {
	ForceRestart bool          `json:"force_restart"`
	Synchronous  bool          `json:"synchronous"`
	Timeout      time.Duration `json:"timeout" validate:"gte=0"`
	RecheckDelay time.Duration `json:"recheck_delay" validate:"gte=0"`
}

// Validate validates the SubmitOptions using the validator.
func (o *SubmitOptions) Validate() error {
	validate := validator.New()
	return validate.Struct(o)
}

// WithDefaults returns a copy with zero durations replaced by the defaults.
func (o SubmitOptions) WithDefaults() SubmitOptions {
	if o.Timeout == 0 {
		o.Timeout = DefaultSubmitTimeout
	}
	if o.RecheckDelay == 0 {
		o.RecheckDelay = DefaultRecheckDelay
	}
	return o
}

// ControlOptions are the control keys found in a flat submission body.
type ControlOptions struct {
	SubmitOptions
	JobID  string
	Dedupe bool
}

// SplitControlOptions separates control options from operation arguments.
// Durations are given in seconds. The input map is not modified.
func SplitControlOptions(body map[string]any) (ControlOptions, map[string]any, error) {
	var opts ControlOptions
	args := make(map[string]any, len(body))

	for key, value := range body {
		var err error
		switch key {
		case OptionForceRestart:
			opts.ForceRestart, err = asBool(key, value)
		case OptionSynchronous:
			opts.Synchronous, err = asBool(key, value)
		case OptionDedupe:
			opts.Dedupe, err = asBool(key, value)
		case OptionTimeout:
			opts.Timeout, err = asSeconds(key, value)
		case OptionRecheckDelay:
			opts.RecheckDelay, err = asSeconds(key, value)
		case OptionJobID:
			s, ok := value.(string)
			if !ok {
				err = fmt.Errorf("option %q must be a string", key)
			}
			opts.JobID = s
		default:
			args[key] = value
		}
		if err != nil {
			return ControlOptions{}, nil, err
		}
	}

	if err := opts.SubmitOptions.Validate(); err != nil {
		return ControlOptions{}, nil, fmt.Errorf("invalid submit options: %w", err)
	}
	return opts, args, nil
}

func asBool(key string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("option %q must be a boolean: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("option %q must be a boolean", key)
	}
}

func asSeconds(key string, value any) (time.Duration, error) {
	var secs float64
	switch v := value.(type) {
	case float64:
		secs = v
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("option %q must be a number of seconds: %w", key, err)
		}
		secs = f
	default:
		return 0, fmt.Errorf("option %q must be a number of seconds", key)
	}
	if secs < 0 {
		return 0, fmt.Errorf("option %q must be non-negative", key)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
