package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
)

// Stage names used in results, errors and log fields
const (
	StageConvert  = "convert"
	StageInject   = "inject"
	StageManifest = "manifest"
)

// Artifact roles recorded in manifests
const (
	RoleCompactModel   = "compact_model"
	RoleLabelFile      = "label_file"
	RoleAnnotatedModel = "annotated_model"
)

// ErrInvalidNormalization is wrapped by Normalization.Validate errors
var ErrInvalidNormalization = errors.New("invalid normalization")

// Normalization holds the per-channel constants used to map raw pixel values
// into the range the model expects: normalized = (raw - mean) / std.
// A single value applies to every channel.
type Normalization struct {
	Mean []float64 `json:"mean" yaml:"mean" mapstructure:"mean"`
	Std  []float64 `json:"std" yaml:"std" mapstructure:"std"`
}

// IsSet reports whether both mean and std were provided
func (n Normalization) IsSet() bool {
	return len(n.Mean) > 0 && len(n.Std) > 0
}

// Validate checks the constants can be applied to an input with the given
// channel count. channels <= 0 skips the channel check.
func (n Normalization) Validate(channels int) error {
	if !n.IsSet() {
		return fmt.Errorf("%w: mean and std must both be set", ErrInvalidNormalization)
	}
	if len(n.Mean) != len(n.Std) {
		return fmt.Errorf("%w: mean has %d values but std has %d", ErrInvalidNormalization, len(n.Mean), len(n.Std))
	}
	for i, s := range n.Std {
		if s == 0 {
			return fmt.Errorf("%w: std[%d] is zero", ErrInvalidNormalization, i)
		}
	}
	if channels > 0 && len(n.Mean) > 1 && len(n.Mean) != channels {
		return fmt.Errorf("%w: %d values but the input has %d channels", ErrInvalidNormalization, len(n.Mean), channels)
	}
	return nil
}

// ErrorKind classifies why a stage failed so callers can branch on it
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindDependencyMissing
	KindInputInvalid
	KindConversionFailure
	KindWriteFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindDependencyMissing:
		return "dependency-missing"
	case KindInputInvalid:
		return "input-invalid"
	case KindConversionFailure:
		return "conversion-failure"
	case KindWriteFailure:
		return "write-failure"
	default:
		return "unknown"
	}
}

// StageError is returned by a pipeline stage that did not produce its output
type StageError struct {
	Stage string
	Kind  ErrorKind
	Err   error

	// Remediation is an operator instruction, e.g. which package to install
	Remediation string

	// Diagnostics holds best-effort extra lines such as library versions
	Diagnostics []string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindUnknown
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// StageResult describes a stage that completed
type StageResult struct {
	Stage      string        `json:"stage"`
	Backend    string        `json:"backend"`
	InputPath  string        `json:"input_path"`
	OutputPath string        `json:"output_path"`
	OutputSize int64         `json:"output_size"`
	Duration   time.Duration `json:"duration"`
}

// ArtifactManifest records the digests of the pipeline's artifacts
type ArtifactManifest struct {
	ID            string        `json:"id"`
	Tool          string        `json:"tool"`
	CreatedAt     time.Time     `json:"created_at"`
	Artifacts     []Artifact    `json:"artifacts"`
	Normalization Normalization `json:"normalization"`
	Labels        int           `json:"labels"`

	// Signature for verification
	Signature string `json:"signature,omitempty"`
}

// Artifact is a single file in a manifest
type Artifact struct {
	Role   string        `json:"role"`
	Path   string        `json:"path"`
	Size   int64         `json:"size"`
	Digest digest.Digest `json:"digest"`
}

// Find returns the artifact with the given role
func (m *ArtifactManifest) Find(role string) (Artifact, bool) {
	for _, a := range m.Artifacts {
		if a.Role == role {
			return a, true
		}
	}
	return Artifact{}, false
}

// ComputeHash returns the digest of the manifest (excluding signature)
func (m *ArtifactManifest) ComputeHash() (digest.Digest, error) {
	manifestCopy := *m
	manifestCopy.Signature = ""

	data, err := json.Marshal(manifestCopy)
	if err != nil {
		return "", err
	}

	return digest.FromBytes(data), nil
}
