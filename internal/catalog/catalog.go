// Package catalog decodes the MoQ catalog JSON document (spec §4.3, §6):
// the reserved track whose latest group describes a broadcast's renditions,
// containers, and codec configuration.
//
// This is a reader for the document the teacher (zsiec/prism,
// internal/distribution/moq_catalog.go) only ever builds; the field names
// below follow spec §6's wire format rather than prism's
// draft-ietf-moq-catalogformat shape, since this module's consumer talks to
// a relay that speaks the VideoConfig-based catalog the spec defines.
package catalog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ContainerKind identifies which container family a rendition is packaged in.
type ContainerKind string

const (
	ContainerCMAF   ContainerKind = "cmaf"
	ContainerLegacy ContainerKind = "legacy"
)

// Container describes the container-specific fields of a VideoConfig.
type Container struct {
	Kind      ContainerKind `json:"kind"`
	Timescale uint32        `json:"timescale,omitempty"`
}

// Display describes the intended presentation geometry.
type Display struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VideoConfig is one entry in the catalog's renditions map (spec §3, §6).
type VideoConfig struct {
	Codec              string    `json:"codec"`
	CodedWidth         int       `json:"codedWidth,omitempty"`
	CodedHeight        int       `json:"codedHeight,omitempty"`
	Description        string    `json:"description,omitempty"` // hex-encoded init segment / decoder config
	OptimizeForLatency *bool     `json:"optimizeForLatency,omitempty"`
	Container          Container `json:"container"`
	Flip               bool      `json:"flip,omitempty"`
	Display            *Display  `json:"display,omitempty"`
}

// Area returns CodedWidth*CodedHeight, or 0 if either is unset.
func (v VideoConfig) Area() int {
	return v.CodedWidth * v.CodedHeight
}

// HasDimensions reports whether both CodedWidth and CodedHeight are set.
func (v VideoConfig) HasDimensions() bool {
	return v.CodedWidth > 0 && v.CodedHeight > 0
}

// OptimizeLatency returns OptimizeForLatency's value, defaulting to true
// per spec §6.
func (v VideoConfig) OptimizeLatency() bool {
	if v.OptimizeForLatency == nil {
		return true
	}
	return *v.OptimizeForLatency
}

// DescriptionBytes hex-decodes Description. Returns nil, nil if unset.
func (v VideoConfig) DescriptionBytes() ([]byte, error) {
	if v.Description == "" {
		return nil, nil
	}
	return hex.DecodeString(v.Description)
}

// AudioConfig describes the catalog's optional audio rendition.
type AudioConfig struct {
	Codec         string `json:"codec"`
	SampleRate    int    `json:"sampleRate,omitempty"`
	NumberOfChannels int `json:"numberOfChannels,omitempty"`
	Description   string `json:"description,omitempty"`
	Container     Container `json:"container"`
}

// CaptionConfig describes the optional supplemented captions track.
type CaptionConfig struct {
	Codec string `json:"codec"`
}

// Catalog is the top-level document on the catalog track (spec §4.3).
type Catalog struct {
	Video     map[string]VideoConfig `json:"video,omitempty"`
	Audio     map[string]AudioConfig `json:"audio,omitempty"`
	Captions  *CaptionConfig         `json:"captions,omitempty"`
	Display   *Display               `json:"display,omitempty"`
	MinBuffer int                    `json:"minBuffer,omitempty"` // milliseconds
	Flip      bool                   `json:"flip,omitempty"`
}

// Parse decodes raw catalog JSON. On error it returns a nil *Catalog and a
// non-nil error; callers implementing the MalformedCatalog policy (spec §7)
// must retain their previous catalog themselves — Parse never mutates
// caller state.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if len(c.Video) == 0 && len(c.Audio) == 0 {
		return nil, fmt.Errorf("catalog: must contain at least one of video or audio")
	}
	return &c, nil
}

// RenditionNames returns the catalog's video rendition names in
// deterministic (sorted) order, for stable tie-breaking during selection.
func (c *Catalog) RenditionNames() []string {
	names := make([]string, 0, len(c.Video))
	for name := range c.Video {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
