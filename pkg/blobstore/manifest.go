package blobstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ManifestVersion is the schema version written into new manifests.
const ManifestVersion = 1

// MaxOriginIdentifiers bounds the provider-specific identifiers an origin
// may carry.
const MaxOriginIdentifiers = 4

// Kind classifies a model asset for display and aggregation.
type Kind string

const (
	KindCheckpoint Kind = "checkpoint"
	KindLora       Kind = "lora"
	KindVAE        Kind = "vae"
	KindEmbedding  Kind = "embedding"
	KindControlNet Kind = "controlnet"
	KindUpscaler   Kind = "upscaler"
	KindOther      Kind = "other"
	KindUnknown    Kind = "unknown"
)

var kindAliases = map[string]Kind{
	"checkpoint":        KindCheckpoint,
	"model":             KindCheckpoint,
	"lora":              KindLora,
	"lycoris":           KindLora,
	"vae":               KindVAE,
	"embedding":         KindEmbedding,
	"textualinversion":  KindEmbedding,
	"textual_inversion": KindEmbedding,
	"controlnet":        KindControlNet,
	"upscaler":          KindUpscaler,
	"other":             KindOther,
	"unknown":           KindUnknown,
}

// ParseKind maps a free-form kind to the enumeration. Empty input is
// unknown; anything unrecognised is other.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindUnknown
	}
	if kind, ok := kindAliases[s]; ok {
		return kind
	}
	return KindOther
}

// Origin describes where a blob was first obtained from.
type Origin struct {
	Provider    string   `json:"provider"`
	Identifiers []string `json:"identifiers,omitempty"`
}

// Manifest is the write-once side record stored next to blob content. It
// is only consulted when no pack currently references the blob.
type Manifest struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Filename  string    `json:"filename"`
	Kind      Kind      `json:"kind"`
	Origin    *Origin   `json:"origin,omitempty"`
}

func (m *Manifest) validate() error {
	if m.Origin != nil && len(m.Origin.Identifiers) > MaxOriginIdentifiers {
		return fmt.Errorf("manifest origin carries %d identifiers, at most %d are allowed",
			len(m.Origin.Identifiers), MaxOriginIdentifiers)
	}
	return nil
}

var (
	manifestEncMode cbor.EncMode
	manifestDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	manifestEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("blobstore: CBOR encoder initialization failed: " + err.Error())
	}

	manifestDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("blobstore: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeManifest(m *Manifest) ([]byte, error) {
	return manifestEncMode.Marshal(m)
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := manifestDecMode.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
