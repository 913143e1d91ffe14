package fallback

import (
	"fmt"
	"strings"
)

// ModelSize is a Whisper model name.
type ModelSize string

const (
	ModelTiny   ModelSize = "tiny"
	ModelBase   ModelSize = "base"
	ModelSmall  ModelSize = "small"
	ModelMedium ModelSize = "medium"
	ModelLarge  ModelSize = "large"
)

var modelSizes = []ModelSize{ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge}

// ParseModelSize accepts the plain sizes and the English-only ".en" variants
// of tiny through medium.
func ParseModelSize(s string) (ModelSize, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return ModelBase, nil
	}

	base, englishOnly := strings.CutSuffix(v, ".en")
	for _, m := range modelSizes {
		if string(m) != base {
			continue
		}
		if englishOnly && m == ModelLarge {
			break
		}
		return ModelSize(v), nil
	}
	return "", fmt.Errorf("unknown whisper model size %q", s)
}

// SourceLabel is the name used for this model in logs and metrics.
func (m ModelSize) SourceLabel() string {
	return "whisper_" + string(m)
}
