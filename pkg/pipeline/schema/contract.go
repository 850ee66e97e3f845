package schema

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/shpitdev/vocab-enricher/pkg/record"
)

// Mode controls how a contract is enforced on enrichment responses.
type Mode string

const (
	// ModeLenient accepts any JSON object.
	ModeLenient Mode = "lenient"
	// ModeStrict requires every contract field to be present and non-empty.
	ModeStrict Mode = "strict"
)

// Contract lists the fields an enrichment response is expected to carry.
type Contract struct {
	Mode     Mode
	Required []string
}

func NormalizeMode(raw string) Mode {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "strict", "validate", "true", "1":
		return ModeStrict
	default:
		return ModeLenient
	}
}

// Missing returns the required fields absent from rec or holding an empty value
// (null, "", [] or {}), in contract order. Lenient contracts report nothing.
func (c Contract) Missing(rec record.Record) []string {
	if c.Mode != ModeStrict {
		return nil
	}
	var missing []string
	for _, name := range c.Required {
		raw, ok := rec.Get(name)
		if !ok || isEmpty(gjson.ParseBytes(raw)) {
			missing = append(missing, name)
		}
	}
	return missing
}

func isEmpty(v gjson.Result) bool {
	switch {
	case v.Type == gjson.Null:
		return true
	case v.Type == gjson.String:
		return strings.TrimSpace(v.Str) == ""
	case v.IsArray(), v.IsObject():
		empty := true
		v.ForEach(func(_, _ gjson.Result) bool {
			empty = false
			return false
		})
		return empty
	default:
		return false
	}
}
