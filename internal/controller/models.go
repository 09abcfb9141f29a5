package controller

// knownModels mirrors the catalog the runner ships. Names are validated
// host-side so a typo fails fast instead of round-tripping to the runner.
var knownModels = map[string]string{
	"tiny":      "~39 MB",
	"tiny.en":   "~39 MB",
	"base":      "~74 MB",
	"base.en":   "~74 MB",
	"small":     "~244 MB",
	"small.en":  "~244 MB",
	"medium":    "~769 MB",
	"medium.en": "~769 MB",
	"large":     "~1550 MB",
	"large-v1":  "~1550 MB",
	"large-v2":  "~1550 MB",
	"large-v3":  "~1550 MB",
}

// IsKnownModel reports whether name is a model the runner can load.
func IsKnownModel(name string) bool {
	_, ok := knownModels[name]
	return ok
}

// KnownModels returns the model catalog with approximate download sizes.
func KnownModels() map[string]string {
	out := make(map[string]string, len(knownModels))
	for k, v := range knownModels {
		out[k] = v
	}
	return out
}
