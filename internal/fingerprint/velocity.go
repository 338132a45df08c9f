package fingerprint

// VelocityClass categorizes a session by its characters-per-second rate.
type VelocityClass int

const (
	VelocityHuman        VelocityClass = iota // Normal human typing (< 12 chars/sec)
	VelocityFastTypist                        // Fast typist (12-25 chars/sec)
	VelocityDictation                         // Voice dictation (25-50 chars/sec)
	VelocityAutocomplete                      // Completion engines (50-200 chars/sec)
	VelocityPaste                             // Paste or synthetic (> 200 chars/sec)
)

func (v VelocityClass) String() string {
	switch v {
	case VelocityHuman:
		return "human"
	case VelocityFastTypist:
		return "fast_typist"
	case VelocityDictation:
		return "dictation"
	case VelocityAutocomplete:
		return "autocomplete"
	case VelocityPaste:
		return "paste"
	default:
		return "unknown"
	}
}

// Tag returns the edit-pattern tag for the class.
func (v VelocityClass) Tag() string {
	return "velocity:" + v.String()
}

// VelocityBands holds the upper bound, in chars/sec, of each class below paste.
type VelocityBands struct {
	HumanMax        float64
	FastTypistMax   float64
	DictationMax    float64
	AutocompleteMax float64
}

// DefaultVelocityBands returns empirically-derived thresholds.
func DefaultVelocityBands() VelocityBands {
	return VelocityBands{
		HumanMax:        12.0,  // ~70 WPM sustained
		FastTypistMax:   25.0,  // ~150 WPM
		DictationMax:    50.0,
		AutocompleteMax: 200.0,
	}
}

// Classify maps a velocity to its class.
func (b VelocityBands) Classify(velocity float64) VelocityClass {
	switch {
	case velocity < b.HumanMax:
		return VelocityHuman
	case velocity < b.FastTypistMax:
		return VelocityFastTypist
	case velocity < b.DictationMax:
		return VelocityDictation
	case velocity < b.AutocompleteMax:
		return VelocityAutocomplete
	default:
		return VelocityPaste
	}
}

// VelocityTagger tags a fingerprint with its velocity class.
func VelocityTagger(bands VelocityBands) Tagger {
	return func(fp *Fingerprint) []string {
		return []string{bands.Classify(fp.Velocity).Tag()}
	}
}
