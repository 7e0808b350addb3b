package license

// Feature names reported to the desktop client on activation and status
// checks. The client enables capabilities based on this list, so names are
// part of the wire contract.
const (
	FeatureVoice        = "voice"
	FeatureMemory       = "memory"
	FeatureSkills       = "skills"
	FeatureScreenAware  = "screen_awareness"
	FeaturePersonaSwap  = "personality_switching"
	FeatureLocalModels  = "local_models"
)

// baseFeatures ship with every valid license.
var baseFeatures = []string{
	FeatureVoice,
	FeatureMemory,
	FeatureSkills,
	FeatureScreenAware,
	FeaturePersonaSwap,
	FeatureLocalModels,
}

// Features returns the feature list for a license. Only active licenses get
// features; everything else gets an empty list so clients degrade cleanly.
func Features(l *License) []string {
	if l.Status != StatusActive {
		return []string{}
	}
	out := make([]string, len(baseFeatures))
	copy(out, baseFeatures)
	return out
}
