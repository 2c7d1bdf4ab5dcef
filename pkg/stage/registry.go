package stage

import (
	"fmt"
	"sort"
)

// StageSpec describes a supported stage model. TravelLimitUM is symmetric:
// legal positions span -TravelLimitUM to +TravelLimitUM around the encoder
// zero. ConversionUMPerCount converts encoder counts to micrometers.
type StageSpec struct {
	Name                 string
	TravelLimitUM        float64
	ConversionUMPerCount float64
}

// Values from the MCM3000 direct serial communication documentation.
var supportedStages = map[string]StageSpec{
	"ZFM2020": {Name: "ZFM2020", TravelLimitUM: 12700, ConversionUMPerCount: 0.2116667},
	"ZFM2030": {Name: "ZFM2030", TravelLimitUM: 12700, ConversionUMPerCount: 0.2116667},
}

// StageByName looks up a stage model in the registry.
func StageByName(name string) (StageSpec, error) {
	spec, ok := supportedStages[name]
	if !ok {
		return StageSpec{}, fmt.Errorf("%w: unsupported stage %q", ErrConfiguration, name)
	}
	return spec, nil
}

// SupportedStages returns the names of all registered stage models, sorted.
func SupportedStages() []string {
	names := make([]string, 0, len(supportedStages))
	for name := range supportedStages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
