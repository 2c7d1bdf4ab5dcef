package stage

import (
	"errors"
	"testing"
)

func TestStageByName(t *testing.T) {
	spec, err := StageByName("ZFM2020")
	if err != nil {
		t.Fatalf("StageByName: %v", err)
	}
	if spec.TravelLimitUM != 12700 {
		t.Errorf("TravelLimitUM = %f, want 12700", spec.TravelLimitUM)
	}
	if spec.ConversionUMPerCount != 0.2116667 {
		t.Errorf("ConversionUMPerCount = %f, want 0.2116667", spec.ConversionUMPerCount)
	}
}

func TestStageByName_Unknown(t *testing.T) {
	_, err := StageByName("ZFM9999")
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("got %v, want ErrConfiguration", err)
	}
}

func TestSupportedStages(t *testing.T) {
	names := SupportedStages()
	if len(names) == 0 {
		t.Fatal("no supported stages registered")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}
