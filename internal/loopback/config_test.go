package loopback

import "testing"

func TestLoadConfig_NoFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\"): %v", err)
	}
	want := DefaultConfig()
	if cfg.SampleRate != want.SampleRate || cfg.RingCapacityFrames != want.RingCapacityFrames {
		t.Fatalf("LoadConfig(\"\") = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadConfig_MissingFileIsNotFatal(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/loopback.yaml")
	if err != nil {
		t.Fatalf("LoadConfig with missing file: %v, want nil (falls back to defaults)", err)
	}
}

func TestConfig_ValidateRejectsBadSampleRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = -1
	if err := cfg.validate(); err == nil {
		t.Fatalf("validate() with negative sample rate = nil, want error")
	}
}

func TestConfig_ValidateRejectsInvertedComputationBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RTNominalComputation = cfg.RTMaxComputation * 2
	if err := cfg.validate(); err == nil {
		t.Fatalf("validate() with nominal > max = nil, want error")
	}
}
