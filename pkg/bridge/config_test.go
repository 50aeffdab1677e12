package bridge

import "testing"

func sampleLabels() []string {
	return []string{"nSeq", "I1", "I2", "O1", "O2", "A1", "A2", "A3", "A4", "A5", "A6"}
}

func TestResolveDecrementsChannelsAndSubsetsLabels(t *testing.T) {
	cfg := Config{
		Device:       "/dev/ttyACM0",
		SamplingRate: 100,
		Channels:     []int{4, 2}, // 1-indexed -> 0-indexed {3, 1}
		Labels:       sampleLabels(),
		Port:         8080,
	}
	r, err := cfg.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantChannels := []int{3, 1}
	if len(r.channels) != len(wantChannels) {
		t.Fatalf("channels = %v, want %v", r.channels, wantChannels)
	}
	for i := range wantChannels {
		if r.channels[i] != wantChannels[i] {
			t.Errorf("channels[%d] = %d, want %d", i, r.channels[i], wantChannels[i])
		}
	}
	// Sorted canonical order of {3,1} is {1,3} -> A2, A4.
	wantLabels := []string{"nSeq", "I1", "I2", "O1", "O2", "A2", "A4"}
	if len(r.labels) != len(wantLabels) {
		t.Fatalf("labels = %v, want %v", r.labels, wantLabels)
	}
	for i := range wantLabels {
		if r.labels[i] != wantLabels[i] {
			t.Errorf("labels[%d] = %q, want %q", i, r.labels[i], wantLabels[i])
		}
	}
}

func TestResolveRejectsInvalidDevice(t *testing.T) {
	cfg := Config{Device: "not-an-address", Channels: []int{1}, Labels: sampleLabels()}
	if _, err := cfg.resolve(); err == nil {
		t.Errorf("expected an error for an invalid device address")
	}
}

func TestResolveRejectsWrongLabelCount(t *testing.T) {
	cfg := Config{Device: "/dev/ttyACM0", Channels: []int{1}, Labels: []string{"nSeq"}}
	if _, err := cfg.resolve(); err == nil {
		t.Errorf("expected an error for a short labels list")
	}
}

func TestResolveRejectsEmptyChannels(t *testing.T) {
	cfg := Config{Device: "/dev/ttyACM0", Labels: sampleLabels()}
	if _, err := cfg.resolve(); err == nil {
		t.Errorf("expected an error for an empty channel list")
	}
}
