package protocol

import "testing"

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"Labor", CategoryLabor},
		{"Derecho Laboral", CategoryLabor},
		{"derecho de transito", CategoryTraffic},
		{"Derecho de Tránsito", CategoryTraffic},
		{"familia", CategoryFamily},
		{"REALESTATE", CategoryRealEstate},
		{"Inmobiliario", CategoryRealEstate},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if err != nil {
			t.Errorf("ParseCategory(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "Derecho Espacial", "tax"} {
		if _, err := ParseCategory(bad); err == nil {
			t.Errorf("ParseCategory(%q): expected error", bad)
		}
	}
}

func TestCategoryCode(t *testing.T) {
	want := map[Category]string{
		CategoryLabor:      "LAB",
		CategoryCriminal:   "PEN",
		CategoryFamily:     "FAM",
		CategoryCivil:      "CIV",
		CategoryCommercial: "COM",
		CategoryTraffic:    "TRA",
		CategoryRealEstate: "INM",
	}
	for _, c := range Categories() {
		if c.Code() != want[c] {
			t.Errorf("%s.Code() = %q, want %q", c, c.Code(), want[c])
		}
	}
	if Category("Space").Code() != "GEN" {
		t.Error("unknown category should map to GEN")
	}
}

func TestParseUrgency(t *testing.T) {
	for in, want := range map[string]Urgency{
		"ALTA": UrgencyHigh, "high": UrgencyHigh,
		"Media": UrgencyMedium, "MEDIUM": UrgencyMedium,
		"baja": UrgencyLow, "LOW": UrgencyLow,
	} {
		got, err := ParseUrgency(in)
		if err != nil || got != want {
			t.Errorf("ParseUrgency(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseUrgency("urgent"); err == nil {
		t.Error("expected error for unknown urgency")
	}
}

func TestClassificationValidate(t *testing.T) {
	ok := Classification{Category: CategoryLabor, Urgency: UrgencyHigh, Title: "Despido"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]Classification{
		"no category":  {Urgency: UrgencyHigh, Title: "x"},
		"bad category": {Category: "Space", Urgency: UrgencyHigh, Title: "x"},
		"no urgency":   {Category: CategoryLabor, Title: "x"},
		"bad urgency":  {Category: CategoryLabor, Urgency: "SOON", Title: "x"},
		"blank title":  {Category: CategoryLabor, Urgency: UrgencyLow, Title: "  "},
	}
	for name, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestInboundMessageAddress(t *testing.T) {
	m := InboundMessage{Channel: "whatsapp", Sender: "573001234567"}
	if m.Address() != "whatsapp:573001234567" {
		t.Errorf("Address() = %q", m.Address())
	}
	if m.HasAudio() {
		t.Error("HasAudio() should be false without audio")
	}
}
