package language

import (
	"strings"
	"testing"
)

func TestSupported(t *testing.T) {
	languages := Supported()

	if len(languages) != 12 {
		t.Fatalf("Expected 12 supported languages, got %d", len(languages))
	}

	seen := make(map[string]bool)
	for _, info := range languages {
		if seen[info.Code] {
			t.Errorf("Duplicate language code %s", info.Code)
		}
		seen[info.Code] = true

		if info.Name == "" || info.NativeName == "" {
			t.Errorf("Language %s missing names", info.Code)
		}
		if info.STTCode == "" || info.TTSLang == "" || info.TTSTLD == "" {
			t.Errorf("Language %s missing speech parameters", info.Code)
		}
	}

	if !seen[Default] {
		t.Errorf("Default language %s not in registry", Default)
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		code     string
		expected string
		found    bool
	}{
		{"hi-IN", Hindi, true},
		{"hi", Hindi, true},
		{"bho-IN", Bhojpuri, true},
		{"bho", Bhojpuri, true},
		{"en-IN", English, true},
		{"fr-FR", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		info, ok := Lookup(tt.code)
		if ok != tt.found {
			t.Errorf("Lookup(%q): expected found=%v, got %v", tt.code, tt.found, ok)
			continue
		}
		if ok && info.Code != tt.expected {
			t.Errorf("Lookup(%q): expected %s, got %s", tt.code, tt.expected, info.Code)
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"hindi", "आपका बिजली बिल तैयार है", Hindi},
		{"bhojpuri markers", "रउआ के का हाल बा", Bhojpuri},
		{"marathi markers", "वीज बिल तयार आहे", Marathi},
		{"bengali", "বিদ্যুৎ বিল", Bengali},
		{"telugu", "కరెంటు బిల్లు", Telugu},
		{"tamil", "மின்சாரம் கட்டணம்", Tamil},
		{"gujarati", "વીજળી બિલ", Gujarati},
		{"urdu", "بجلی کا بل", Urdu},
		{"kannada", "ವಿದ್ಯುತ್ ಬಿಲ್", Kannada},
		{"odia", "ବିଦ୍ୟୁତ ବିଲ", Odia},
		{"malayalam", "വൈദ്യുതി ബിൽ", Malayalam},
		{"english", "power outage in sector 62", English},
		{"numbers only", "000054321", English},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := Detect(tt.text)
			if !ok {
				t.Fatal("Expected detection, got none")
			}
			if code != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, code)
			}
		})
	}
}

func TestDetectEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		if code, ok := Detect(text); ok {
			t.Errorf("Detect(%q): expected no detection, got %s", text, code)
		}
	}
}

func TestSTTCode(t *testing.T) {
	tests := []struct {
		code     string
		expected string
	}{
		{Hindi, "hi-IN"},
		{Bhojpuri, "hi-IN"}, // Bhojpuri borrows the Hindi model
		{Tamil, "ta-IN"},
		{English, "en-IN"},
		{"xx-XX", "en-IN"}, // unknown falls back to the default
	}

	for _, tt := range tests {
		if got := STTCode(tt.code); got != tt.expected {
			t.Errorf("STTCode(%q): expected %s, got %s", tt.code, tt.expected, got)
		}
	}
}

func TestISOCode(t *testing.T) {
	tests := []struct {
		code     string
		expected string
	}{
		{Hindi, "hi"},
		{Bhojpuri, "hi"}, // resolves through the recognition language
		{Bengali, "bn"},
		{Malayalam, "ml"},
		{English, "en"},
		{"xx-XX", "en"},
	}

	for _, tt := range tests {
		if got := ISOCode(tt.code); got != tt.expected {
			t.Errorf("ISOCode(%q): expected %s, got %s", tt.code, tt.expected, got)
		}
	}
}

func TestTTSParams(t *testing.T) {
	tests := []struct {
		code         string
		expectedLang string
		expectedTLD  string
	}{
		{English, "en", "co.in"},
		{Hindi, "hi", "co.in"},
		{Bhojpuri, "hi", "co.in"},
		{Bengali, "bn", "com"},
		{Urdu, "ur", "com"},
		{"xx-XX", "en", "co.in"},
	}

	for _, tt := range tests {
		lang, tld := TTSParams(tt.code)
		if lang != tt.expectedLang || tld != tt.expectedTLD {
			t.Errorf("TTSParams(%q): expected (%s, %s), got (%s, %s)",
				tt.code, tt.expectedLang, tt.expectedTLD, lang, tld)
		}
	}
}

func TestGreeting(t *testing.T) {
	for _, info := range Supported() {
		greeting := Greeting(info.Code)
		if greeting == "" {
			t.Errorf("Empty greeting for %s", info.Code)
		}
	}

	// Unknown codes fall back to the default greeting
	if got := Greeting("xx-XX"); got != Greeting(Default) {
		t.Errorf("Expected default greeting for unknown code, got %q", got)
	}

	// Bare ISO codes resolve through the registry
	if got := Greeting("hi"); got != Greeting(Hindi) {
		t.Errorf("Expected Hindi greeting for bare code, got %q", got)
	}
}

func TestNoInputPrompt(t *testing.T) {
	for _, info := range Supported() {
		if NoInputPrompt(info.Code) == "" {
			t.Errorf("Empty reprompt for %s", info.Code)
		}
	}

	if got := NoInputPrompt(Hindi); got == NoInputPrompt(English) {
		t.Errorf("Expected a localized Hindi reprompt, got %q", got)
	}

	// Languages without a localized line fall back to English
	if got := NoInputPrompt(Tamil); got != NoInputPrompt(English) {
		t.Errorf("Expected the English reprompt for Tamil, got %q", got)
	}
	if got := NoInputPrompt("xx-XX"); got != NoInputPrompt(English) {
		t.Errorf("Expected the English reprompt for unknown code, got %q", got)
	}
}

func TestGoodbye(t *testing.T) {
	english := Goodbye(English)
	if !strings.Contains(english, "NPCL") {
		t.Error("English farewell missing NPCL")
	}

	if got := Goodbye(Hindi); got == english {
		t.Errorf("Expected a localized Hindi farewell, got %q", got)
	}

	// Bare ISO codes resolve through the registry
	if got := Goodbye("bho"); got != Goodbye(Bhojpuri) {
		t.Errorf("Expected Bhojpuri farewell for bare code, got %q", got)
	}

	if got := Goodbye(Telugu); got != english {
		t.Errorf("Expected the English farewell for Telugu, got %q", got)
	}
}

func TestSystemPrompt(t *testing.T) {
	english := SystemPrompt(English)
	if !strings.Contains(english, "NPCL") {
		t.Error("English prompt missing NPCL persona")
	}

	hindi := SystemPrompt(Hindi)
	if hindi == english {
		t.Error("Hindi prompt should be localized")
	}

	// Languages without a localized instruction get a response-language
	// directive appended to the English one
	tamil := SystemPrompt(Tamil)
	if !strings.Contains(tamil, "Always respond in") || !strings.Contains(tamil, "தமிழ்") {
		t.Error("Tamil prompt missing response-language directive")
	}

	if got := SystemPrompt("xx-XX"); got != english {
		t.Error("Unknown code should fall back to the English prompt")
	}
}
