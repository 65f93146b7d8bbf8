package language

import "strings"

// Codes for the supported languages
const (
	English   = "en-IN"
	Hindi     = "hi-IN"
	Bengali   = "bn-IN"
	Telugu    = "te-IN"
	Marathi   = "mr-IN"
	Tamil     = "ta-IN"
	Gujarati  = "gu-IN"
	Urdu      = "ur-IN"
	Kannada   = "kn-IN"
	Odia      = "or-IN"
	Malayalam = "ml-IN"
	Bhojpuri  = "bho-IN"
)

// Default is the language assumed until detection says otherwise
const Default = English

// Writing directions
const (
	DirLTR = "ltr"
	DirRTL = "rtl"
)

// Info describes one supported language
type Info struct {
	Code       string `json:"code"`        // BCP-47 style code, e.g. "hi-IN"
	ISOCode    string `json:"iso_code"`    // bare language code, e.g. "hi"
	Name       string `json:"name"`        // English name
	NativeName string `json:"native_name"` // self-designation in its own script
	Script     string `json:"script"`
	Direction  string `json:"direction"`
	STTCode    string `json:"stt_code"` // language passed to speech recognition
	TTSLang    string `json:"tts_lang"` // language passed to speech synthesis
	TTSTLD     string `json:"tts_tld"`  // accent-selecting synthesis domain
}

// Bhojpuri has no recognition or synthesis model of its own and borrows
// Hindi for both.
var registry = []Info{
	{English, "en", "English", "English", "latin", DirLTR, "en-IN", "en", "co.in"},
	{Hindi, "hi", "Hindi", "हिन्दी", "devanagari", DirLTR, "hi-IN", "hi", "co.in"},
	{Bengali, "bn", "Bengali", "বাংলা", "bengali", DirLTR, "bn-IN", "bn", "com"},
	{Telugu, "te", "Telugu", "తెలుగు", "telugu", DirLTR, "te-IN", "te", "com"},
	{Marathi, "mr", "Marathi", "मराठी", "devanagari", DirLTR, "mr-IN", "mr", "com"},
	{Tamil, "ta", "Tamil", "தமிழ்", "tamil", DirLTR, "ta-IN", "ta", "com"},
	{Gujarati, "gu", "Gujarati", "ગુજરાતી", "gujarati", DirLTR, "gu-IN", "gu", "com"},
	{Urdu, "ur", "Urdu", "اردو", "arabic", DirRTL, "ur-IN", "ur", "com"},
	{Kannada, "kn", "Kannada", "ಕನ್ನಡ", "kannada", DirLTR, "kn-IN", "kn", "com"},
	{Odia, "or", "Odia", "ଓଡ଼ିଆ", "odia", DirLTR, "or-IN", "or", "com"},
	{Malayalam, "ml", "Malayalam", "മലയാളം", "malayalam", DirLTR, "ml-IN", "ml", "com"},
	{Bhojpuri, "bho", "Bhojpuri", "भोजपुरी", "devanagari", DirLTR, "hi-IN", "hi", "co.in"},
}

var byCode map[string]Info

func init() {
	byCode = make(map[string]Info, len(registry)*2)
	for _, info := range registry {
		byCode[info.Code] = info
		byCode[info.ISOCode] = info
	}
}

// Supported returns all supported languages in a stable order
func Supported() []Info {
	out := make([]Info, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a language by full code ("hi-IN") or bare ISO code ("hi")
func Lookup(code string) (Info, bool) {
	info, ok := byCode[code]
	return info, ok
}

// IsSupported reports whether the code names a supported language
func IsSupported(code string) bool {
	_, ok := byCode[code]
	return ok
}

// STTCode returns the recognition language for a code, falling back to the
// default language when the code is unknown
func STTCode(code string) string {
	info, ok := Lookup(code)
	if !ok {
		info = byCode[Default]
	}
	return info.STTCode
}

// TTSParams returns the synthesis language and accent domain for a code,
// falling back to the default language when the code is unknown
func TTSParams(code string) (lang, tld string) {
	info, ok := Lookup(code)
	if !ok {
		info = byCode[Default]
	}
	return info.TTSLang, info.TTSTLD
}

// ISOCode returns the bare ISO 639 code the recognizer should be hinted
// with. Languages without their own recognition model resolve through
// their recognition language, so Bhojpuri yields "hi".
func ISOCode(code string) string {
	info, ok := Lookup(STTCode(code))
	if !ok {
		info = byCode[Default]
	}
	return info.ISOCode
}

// Markers that tell the three Devanagari languages apart. Bhojpuri is
// checked first, then Marathi; anything else in Devanagari is Hindi.
var (
	bhojpuriMarkers = []string{"बा", "बानी", "बाटे", "करेला", "होखे", "रहल", "जाला", "रउआ", "हमार", "तोहार"}
	marathiMarkers  = []string{"आहे", "आहेत", "चा", "ची", "चे", "मध्ये", "पासून", "ला", "आणि"}
)

// Detect guesses the language of a transcript from its script. Devanagari
// text is narrowed to Bhojpuri, Marathi or Hindi by marker words; text in
// no Indic script is taken as English. Empty text reports no detection.
func Detect(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	var devanagari, bengali, telugu, tamil, gujarati, arabic, kannada, odia, malayalam bool

	for _, r := range text {
		switch {
		case r >= 0x0900 && r <= 0x097F:
			devanagari = true
		case r >= 0x0980 && r <= 0x09FF:
			bengali = true
		case r >= 0x0C00 && r <= 0x0C7F:
			telugu = true
		case r >= 0x0B80 && r <= 0x0BFF:
			tamil = true
		case r >= 0x0A80 && r <= 0x0AFF:
			gujarati = true
		case r >= 0x0600 && r <= 0x06FF:
			arabic = true
		case r >= 0x0C80 && r <= 0x0CFF:
			kannada = true
		case r >= 0x0B00 && r <= 0x0B7F:
			odia = true
		case r >= 0x0D00 && r <= 0x0D7F:
			malayalam = true
		}
	}

	switch {
	case devanagari:
		return classifyDevanagari(text), true
	case bengali:
		return Bengali, true
	case telugu:
		return Telugu, true
	case tamil:
		return Tamil, true
	case gujarati:
		return Gujarati, true
	case arabic:
		return Urdu, true
	case kannada:
		return Kannada, true
	case odia:
		return Odia, true
	case malayalam:
		return Malayalam, true
	}

	return English, true
}

func classifyDevanagari(text string) string {
	for _, marker := range bhojpuriMarkers {
		if strings.Contains(text, marker) {
			return Bhojpuri
		}
	}
	for _, marker := range marathiMarkers {
		if strings.Contains(text, marker) {
			return Marathi
		}
	}
	return Hindi
}
