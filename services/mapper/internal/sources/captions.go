package sources

import (
	"net/url"
	"path"
	"strings"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

var languages = map[string]string{
	"en": "English", "eng": "English",
	"es": "Spanish", "spa": "Spanish",
	"pt": "Portuguese", "por": "Portuguese",
	"fr": "French", "fre": "French", "fra": "French",
	"de": "German", "ger": "German", "deu": "German",
	"it": "Italian", "ita": "Italian",
	"ru": "Russian", "rus": "Russian",
	"ar": "Arabic", "ara": "Arabic",
	"ja": "Japanese", "jpn": "Japanese",
	"id": "Indonesian", "ind": "Indonesian",
	"ms": "Malay", "may": "Malay", "msa": "Malay",
	"th": "Thai", "tha": "Thai",
	"vi": "Vietnamese", "vie": "Vietnamese",
	"tr": "Turkish", "tur": "Turkish",
	"pl": "Polish", "pol": "Polish",
	"zh": "Chinese", "chi": "Chinese", "zho": "Chinese",
	"ko": "Korean", "kor": "Korean",
	"hi": "Hindi", "hin": "Hindi",
}

// Language names a caption code; unknown codes come back upper-cased.
func Language(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if name, ok := languages[code]; ok {
		return name
	}
	return strings.ToUpper(code)
}

// codeFromURL takes the leading token of the caption file name, e.g. "eng"
// from ".../eng-2.vtt".
func codeFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	code, _, _ := strings.Cut(base, "-")
	code, _, _ = strings.Cut(code, "_")
	return code
}

// LabelSubtitles fills missing labels from the caption file name. Never
// returns nil.
func LabelSubtitles(in []domain.Subtitle) []domain.Subtitle {
	out := make([]domain.Subtitle, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s.Label) == "" {
			s.Label = Language(codeFromURL(s.URL))
		}
		out = append(out, s)
	}
	return out
}
