package domain

import "strings"

// Track is the audio category of a server listing.
type Track string

const (
	TrackSub Track = "sub"
	TrackDub Track = "dub"
	TrackRaw Track = "raw"
)

// TrackPreference is the fallback order when a requested track is absent.
var TrackPreference = []Track{TrackSub, TrackDub, TrackRaw}

// ParseTrack maps user input to a Track; unknown values yield "".
func ParseTrack(s string) Track {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sub", "softsub", "hardsub", "jpn", "ja":
		return TrackSub
	case "dub", "eng", "en":
		return TrackDub
	case "raw":
		return TrackRaw
	}
	return ""
}

// Server is one playback server for an episode.
type Server struct {
	ID    string `json:"serverId"`
	Name  string `json:"serverName"`
	Track Track  `json:"category"`
	// Quality is set by catalogs that expose one server per resolution.
	Quality string `json:"quality,omitempty"`
}

// Embed is the resolved player page for a server.
type Embed struct {
	URL     string            `json:"url"`
	Referer string            `json:"referer,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Variants carries sibling embeds for the same episode, e.g. one per
	// resolution.
	Variants []Variant `json:"variants,omitempty"`
}

// Subtitle is a caption track.
type Subtitle struct {
	URL   string `json:"url"`
	Label string `json:"lang"`
}

// Variant is an alternative source of the same episode.
type Variant struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"`
	Track   Track  `json:"category,omitempty"`
	Referer string `json:"referer,omitempty"`
}

// StreamDescriptor is the terminal artifact of source resolution.
type StreamDescriptor struct {
	SourceURL   string            `json:"url"`
	IsSegmented bool              `json:"isM3U8"`
	Headers     map[string]string `json:"headers,omitempty"`
	Subtitles   []Subtitle        `json:"subtitles"`
	Server      string            `json:"server,omitempty"`
	Track       Track             `json:"category,omitempty"`
	Embed       string            `json:"embed,omitempty"`
	Variants    []Variant         `json:"variants,omitempty"`
	ProxyURL    string            `json:"proxyUrl,omitempty"`
}
