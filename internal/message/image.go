package message

import "strings"

// Tools return strings, so image-producing tools smuggle their payload
// through a sentinel the loop recognizes and lifts into an ImageBlock:
//
//	__IMAGE_DATA__:<media-type>:base64,<data>
const imageSentinelPrefix = "__IMAGE_DATA__:"

// FormatImageSentinel encodes an image payload for transport through the
// string-only tool result channel.
func FormatImageSentinel(mediaType, base64Data string) string {
	return imageSentinelPrefix + mediaType + ":base64," + base64Data
}

// ParseImageSentinel decodes a sentinel produced by FormatImageSentinel.
// Returns false for anything else, including malformed sentinels.
func ParseImageSentinel(s string) (ImageBlock, bool) {
	rest, ok := strings.CutPrefix(s, imageSentinelPrefix)
	if !ok {
		return ImageBlock{}, false
	}
	mediaType, data, ok := strings.Cut(rest, ":base64,")
	if !ok || mediaType == "" || !strings.Contains(mediaType, "/") || data == "" {
		return ImageBlock{}, false
	}
	return ImageBlock{MediaType: mediaType, Data: data}, true
}

// IsImageSentinel reports whether s carries an image payload.
func IsImageSentinel(s string) bool {
	_, ok := ParseImageSentinel(s)
	return ok
}
