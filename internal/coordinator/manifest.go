package coordinator

import (
	"net/url"
	"strings"
)

// PlaylistContentType is the HLS manifest MIME type.
const PlaylistContentType = "application/vnd.apple.mpegurl"

const (
	streamInfPrefix       = "#EXT-X-STREAM-INF:"
	iFrameStreamInfPrefix = "#EXT-X-I-FRAME-STREAM-INF:"
)

// lineKind classifies one playlist line.
type lineKind int

const (
	lineBlank   lineKind = iota
	lineComment          // "#" line that is not a tag; passed through verbatim
	lineTag              // "#EXT" tag, possibly carrying a URI="..." attribute
	lineURI              // bare segment or sub-playlist reference
)

// classifyLine maps a raw playlist line to its kind. Classification looks at
// the trimmed content; callers keep the raw line for output.
func classifyLine(raw string) lineKind {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return lineBlank
	case strings.HasPrefix(trimmed, "#EXT"):
		return lineTag
	case strings.HasPrefix(trimmed, "#"):
		return lineComment
	default:
		return lineURI
	}
}

// RewriteOptions controls manifest rewriting.
type RewriteOptions struct {
	// ProxyURL builds the same-origin proxy URL a nested playlist reference
	// is replaced with, so the nested playlist is rewritten on fetch too.
	ProxyURL func(absolute string) string

	// CDNHost, when non-empty, replaces the host component of direct segment
	// URLs. Scheme, path, and query are untouched.
	CDNHost string

	// StripHEVC drops HEVC variants before any URL rewriting.
	StripHEVC bool
}

// RewriteManifest rewrites playlist text fetched from base. Every URI is
// resolved to an absolute URL; nested playlists are routed through the proxy
// while plain media segments stay direct so segment bandwidth never crosses
// the coordinator tier. Blank lines and non-tag comments pass through
// verbatim.
func RewriteManifest(manifest string, base *url.URL, opts RewriteOptions) string {
	if opts.StripHEVC {
		manifest = FilterHEVC(manifest)
	}

	lines := strings.Split(manifest, "\n")
	for i, raw := range lines {
		switch classifyLine(raw) {
		case lineBlank, lineComment:
			// verbatim
		case lineTag:
			lines[i] = rewriteTagURI(raw, base, opts)
		case lineURI:
			lines[i] = rewriteURILine(strings.TrimSpace(raw), base, opts)
		}
	}
	return strings.Join(lines, "\n")
}

// FilterHEVC drops every variant whose CODECS attribute carries an HEVC
// codec, along with the paired URI line for #EXT-X-STREAM-INF entries.
// Surviving variants keep their relative order. If filtering would remove
// every variant, the input is returned unchanged so playback never breaks
// on an all-HEVC manifest.
func FilterHEVC(manifest string) string {
	lines := strings.Split(manifest, "\n")

	out := make([]string, 0, len(lines))
	variantsTotal, variantsKept := 0, 0

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		if strings.HasPrefix(trimmed, streamInfPrefix) {
			variantsTotal++
			hevc := hasHEVCCodec(trimmed)
			if !hevc {
				variantsKept++
				out = append(out, lines[i])
			}
			// A variant header is paired 1:1 with the URI line that follows;
			// they are kept or dropped together.
			if i+1 < len(lines) && classifyLine(lines[i+1]) == lineURI {
				i++
				if !hevc {
					out = append(out, lines[i])
				}
			}
			continue
		}

		if strings.HasPrefix(trimmed, iFrameStreamInfPrefix) && hasHEVCCodec(trimmed) {
			continue
		}

		out = append(out, lines[i])
	}

	if variantsTotal > 0 && variantsKept == 0 {
		return manifest
	}
	return strings.Join(out, "\n")
}

// hasHEVCCodec reports whether a variant tag's CODECS attribute contains an
// HEVC codec token (hvc1 or hev1 family).
func hasHEVCCodec(tag string) bool {
	codecs, ok := tagAttrValue(tag, "CODECS")
	if !ok {
		return false
	}
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		if strings.HasPrefix(c, "hvc1") || strings.HasPrefix(c, "hev1") {
			return true
		}
	}
	return false
}

// rewriteURILine handles a bare URI line: absolute resolution, proxying for
// nested playlists, optional CDN host substitution for segments.
func rewriteURILine(line string, base *url.URL, opts RewriteOptions) string {
	abs, ok := resolveAgainst(base, line)
	if !ok {
		return line
	}
	if isPlaylistURL(abs) && opts.ProxyURL != nil {
		return opts.ProxyURL(abs)
	}
	return swapCDNHost(abs, opts.CDNHost)
}

// rewriteTagURI rewrites the URI="..." attribute of a tag line, if any.
// Nested playlists (alternate media, sub-playlists) are proxied; other
// references (init-segment maps, keys) become absolute URLs.
func rewriteTagURI(line string, base *url.URL, opts RewriteOptions) string {
	value, start, end, ok := uriAttr(line)
	if !ok {
		return line
	}
	abs, resolved := resolveAgainst(base, value)
	if !resolved {
		return line
	}
	replacement := abs
	if isPlaylistURL(abs) && opts.ProxyURL != nil {
		replacement = opts.ProxyURL(abs)
	}
	return line[:start] + replacement + line[end:]
}

// uriAttr locates the value of a URI="..." attribute and its bounds within
// the line.
func uriAttr(line string) (value string, start, end int, ok bool) {
	const marker = `URI="`
	i := strings.Index(line, marker)
	if i < 0 {
		return "", 0, 0, false
	}
	start = i + len(marker)
	j := strings.Index(line[start:], `"`)
	if j < 0 {
		return "", 0, 0, false
	}
	end = start + j
	return line[start:end], start, end, true
}

// tagAttrValue extracts a quoted attribute value (e.g. CODECS) from a tag
// line.
func tagAttrValue(line, name string) (string, bool) {
	marker := name + `="`
	i := strings.Index(line, marker)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// resolveAgainst resolves ref to an absolute URL against base.
func resolveAgainst(base *url.URL, ref string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	return base.ResolveReference(u).String(), true
}

// isPlaylistURL reports whether an absolute URL points at a nested playlist.
func isPlaylistURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.HasSuffix(raw, ".m3u8")
	}
	return strings.HasSuffix(u.Path, ".m3u8")
}

// swapCDNHost replaces only the host component of a segment URL per the CDN
// hint; path and query are preserved.
func swapCDNHost(raw, host string) string {
	if host == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = host
	return u.String()
}

// looksLikeManifest reports whether an upstream response should be treated
// as playlist text, from its Content-Type, final URL, or leading bytes.
func looksLikeManifest(contentType string, finalURL *url.URL, head []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	if finalURL != nil && strings.HasSuffix(finalURL.Path, ".m3u8") {
		return true
	}
	return strings.HasPrefix(strings.TrimLeft(string(head), " \t\r\n"), "#EXTM3U")
}
