package naming

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultBase is used when a suggested name sanitizes to nothing
const DefaultBase = "file"

// DefaultExtension is used when neither content type nor URL give one
const DefaultExtension = ".jpg"

// MaxNameLength caps the length of a sanitized base name in bytes
const MaxNameLength = 120

// imageTypes maps recognised image MIME types to their extension
var imageTypes = map[string]string{
	"image/jpeg":               ".jpg",
	"image/jpg":                ".jpg",
	"image/pjpeg":              ".jpg",
	"image/png":                ".png",
	"image/apng":               ".png",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/avif":               ".avif",
	"image/bmp":                ".bmp",
	"image/x-ms-bmp":           ".bmp",
	"image/svg+xml":            ".svg",
	"image/tiff":               ".tiff",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
	"image/heic":               ".heic",
	"image/heif":               ".heif",
	"image/jxl":                ".jxl",
}

// knownExtensions are treated as already present on a name
var knownExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".avif": true, ".bmp": true, ".svg": true, ".tif": true, ".tiff": true,
	".ico": true, ".heic": true, ".heif": true, ".jxl": true,
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Sanitize replaces characters that are unsafe in file names, collapses
// whitespace and trims dots and spaces. An empty result becomes DefaultBase.
func Sanitize(name string) string {
	name = strings.ToValidUTF8(name, "_")
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	name = whitespace.ReplaceAllString(name, " ")
	name = strings.Trim(name, ". ")

	if len(name) > MaxNameLength {
		name = truncate(name, MaxNameLength)
		name = strings.TrimRight(name, ". ")
	}
	if name == "" {
		return DefaultBase
	}
	return name
}

// truncate cuts s to at most n bytes, keeping the extension when it has one
// and never splitting a rune.
func truncate(s string, n int) string {
	ext := path.Ext(s)
	if !knownExtensions[strings.ToLower(ext)] {
		ext = ""
	}
	base := strings.TrimSuffix(s, ext)
	limit := n - len(ext)
	for len(base) > limit {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}
	return base + ext
}

// HasExtension reports whether name ends in a recognised image extension
func HasExtension(name string) bool {
	return knownExtensions[strings.ToLower(path.Ext(name))]
}

// ExtensionFor picks an extension from the content type, then the URL path,
// then DefaultExtension.
func ExtensionFor(contentType, rawURL string) string {
	if ext := ExtensionForContentType(contentType); ext != "" {
		return ext
	}
	if ext := extensionFromURL(rawURL); ext != "" {
		return ext
	}
	return DefaultExtension
}

// ExtensionForContentType returns the extension for a recognised image MIME
// type, or "".
func ExtensionForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return imageTypes[strings.ToLower(mediaType)]
}

func extensionFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == ".jpeg" {
		return ".jpg"
	}
	if knownExtensions[ext] {
		return ext
	}
	return ""
}

// BaseFromURL returns the last path segment of rawURL without extension, or
// "" when there is none.
func BaseFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	seg := path.Base(u.Path)
	if seg == "/" || seg == "." {
		return ""
	}
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	return strings.TrimSuffix(seg, path.Ext(seg))
}

// IsGeneric reports whether contentType says nothing useful about an image
func IsGeneric(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	switch strings.ToLower(mediaType) {
	case "", "application/octet-stream", "binary/octet-stream", "application/unknown", "text/plain":
		return true
	}
	return false
}

// Sniff returns contentType, or the type detected from data when contentType
// is missing or generic.
func Sniff(contentType string, data []byte) string {
	if !IsGeneric(contentType) {
		return contentType
	}
	if len(data) == 0 {
		return contentType
	}
	detected := mimetype.Detect(data)
	if detected.Is("application/octet-stream") {
		return contentType
	}
	return detected.String()
}

// Registry hands out names that are unique within one archive, compared
// case-insensitively. It is not safe for concurrent use.
type Registry struct {
	used map[string]bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{used: make(map[string]bool)}
}

// Resolve sanitizes suggested, adds an extension when missing and appends
// _2, _3, ... before the extension until the name is unused. The result is
// registered before it is returned.
func (r *Registry) Resolve(suggested, contentType, rawURL string) string {
	name := Sanitize(suggested)
	if !HasExtension(name) {
		name = truncate(name+ExtensionFor(contentType, rawURL), MaxNameLength)
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := name
	for n := 2; r.used[strings.ToLower(candidate)]; n++ {
		suffix := "_" + strconv.Itoa(n)
		candidate = truncate(base, MaxNameLength-len(suffix)-len(ext)) + suffix + ext
	}

	r.used[strings.ToLower(candidate)] = true
	return candidate
}

// Reserve registers name as used without resolving it
func (r *Registry) Reserve(name string) {
	r.used[strings.ToLower(name)] = true
}

// Taken reports whether name is already registered
func (r *Registry) Taken(name string) bool {
	return r.used[strings.ToLower(name)]
}

// Len returns the number of registered names
func (r *Registry) Len() int {
	return len(r.used)
}
