package storage

import (
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UniqueKey builds a collision resistant key under prefix: a millisecond
// timestamp plus a random suffix, e.g. "outputs/1718000000000-3f9a1c2b.webp".
func UniqueKey(prefix, ext string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	name := fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
	if ext = strings.TrimPrefix(strings.TrimSpace(ext), "."); ext != "" {
		name += "." + ext
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// ExtensionFor maps a content type to a file extension without the dot.
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "application/json":
		return "json"
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" && !strings.ContainsAny(sub, "+.;") {
		return sub
	}
	return "bin"
}
