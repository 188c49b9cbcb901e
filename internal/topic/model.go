// Package topic implements the catalog core: Topic documents with ordered
// image lists, the upload coordinator that keeps image metadata consistent
// with blob storage, and the reorder coordinator.
package topic

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/topicdeck/topicdeck/internal/docstore"
)

const (
	// Collection is the document-store collection holding Topic documents.
	Collection = "topics"

	// MaxImages is the hard capacity limit on a topic's image list.
	MaxImages = 10

	// MaxImageSize is the largest accepted upload, in bytes.
	MaxImageSize = 10 << 20
)

// topicTimeFormat matches the millisecond-precision UTC format stored in
// document timestamp fields.
const topicTimeFormat = "2006-01-02T15:04:05.000Z"

// allowedMIME maps each accepted image MIME type to its canonical file
// extension.
var allowedMIME = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Titles holds the per-language captions of an image. All three keys are
// always present in the stored document, defaulting to empty strings.
type Titles struct {
	EN string `json:"en"`
	CS string `json:"cs"`
	ES string `json:"es"`
}

// ImageMeta describes one uploaded image embedded in a Topic document.
// Width and Height are optional pixel dimensions; nil means unrecorded, and
// the mapping must preserve them through whole-list rewrites.
type ImageMeta struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	URL       string `json:"url"`
	Titles    Titles `json:"titles"`
	MIME      string `json:"mime"`
	Size      int64  `json:"size"`
	Width     *int64 `json:"width,omitempty"`
	Height    *int64 `json:"height,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// Topic is the structured catalog record. Images are embedded, not
// referenced: any image-list mutation is a whole-document write.
type Topic struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Images      []ImageMeta `json:"images"`
	Active      bool        `json:"active"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
}

// File is an upload candidate. Content is consumed at most once, and only
// after local validation has passed.
type File struct {
	Name    string
	MIME    string
	Size    int64
	Content io.Reader
}

// BlobKey derives the deterministic blob-store key for an image.
func BlobKey(topicID, imageID, ext string) string {
	return fmt.Sprintf("%s/%s/images/%s.%s", Collection, topicID, imageID, ext)
}

// extFor infers the file extension for a blob key: the canonical extension
// of the MIME type when recognized, else the filename's own extension, else
// "bin".
func extFor(mime, filename string) string {
	if ext, ok := allowedMIME[mime]; ok {
		return ext
	}
	if ext := strings.TrimPrefix(filepath.Ext(filename), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return "bin"
}

// formatTime renders a timestamp in the stored document format.
func formatTime(t time.Time) string {
	return t.UTC().Format(topicTimeFormat)
}

// --- document mapping ---

func getStringFromMap(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt64FromMap(m map[string]any, key string) int64 {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case float64:
			return int64(n)
		}
	}
	return 0
}

// getOptInt64FromMap distinguishes an absent key from a stored zero.
func getOptInt64FromMap(m map[string]any, key string) *int64 {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int64:
			return &n
		case int:
			x := int64(n)
			return &x
		case float64:
			x := int64(n)
			return &x
		}
	}
	return nil
}

func getBoolFromMap(m map[string]any, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func getMapFromMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key]; ok {
		if mm, ok := v.(map[string]any); ok {
			return mm
		}
	}
	return nil
}

// docToTopic maps a stored document to a Topic.
func docToTopic(doc docstore.Document) *Topic {
	t := &Topic{
		ID:          getStringFromMap(doc, "id"),
		Name:        getStringFromMap(doc, "name"),
		Description: getStringFromMap(doc, "description"),
		Active:      getBoolFromMap(doc, "active"),
		CreatedAt:   getStringFromMap(doc, "createdAt"),
		UpdatedAt:   getStringFromMap(doc, "updatedAt"),
	}
	if raw, ok := doc["images"].([]any); ok {
		t.Images = make([]ImageMeta, 0, len(raw))
		for _, el := range raw {
			m, ok := el.(map[string]any)
			if !ok {
				continue
			}
			t.Images = append(t.Images, docToImage(m))
		}
	}
	return t
}

func docToImage(m map[string]any) ImageMeta {
	img := ImageMeta{
		ID:        getStringFromMap(m, "id"),
		Path:      getStringFromMap(m, "path"),
		URL:       getStringFromMap(m, "url"),
		MIME:      getStringFromMap(m, "mime"),
		Size:      getInt64FromMap(m, "size"),
		Width:     getOptInt64FromMap(m, "width"),
		Height:    getOptInt64FromMap(m, "height"),
		CreatedAt: getStringFromMap(m, "createdAt"),
	}
	if titles := getMapFromMap(m, "titles"); titles != nil {
		img.Titles = Titles{
			EN: getStringFromMap(titles, "en"),
			CS: getStringFromMap(titles, "cs"),
			ES: getStringFromMap(titles, "es"),
		}
	}
	return img
}

// topicToDoc maps a Topic to its stored document form.
func topicToDoc(t *Topic) docstore.Document {
	return docstore.Document{
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
		"images":      imagesToDoc(t.Images),
		"active":      t.Active,
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
	}
}

// imagesToDoc maps an image list to its stored form. A nil list maps to an
// empty array so the field is always present.
func imagesToDoc(images []ImageMeta) []any {
	out := make([]any, 0, len(images))
	for _, img := range images {
		out = append(out, imageToDoc(img))
	}
	return out
}

func imageToDoc(img ImageMeta) map[string]any {
	doc := map[string]any{
		"id":   img.ID,
		"path": img.Path,
		"url":  img.URL,
		"titles": map[string]any{
			"en": img.Titles.EN,
			"cs": img.Titles.CS,
			"es": img.Titles.ES,
		},
		"mime":      img.MIME,
		"size":      img.Size,
		"createdAt": img.CreatedAt,
	}
	// Dimensions are stored only when recorded, so their absence survives
	// the round trip too.
	if img.Width != nil {
		doc["width"] = *img.Width
	}
	if img.Height != nil {
		doc["height"] = *img.Height
	}
	return doc
}
