package topic

import (
	"reflect"
	"testing"
)

func TestExtFor(t *testing.T) {
	tests := []struct {
		mime     string
		filename string
		want     string
	}{
		{"image/jpeg", "photo.jpeg", "jpg"},
		{"image/png", "", "png"},
		{"image/webp", "pic.webp", "webp"},
		{"application/octet-stream", "scan.TIFF", "tiff"},
		{"application/octet-stream", "noextension", "bin"},
		{"", "", "bin"},
	}
	for _, tt := range tests {
		if got := extFor(tt.mime, tt.filename); got != tt.want {
			t.Errorf("extFor(%q, %q) = %q, want %q", tt.mime, tt.filename, got, tt.want)
		}
	}
}

func TestBlobKey(t *testing.T) {
	got := BlobKey("t-42", "img-7", "png")
	want := "topics/t-42/images/img-7.png"
	if got != want {
		t.Errorf("BlobKey = %q, want %q", got, want)
	}
}

func TestTopicDocRoundTrip(t *testing.T) {
	width, height := int64(800), int64(600)
	orig := &Topic{
		ID:          "t1",
		Name:        "Rocks",
		Description: "# Minerals\nsome markdown",
		Images: []ImageMeta{
			{
				ID:        "i1",
				Path:      "topics/t1/images/i1.jpg",
				URL:       "https://cdn.example.com/topics/t1/images/i1.jpg",
				Titles:    Titles{EN: "Quartz", CS: "Křemen", ES: "Cuarzo"},
				MIME:      "image/jpeg",
				Size:      2048,
				Width:     &width,
				Height:    &height,
				CreatedAt: "2026-01-02T03:04:05.000Z",
			},
			{
				// No recorded dimensions: must stay nil, not become zero.
				ID:        "i2",
				Path:      "topics/t1/images/i2.png",
				URL:       "https://cdn.example.com/topics/t1/images/i2.png",
				MIME:      "image/png",
				Size:      1024,
				CreatedAt: "2026-01-02T03:04:06.000Z",
			},
		},
		Active:    true,
		CreatedAt: "2026-01-01T00:00:00.000Z",
		UpdatedAt: "2026-01-02T03:04:05.000Z",
	}

	got := docToTopic(topicToDoc(orig))
	if !reflect.DeepEqual(got, orig) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, orig)
	}
}

func TestDocToImageReadsNumericDimensions(t *testing.T) {
	// JSON-based engines hand numbers back as float64.
	m := map[string]any{"id": "i1", "width": float64(1920), "height": float64(1080)}
	img := docToImage(m)
	if img.Width == nil || *img.Width != 1920 {
		t.Errorf("Width = %v, want 1920", img.Width)
	}
	if img.Height == nil || *img.Height != 1080 {
		t.Errorf("Height = %v, want 1080", img.Height)
	}
}

func TestDocToTopicEmptyImages(t *testing.T) {
	doc := topicToDoc(&Topic{ID: "t2", Active: true})
	got := docToTopic(doc)
	if got.Images == nil || len(got.Images) != 0 {
		t.Errorf("Images = %v, want empty non-nil list", got.Images)
	}
}

func TestDocToTopicSkipsMalformedImageEntries(t *testing.T) {
	doc := topicToDoc(&Topic{ID: "t3"})
	doc["images"] = []any{
		"not a map",
		map[string]any{"id": "ok", "path": "p", "url": "u"},
	}
	got := docToTopic(doc)
	if len(got.Images) != 1 || got.Images[0].ID != "ok" {
		t.Errorf("Images = %+v, want single entry with id ok", got.Images)
	}
}
