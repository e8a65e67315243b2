package model

import "strings"

// Direction says which side of the client boundary an image holder is being read for.
type Direction int

const (
	// Inbound payloads come from a client; inline data is authoritative.
	Inbound Direction = iota
	// Outbound payloads come from the store; the location reference is authoritative.
	Outbound
)

// ImagePayload is the authoritative content of an image holder: either InlineImage or StoredImage.
type ImagePayload interface {
	imagePayload()
}

// InlineImage carries a data URI submitted by a client.
type InlineImage struct {
	DataURI string
}

// StoredImage carries a reference into object storage.
type StoredImage struct {
	Location string
}

func (InlineImage) imagePayload() {}
func (StoredImage) imagePayload() {}

// ImagePayloadOf returns the authoritative payload of an image holder for the given direction,
// or nil when the holder carries no image at all.
func ImagePayloadOf(holder map[string]any, dir Direction) ImagePayload {
	data := nonBlank(holder[FieldImageData])
	location := nonBlank(holder[FieldImageLocation])

	switch dir {
	case Inbound:
		if data != "" {
			return InlineImage{DataURI: data}
		}
		if location != "" {
			return StoredImage{Location: location}
		}
	case Outbound:
		if location != "" {
			return StoredImage{Location: location}
		}
	}
	return nil
}

func nonBlank(value any) string {
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
