package metadata

import "github.com/ThreeDotsLabs/watermill/message"

var routingKeys = []string{KeyEvent, KeyCodec, KeySourceID, KeyKind, KeyCreated}

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies metadata into a Watermill map.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	for k, v := range md {
		wm[k] = v
	}
	return wm
}

// Routing returns the reserved datum headers present on md.
func Routing(md message.Metadata) Metadata {
	result := make(Metadata, len(routingKeys))
	for _, k := range routingKeys {
		if v := md.Get(k); v != "" {
			result[k] = v
		}
	}
	return result
}
