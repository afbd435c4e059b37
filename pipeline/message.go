package pipeline

import (
	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/streamops"
)

// MessageKind identifies the payload carried by a Message.
type MessageKind int

const (
	// KindNothing is the kind of the zero Message.
	KindNothing MessageKind = iota
	// KindImage carries an image texture and its pixel format.
	KindImage
	// KindKeypoints carries an encoded keypoint stream.
	KindKeypoints
)

// String returns the kind name.
func (k MessageKind) String() string {
	switch k {
	case KindNothing:
		return "nothing"
	case KindImage:
		return "image"
	case KindKeypoints:
		return "keypoints"
	default:
		return "unknown"
	}
}

// ImageFormat is the pixel format of an image message.
type ImageFormat int

const (
	// RGBA holds four colour channels per texel.
	RGBA ImageFormat = iota
	// Greyscale holds the luma in every colour channel.
	Greyscale
)

// String returns the format name.
func (f ImageFormat) String() string {
	if f == Greyscale {
		return "greyscale"
	}
	return "rgba"
}

// Message is the value that travels from an output port to the input ports
// linked to it. Textures referenced by a message belong to the producing
// node; consumers must not free or resize them.
type Message struct {
	kind MessageKind

	image  *gpucore.Texture
	format ImageFormat

	keypoints streamops.Stream
}

// ImageMessage returns a message carrying an image.
func ImageMessage(image *gpucore.Texture, format ImageFormat) (Message, error) {
	if image == nil {
		return Message{}, vision.InvalidArgument("pipeline: image message without texture")
	}
	if format != RGBA && format != Greyscale {
		return Message{}, vision.InvalidArgument("pipeline: image format %d", format)
	}
	return Message{kind: KindImage, image: image, format: format}, nil
}

// KeypointMessage returns a message carrying a keypoint stream. The side
// length of the stream must match its texture.
func KeypointMessage(s streamops.Stream) (Message, error) {
	if err := s.Validate(); err != nil {
		return Message{}, err
	}
	return Message{kind: KindKeypoints, keypoints: s}, nil
}

// Kind returns the message kind.
func (m Message) Kind() MessageKind { return m.kind }

// IsEmpty reports whether m is the zero Message.
func (m Message) IsEmpty() bool { return m.kind == KindNothing }

// Image returns the image texture and format. It fails unless m is an
// image message.
func (m Message) Image() (*gpucore.Texture, ImageFormat, error) {
	if m.kind != KindImage {
		return nil, 0, vision.IllegalOperation("pipeline: %s message read as image", m.kind)
	}
	return m.image, m.format, nil
}

// Keypoints returns the keypoint stream. It fails unless m is a keypoint
// message.
func (m Message) Keypoints() (streamops.Stream, error) {
	if m.kind != KindKeypoints {
		return streamops.Stream{}, vision.IllegalOperation("pipeline: %s message read as keypoints", m.kind)
	}
	return m.keypoints, nil
}
