package gpucore

import "github.com/gogpu/gputypes"

// TextureID is an opaque handle to a GPU texture.
//
// Each adapter maintains the mapping between IDs and backend resources.
type TextureID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID TextureID = 0

// BytesPerTexel is the size of one RGBA8 texel.
const BytesPerTexel = 4

// TextureFormat is the only texel format used by the toolkit.
const TextureFormat = gputypes.TextureFormatRGBA8Unorm

// DefaultTextureUsage allows a texture to be sampled by a kernel, written by
// a kernel and copied in both directions.
const DefaultTextureUsage = gputypes.TextureUsageTextureBinding |
	gputypes.TextureUsageRenderAttachment |
	gputypes.TextureUsageCopySrc |
	gputypes.TextureUsageCopyDst

// TextureDescriptor describes a texture to create.
type TextureDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Size is the texture extent. Only 2D textures are supported, so
	// DepthOrArrayLayers must be 0 or 1.
	Size gputypes.Extent3D

	// Dimension defaults to 2D when left undefined.
	Dimension gputypes.TextureDimension

	// Format defaults to RGBA8 when left undefined.
	Format gputypes.TextureFormat

	// Usage defaults to DefaultTextureUsage when zero.
	Usage gputypes.TextureUsage
}

// Descriptor2D returns a descriptor for an RGBA8 texture of the given size.
func Descriptor2D(label string, width, height int) *TextureDescriptor {
	return &TextureDescriptor{
		Label: label,
		Size: gputypes.Extent3D{
			Width:              safeUint32(width),
			Height:             safeUint32(height),
			DepthOrArrayLayers: 1,
		},
		Dimension: gputypes.TextureDimension2D,
		Format:    TextureFormat,
		Usage:     DefaultTextureUsage,
	}
}

// Texel is a single RGBA8 value.
type Texel [BytesPerTexel]byte

func safeUint32(v int) uint32 {
	if v < 0 {
		return 0
	}
	if uint64(v) > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v)
}
