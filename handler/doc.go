// Package handler is the image-handler collaborator behind the photo3d
// entry point: constructed with a photo path, it turns that photo into a 3D
// rendition through an external converter.
//
// # Reading Guide
//
//   - handler.go: the ImageHandler contract, the Factory the CLI consumes, and
//     the default Handler that sequences one conversion
//   - photo.go: loading, orientation and preparation of the input photo
//   - config.go: the handler section of photo3d.yaml
//
// # Architecture
//
// The conversion itself happens outside this module. Implementations of the
// converter transport live in sub-packages:
//   - handler/backend/: exec (local program) and http (remote service) converters
//   - handler/trace/: per-conversion records and run summaries
package handler
