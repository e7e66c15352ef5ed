// Package icon builds application-icon containers from PNG streams and
// produces monochrome menubar silhouettes from RGBA rasters.
//
// Every function in this package is pure: inputs are never modified and
// outputs are freshly allocated, so calls may run concurrently without
// coordination.
package icon
