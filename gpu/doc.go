// Package gpu is a small software rendering context: layered mipmapped
// array textures, linked fragment programs, off-screen surfaces, and full
// quad draws with replace or source-over blending.
//
// Like a GL context, a Context is not safe for concurrent use. The goroutine
// that creates it owns it; Draw shades rows in parallel internally.
package gpu
