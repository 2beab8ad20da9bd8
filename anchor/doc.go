// Package anchor holds the three anchor frames that B-frames are
// synthesized from.
//
// An anchor is one completed network output: a stylized RGBA8 colour
// buffer plus a half-precision auxiliary buffer carrying depth, motion and
// the halo mask written by the SDMV encoder. The Ring owns exactly three
// anchors and moves logical roles (oldest, middle, newest) between them by
// permuting a role-to-slot table; the buffers themselves are never swapped
// or reallocated except on a resolution change.
package anchor
