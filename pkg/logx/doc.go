// Package logx is alertrelay's structured logging on zerolog.
//
// Records go to stderr (console or JSON) and, when a path is set, to a
// size-rotated JSON file. Credentials go through Secret so only a masked
// suffix is ever written.
package logx
