// Package trios implements the wire protocol spoken by TriOS optical
// instruments over their serial bus: frame encoding and decoding with
// control-character escaping, host command construction, instrument
// identification and the payload decoders for spectral and scalar readings.
//
// The package is transport-agnostic; see the bus package for the session
// layer that drives a serial link.
package trios
