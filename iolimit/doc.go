// Package iolimit throttles checkpoint I/O.
//
// A Limiter is a token bucket measured in bytes per second. Checkpoints pass
// every data page write through it, so a busy index can flush in the
// background without starving foreground reads:
//
//	l := iolimit.New(iolimit.Config{BytesPerSec: 32 << 20})
//	err := acc.Force(l)
//
// The nil Limiter and [Unlimited] impose no limit. Every method is nil safe
// and safe for concurrent use.
package iolimit
