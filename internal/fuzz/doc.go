// Package fuzztests houses Go fuzz harnesses for the shape graph and the
// script parser. They look for panics, broken layout invariants and leaked
// shapes on arbitrary inputs.
package fuzztests
