//go:build netlib

package main

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Building with `-tags netlib` routes gonum's matrix products through the
// system CBLAS.
func init() {
	blas64.Use(netlib.Implementation{})
}
