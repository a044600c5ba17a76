package simulation

import (
	"context"
	"fmt"
	"testing"

	"starsea/distrib"
)

// BenchmarkStep times whole coarse steps, sub-cycles included, and reports
// the cell update rate.
func BenchmarkStep(b *testing.B) {
	for _, n := range []int{64, 256} {
		for _, fine := range []bool{false, true} {
			b.Run(fmt.Sprintf("%dx%d/fine=%v", n, n, fine), func(b *testing.B) {
				p := testParams(fine)
				p.Nx, p.Ny = n, n
				p.Xmax, p.Ymax = float64(n), float64(n)
				h, err := New(p)
				if err != nil {
					b.Fatal(err)
				}
				initial := uniform(n*n, 1, 0.01, 0)
				for i := range initial[0] {
					initial[0][i] += 0.01 * float64(i%7)
				}
				if err := h.InitialData(initial...); err != nil {
					b.Fatal(err)
				}
				st, err := h.NewStepper(distrib.NewLocalCluster(1)[0])
				if err != nil {
					b.Fatal(err)
				}

				updates := 0
				for k, lvl := range h.Levels() {
					sub := 1
					for range k {
						sub *= p.R
					}
					updates += lvl.Grid.Interior() * sub
				}

				ctx := context.Background()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := h.Step(ctx, st); err != nil {
						b.Fatal(err)
					}
				}
				b.ReportMetric(float64(updates)*float64(b.N)/b.Elapsed().Seconds(), "cells/s")
			})
		}
	}
}
