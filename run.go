package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"starsea/config"
	"starsea/ctxlog"
	"starsea/distrib"
	"starsea/gpu"
	"starsea/simulation"
	"starsea/snapshot"
)

func init() {
	runCmd.Flags().Int("ranks", 1, "Number of ranks to run in this process")
	runCmd.Flags().String("device", "", "Kernel device (cpu, gl)")
	runCmd.Flags().Int("workers", 0, "CPU device workers per rank, 0 means one per CPU")
	runCmd.Flags().String("out", "", "Directory for snapshot files, empty to disable")
	runCmd.Flags().String("serve", "", "Address to serve snapshots to websocket observers on")

	serveRankCmd.Flags().Int("rank", 0, "This process's rank")
	serveRankCmd.Flags().StringSlice("peers", nil, "Listen address of every rank, in rank order")
	serveRankCmd.Flags().String("device", "", "Kernel device (cpu, gl)")
	serveRankCmd.Flags().Int("workers", 0, "CPU device workers, 0 means one per CPU")
	serveRankCmd.Flags().String("out", "", "Directory for snapshot files (rank 0 only)")
	serveRankCmd.Flags().String("serve", "", "Observer address (rank 0 only)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation with every rank in this process",
	Example: `
# Serial run writing snapshots to ./out
starsea run -c params.yaml --out out

# Four ranks on the OpenGL device with live observers on :8080
starsea run -c params.hcl --ranks 4 --device gl --serve :8080
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		p, err := s.Params()
		if err != nil {
			return err
		}
		ranks, _ := cmd.Flags().GetInt("ranks")
		if ranks < 1 {
			return fmt.Errorf("--ranks must be at least 1, got %d", ranks)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		writer, err := openWriters(ctx, s)
		if err != nil {
			return err
		}

		start := time.Now()
		err = distrib.RunLocal(ctx, ranks, func(ctx context.Context, comm distrib.Comm) error {
			return runRank(ctx, s, p, comm, writer)
		})
		if err != nil {
			return err
		}
		ctxlog.FromContext(ctx).Info("simulation finished", "ranks", ranks, "elapsed", time.Since(start))
		return nil
	},
}

var serveRankCmd = &cobra.Command{
	Use:   "serve-rank",
	Short: "Run one rank of a simulation spread over several processes",
	Long: `Run one rank of a simulation spread over several processes. Every process
gets the same parameter file and peer list; ranks connect to each other over
websockets and the run starts once all of them are up.`,
	Example: `
starsea serve-rank -c params.yaml --rank 0 --peers host-a:7000,host-b:7000
starsea serve-rank -c params.yaml --rank 1 --peers host-a:7000,host-b:7000
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		p, err := s.Params()
		if err != nil {
			return err
		}
		rank, _ := cmd.Flags().GetInt("rank")
		peers, _ := cmd.Flags().GetStringSlice("peers")
		if len(peers) == 0 {
			return fmt.Errorf("--peers is required")
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		log := ctxlog.FromContext(ctx).With("rank", rank)
		log.Info("connecting to peers", "peers", peers)
		comm, err := distrib.DialCluster(ctx, rank, peers)
		if err != nil {
			return err
		}
		defer comm.Close()

		var writer simulation.SnapshotWriter
		if rank == 0 {
			if writer, err = openWriters(ctx, s); err != nil {
				comm.Abort(err)
				return err
			}
		}
		if err := runRank(ctx, s, p, comm, writer); err != nil {
			comm.Abort(err)
			return err
		}
		return nil
	},
}

// openWriters builds the snapshot writers the settings ask for. The
// observer hub stops with ctx.
func openWriters(ctx context.Context, s config.Settings) (simulation.SnapshotWriter, error) {
	log := ctxlog.FromContext(ctx)
	var writers snapshot.Multi
	if s.Out != "" {
		sink, err := snapshot.NewFileSink(s.Out)
		if err != nil {
			return nil, err
		}
		writers = append(writers, sink)
	}
	if s.Serve != "" {
		hub := snapshot.NewHub(log)
		go func() {
			if err := hub.ListenAndServe(ctx, s.Serve); err != nil {
				log.Error("observer hub stopped", "error", err)
			}
		}()
		writers = append(writers, hub)
	}
	if len(writers) == 0 {
		return nil, nil
	}
	return writers, nil
}

func openDevice(s config.Settings) (gpu.Device, error) {
	if s.Device == "" || s.Device == "cpu" {
		return gpu.NewCPUDevice(s.Workers), nil
	}
	return gpu.Open(s.Device)
}

// runRank builds this rank's copy of the hierarchy, seeds it and runs it.
// Only rank 0 writes snapshots.
func runRank(ctx context.Context, s config.Settings, p simulation.Params, comm distrib.Comm, writer simulation.SnapshotWriter) error {
	log := ctxlog.FromContext(ctx).With("rank", comm.Rank())

	dev, err := openDevice(s)
	if err != nil {
		return err
	}
	opts := []simulation.Option{simulation.WithDevice(dev)}
	if writer != nil && comm.Rank() == 0 {
		opts = append(opts, simulation.WithSnapshotWriter(writer))
	}
	h, err := simulation.New(p, opts...)
	if err != nil {
		dev.Cleanup()
		return err
	}
	defer h.Close()

	if err := s.Seed(h); err != nil {
		return err
	}
	st, err := h.NewStepper(comm)
	if err != nil {
		return err
	}
	log.Debug("decomposed", "owned", st.Owned(0), "device", dev.Name())

	if err := h.Run(ctx, st); err != nil {
		return err
	}
	g, err := st.Gather(ctx, 0, h.Level(0).Grid)
	if err != nil {
		return err
	}
	if g != nil {
		log.Info("final state", "step", h.StepCount(), "total_density", g.Sum(0))
	}
	return nil
}
