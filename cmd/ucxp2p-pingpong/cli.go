package main

import (
    "errors"
    "fmt"

    "github.com/spf13/cobra"
)

// Options holds CLI options.
type Options struct {
    ConfigPath string
    Local      bool
    Rank       int
    Size       int
    Bootstrap  string
    Iters      int
    Warmup     int
    MsgSize    int
    Tag        uint32
}

func (o Options) validate() error {
    if o.Iters <= 0 { return fmt.Errorf("--iters must be positive, got %d", o.Iters) }
    if o.Warmup < 0 { return fmt.Errorf("--warmup must not be negative, got %d", o.Warmup) }
    if o.MsgSize < 0 { return fmt.Errorf("--msg-size must not be negative, got %d", o.MsgSize) }
    if o.Local { return nil }
    if o.Size < 2 { return errors.New("--size must be at least 2 without --local") }
    if o.Rank < 0 || o.Rank >= o.Size { return fmt.Errorf("--rank %d out of range for --size %d", o.Rank, o.Size) }
    return nil
}

func newRootCmd() *cobra.Command {
    var opts Options
    cmd := &cobra.Command{
        Use:   "ucxp2p-pingpong",
        Short: "Measure tag send/receive round trips between workers",
        Long: `ucxp2p-pingpong sends a message from rank 0 to every other rank and
waits for it to come back, reporting round-trip percentiles per peer.

With --local both sides run in this process on two workers. Otherwise start
one process per rank; rank 0 serves the address exchange on the bootstrap
address and the others join it.`,
        SilenceUsage: true,
        Args:         cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            if err := opts.validate(); err != nil { return err }
            return run(cmd.Context(), opts, cmd.OutOrStdout())
        },
    }
    f := cmd.Flags()
    f.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    f.BoolVar(&opts.Local, "local", false, "Run both sides in this process")
    f.IntVar(&opts.Rank, "rank", 0, "Rank of this process")
    f.IntVar(&opts.Size, "size", 2, "Number of ranks in the job")
    f.StringVar(&opts.Bootstrap, "bootstrap", "", "Rendezvous address (default: bootstrap.listen from config)")
    f.IntVar(&opts.Iters, "iters", 1000, "Measured round trips per peer")
    f.IntVar(&opts.Warmup, "warmup", 10, "Unmeasured round trips per peer")
    f.IntVar(&opts.MsgSize, "msg-size", 8, "Message size in bytes")
    f.Uint32Var(&opts.Tag, "tag", 7, "User tag; the sender rank is packed above it")
    return cmd
}
