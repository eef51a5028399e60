package main

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/smallyunet/ethfill/pkg/blockchain"
	"github.com/smallyunet/ethfill/pkg/config"
	"github.com/smallyunet/ethfill/pkg/executor"
	"github.com/smallyunet/ethfill/pkg/filler"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/metrics"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to the YAML configuration",
		Value:   "ethfill.yaml",
		EnvVars: []string{"ETHFILL_CONFIG"},
	}
	evmBinFlag = &cli.StringFlag{
		Name:  "evm-bin",
		Usage: "evm binary providing the t8n subcommand",
	}
	outputFlag = &cli.StringFlag{
		Name:  "output",
		Usage: "fixture output directory",
	}
	fromFlag = &cli.StringFlag{
		Name:  "from",
		Usage: "first fork to fill for",
	}
	untilFlag = &cli.StringFlag{
		Name:  "until",
		Usage: "last fork to fill for",
	}
	formatFlag = &cli.StringSliceFlag{
		Name:  "format",
		Usage: "fixture formats to emit (blockchain_test, blockchain_test_engine)",
	}
	parallelFlag = &cli.IntFlag{
		Name:  "parallel",
		Usage: "chains filled concurrently",
	}
	singleFileFlag = &cli.BoolFlag{
		Name:  "single-fixture-per-file",
		Usage: "write every fixture to its own file",
	}
)

var fillCommand = &cli.Command{
	Name:      "fill",
	Usage:     "fill the tests declared in FILES",
	ArgsUsage: "FILES...",
	Flags:     []cli.Flag{configFlag, evmBinFlag, outputFlag, fromFlag, untilFlag, formatFlag, parallelFlag, singleFileFlag},
	Action:    fill,
}

var forksCommand = &cli.Command{
	Name:   "forks",
	Usage:  "print the capabilities of every known network",
	Action: printForks,
}

var hiveRulesCommand = &cli.Command{
	Name:      "hive-rules",
	Usage:     "print the hive environment for NETWORK",
	ArgsUsage: "NETWORK",
	Action:    printHiveRules,
}

var dumpConfigCommand = &cli.Command{
	Name:      "dump-config",
	Usage:     "write the default configuration to PATH",
	ArgsUsage: "PATH",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return errors.New("expected a single output path")
		}
		return config.DefaultConfig().Save(ctx.Args().First())
	},
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(ctx.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(evmBinFlag.Name) {
		cfg.Executor.Binary = ctx.String(evmBinFlag.Name)
		cfg.Executor.Server = ""
	}
	if ctx.IsSet(outputFlag.Name) {
		cfg.Output.Dir = ctx.String(outputFlag.Name)
	}
	if ctx.IsSet(fromFlag.Name) {
		cfg.Fill.From = ctx.String(fromFlag.Name)
	}
	if ctx.IsSet(untilFlag.Name) {
		cfg.Fill.Until = ctx.String(untilFlag.Name)
	}
	if ctx.IsSet(formatFlag.Name) {
		cfg.Fill.Formats = ctx.StringSlice(formatFlag.Name)
	}
	if ctx.IsSet(parallelFlag.Name) {
		cfg.Fill.Parallelism = ctx.Int(parallelFlag.Name)
	}
	if ctx.IsSet(singleFileFlag.Name) {
		cfg.Output.SingleFixturePerFile = ctx.Bool(singleFileFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func forkRange(cfg *config.Config) ([]forks.Network, error) {
	all := forks.All()
	from, until := all[0], all[len(all)-1]
	var err error
	if cfg.Fill.From != "" {
		if from, err = forks.ForkByName(cfg.Fill.From); err != nil {
			return nil, err
		}
	}
	if cfg.Fill.Until != "" {
		if until, err = forks.ForkByName(cfg.Fill.Until); err != nil {
			return nil, err
		}
	}
	if from > until {
		return nil, fmt.Errorf("fork %s comes after %s", from, until)
	}
	return forks.Range(from, until), nil
}

func fill(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("no test files given")
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if !ctx.IsSet(verbosityFlag.Name) && cfg.Log.Level != "" {
		if err := setupLogging(cfg.Log.Level); err != nil {
			return err
		}
	}
	networks, err := forkRange(cfg)
	if err != nil {
		return err
	}

	tests := make(map[string]*blockchain.Test)
	for _, path := range ctx.Args().Slice() {
		loaded, err := filler.LoadFile(path)
		if err != nil {
			return err
		}
		for name, t := range loaded {
			if _, dup := tests[name]; dup {
				return fmt.Errorf("%s: test %q declared twice", path, name)
			}
			if t.ChainID == 0 {
				t.ChainID = cfg.Fill.ChainID
			}
			tests[name] = t
		}
	}

	exec, err := executor.New(cfg)
	if err != nil {
		return err
	}
	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(runCtx, cfg.Metrics.Addr); err != nil {
				log.Error("Metrics server failed", "addr", cfg.Metrics.Addr, "err", err)
			}
		}()
	}

	log.Info("Filling", "tests", len(tests), "networks", len(networks), "formats", strings.Join(cfg.Fill.Formats, ","))
	runner := filler.NewRunner(blockchain.NewFiller(exec), cfg.Fill.Formats, cfg.Fill.Parallelism)
	report, err := runner.Run(runCtx, filler.Jobs(tests, networks))
	if err != nil {
		return err
	}

	if err := cfg.EnsureOutputDir(); err != nil {
		return err
	}
	paths, err := filler.Write(cfg.Output.Dir, report, cfg.Output.SingleFixturePerFile)
	if err != nil {
		return err
	}
	log.Info("Wrote fixtures", "files", len(paths), "dir", cfg.Output.Dir)
	return report.Err()
}

func printForks(*cli.Context) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Network", "Tx types", "Base fee", "Withdrawals", "Max blobs", "Reward", "newPayload"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, n := range forks.Networks() {
		// Report the rules the network ends up with.
		num, ts := forks.LatestBlock, forks.LatestTimestamp
		txTypes := make([]string, 0, 4)
		for _, typ := range n.TxTypes(num, ts) {
			txTypes = append(txTypes, strconv.Itoa(int(typ)))
		}
		blobs := "-"
		if m, err := n.MaxBlobsPerBlock(num, ts); err == nil {
			blobs = strconv.FormatUint(m, 10)
		}
		payload := "-"
		if v, err := n.EngineNewPayloadVersion(num, ts); err == nil {
			payload = "V" + strconv.Itoa(v)
		}
		table.Append([]string{
			n.Name(),
			strings.Join(txTypes, ","),
			yesNo(n.HeaderBaseFeeRequired(num, ts)),
			yesNo(n.HeaderWithdrawalsRequired(num, ts)),
			blobs,
			etherString(n.BlockReward(num, ts)),
			payload,
		})
	}
	table.Render()
	return nil
}

func printHiveRules(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected a single network name")
	}
	network, err := forks.NetworkByName(ctx.Args().First())
	if err != nil {
		return err
	}
	rules := network.HiveRuleset()
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%d\n", k, rules[k])
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

var weiPerEther = big.NewInt(1_000_000_000_000_000_000)

func etherString(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, weiPerEther)
	return r.FloatString(1) + " ETH"
}
