package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"strategy-engine/internal/app"
	"strategy-engine/internal/backtest"
	"strategy-engine/internal/condition"
	"strategy-engine/internal/config"
	"strategy-engine/internal/dsl"
	"strategy-engine/internal/exchange"
	"strategy-engine/internal/log"
	"strategy-engine/internal/monitor"
	"strategy-engine/internal/registry"
	"strategy-engine/internal/store"
	"strategy-engine/internal/strategy"
	"strategy-engine/internal/token"
)

const usage = `用法: strategyctl <command> [flags]

命令:
  compile   编译条件与动作，输出二进制编码与指纹
  format    将十六进制编码的策略还原为 DSL 文本
  eval      在给定价格下对条件求值
  register  编译并注册 vault
  list      列出已注册的 vault
  backtest  使用交易所历史K线回测策略
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "compile":
		err = runCompile(args)
	case "format":
		err = runFormat(args)
	case "eval":
		err = runEval(args)
	case "register":
		err = runRegister(ctx, args)
	case "list":
		err = runList(ctx, args)
	case "backtest":
		err = runBacktest(ctx, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "未知命令 %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s 失败: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// ruleFlags 为多个子命令共用的策略参数。
type ruleFlags struct {
	cond    string
	actions string
	every   uint64
}

func (r *ruleFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.cond, "cond", "", "条件表达式，例如 PRICE_ABOVE(<token>,300) AND NOT PRICE_BELOW(<token>,10)")
	fs.StringVar(&r.actions, "actions", "", "动作序列，例如 BUY(<token>,5) AND LEND(<token>,100)")
	fs.Uint64Var(&r.every, "every", 0, "最小执行间隔（秒），0 表示每次到期")
}

func (r *ruleFlags) compile() (*strategy.Strategy, error) {
	if r.cond == "" || r.actions == "" {
		return nil, errors.New("-cond 与 -actions 均不能为空")
	}
	cond, err := dsl.CompileCondition(r.cond)
	if err != nil {
		return nil, err
	}
	act, err := dsl.CompileActions(r.actions)
	if err != nil {
		return nil, err
	}
	return strategy.New(cond, act, r.every)
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	var rule ruleFlags
	rule.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := rule.compile()
	if err != nil {
		return err
	}
	data, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	canonical, err := dsl.CanonicalCondition(s.Condition)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "condition\t%s\n", canonical)
	fmt.Fprintf(w, "actions\t%s\n", dsl.FormatActions(s.Action))
	fmt.Fprintf(w, "nodes\t%d + %d\n", s.Condition.Len(), s.Action.Len())
	fmt.Fprintf(w, "size\t%d\n", len(data))
	fmt.Fprintf(w, "fingerprint\t%s\n", s.Fingerprint())
	fmt.Fprintf(w, "hex\t%s\n", hex.EncodeToString(data))
	return w.Flush()
}

func runFormat(args []string) error {
	fs := flag.NewFlagSet("format", flag.ContinueOnError)
	raw := fs.String("hex", "", "compile 输出的十六进制编码")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := hex.DecodeString(strings.TrimSpace(*raw))
	if err != nil {
		return fmt.Errorf("解析十六进制失败: %w", err)
	}
	var s strategy.Strategy
	if err := s.UnmarshalBinary(data); err != nil {
		return err
	}
	full, err := dsl.FormatCondition(s.Condition)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "condition\t%s\n", full)
	fmt.Fprintf(w, "actions\t%s\n", dsl.FormatActions(s.Action))
	fmt.Fprintf(w, "every\t%d\n", s.ExecuteEverySeconds)
	fmt.Fprintf(w, "last\t%d\n", s.LastExecutedAt)
	return w.Flush()
}

// priceFlags 解析可重复的 -price token=value 参数。
type priceFlags condition.Prices

func (p priceFlags) String() string {
	parts := make([]string, 0, len(p))
	for tok, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%d", tok, v))
	}
	return strings.Join(parts, ",")
}

func (p priceFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("价格参数需为 token=value: %q", s)
	}
	tok, err := token.Parse(strings.TrimSpace(name))
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("价格 %q 不是 u64: %w", value, err)
	}
	p[tok] = v
	return nil
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	cond := fs.String("cond", "", "条件表达式")
	prices := priceFlags{}
	fs.Var(prices, "price", "token=value，可重复；未给出的 token 视为缺失价格")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tree, err := dsl.CompileCondition(*cond)
	if err != nil {
		return err
	}
	ok, err := tree.Evaluate(condition.Prices(prices))
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}

// openStore 加载配置并打开数据库，返回的 cleanup 负责关闭资源。
func openStore(configPath string) (*config.Config, *zap.Logger, *store.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, nil, err
	}
	cleanup := func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
		_ = logger.Sync()
	}
	return cfg, logger, st, cleanup, nil
}

func runRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	configPath := fs.String("config", "", "配置文件路径")
	name := fs.String("name", "", "vault 名称")
	deposit := fs.Uint64("deposit", 0, "初始存入余额")
	var rule ruleFlags
	rule.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("-name 不能为空")
	}

	_, logger, st, cleanup, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	reg, err := registry.NewRegistry(ctx, st, logger)
	if err != nil {
		return err
	}
	mon, err := monitor.NewService(st, logger)
	if err != nil {
		return err
	}

	rec, err := app.Register(ctx, reg, mon, app.Registration{
		Name:         *name,
		Condition:    rule.cond,
		Actions:      rule.actions,
		EverySeconds: rule.every,
		Deposit:      *deposit,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", rec.ID, rec.Fingerprint)
	return nil
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, logger, st, cleanup, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	reg, err := registry.NewRegistry(ctx, st, logger)
	if err != nil {
		return err
	}
	records, err := reg.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBALANCE\tEVERY\tLAST\tCONDITION\tACTIONS")
	for _, rec := range records {
		s := rec.Vault.Strategy
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			rec.ID, rec.Name, rec.Vault.Balance, s.ExecuteEverySeconds, s.LastExecutedAt, rec.Condition, rec.Actions)
	}
	return w.Flush()
}

func runBacktest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	configPath := fs.String("config", "", "配置文件路径")
	timeframe := fs.String("timeframe", "1h", "K线周期")
	limit := fs.Int64("limit", 500, "每个交易对拉取的K线数量")
	cash := fs.Float64("cash", 10000, "初始现金")
	var rule ruleFlags
	rule.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := rule.compile()
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	markets, err := exchange.NewMarkets(cfg.Markets)
	if err != nil {
		return err
	}
	client, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return err
	}
	snaps, err := backtest.LoadStrategySnapshots(ctx, client, markets, s, *timeframe, *limit)
	if err != nil {
		return err
	}

	engine, err := backtest.NewEngine(backtest.Config{
		InitialCash:  *cash,
		Markets:      markets,
		StepsPerYear: stepsPerYear(*timeframe),
	}, backtest.NewSliceSnapshotProvider(snaps), strategy.NewVault(s), logger)
	if err != nil {
		return err
	}
	res, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "steps\t%d\n", res.Steps)
	fmt.Fprintf(w, "skipped\t%d\n", res.Skipped)
	fmt.Fprintf(w, "triggers\t%d\n", res.Triggers)
	fmt.Fprintf(w, "executions\t%d\n", res.Executions)
	fmt.Fprintf(w, "trades\t%d (rejected %d)\n", res.Trades, res.Rejected)
	fmt.Fprintf(w, "final equity\t%.4f\n", res.FinalEquity)
	fmt.Fprintf(w, "total return\t%.4f%%\n", res.Metrics.TotalReturn*100)
	fmt.Fprintf(w, "max drawdown\t%.4f%%\n", res.Metrics.MaxDrawdown*100)
	fmt.Fprintf(w, "sharpe\t%.4f\n", res.Metrics.SharpeRatio)
	return w.Flush()
}

func stepsPerYear(timeframe string) float64 {
	switch timeframe {
	case "1m":
		return 60 * 24 * 365
	case "5m":
		return 12 * 24 * 365
	case "15m":
		return 4 * 24 * 365
	case "4h":
		return 6 * 365
	case "1d":
		return 365
	default:
		return 24 * 365
	}
}
