package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fansqz/go-debug-mediator/adapter"
	"github.com/fansqz/go-debug-mediator/config"
	"github.com/fansqz/go-debug-mediator/debugger/dap_debugger"
	"github.com/fansqz/go-debug-mediator/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 定义版本号
const Version = "1.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "debug-mediator",
	Short: "Expose debug adapters as MCP tools",
	Long: `debug-mediator drives language debuggers over the Debug Adapter Protocol
and exposes one debugging session as MCP tools, reporting whether the program
is genuinely paused or idle in its event loop.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./debug-mediator.yaml or $HOME/.config/debug-mediator/debug-mediator.yaml)")
	serveCmd.Flags().String("transport", "", "MCP transport: http or stdio")
	serveCmd.Flags().String("addr", "", "listen address for the http transport")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	if flag := cmd.Flags().Lookup("transport"); flag != nil && flag.Changed {
		v.Set("server.transport", flag.Value.String())
	}
	if flag := cmd.Flags().Lookup("addr"); flag != nil && flag.Changed {
		v.Set("server.addr", flag.Value.String())
	}
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	//启动日志
	if err = SetupLogger(cfg.Log); err != nil {
		return err
	}
	defer CloseLogger()

	srv := NewDebugServer(cfg.Server)
	option := &dap_debugger.Option{
		Config:    cfg,
		Connector: &dap_debugger.LauncherConnector{Launcher: adapter.NewLauncher(cfg)},
		Callback:  srv.Notify,
	}
	if cfg.Breakpoints.StorePath != "" {
		option.Store = store.NewYAMLStore(cfg.Breakpoints.StorePath)
	}
	debug := dap_debugger.NewDAPDebugger(option)
	srv.Register(NewDebuggerHandler(debug))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = srv.Run(ctx)

	// 退出前结束正在调试的程序
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Timing.StopWait+time.Second)
	defer cancel()
	if stopErr := debug.Stop(stopCtx); stopErr == nil {
		logrus.Infof("[main] debug session stopped on shutdown")
	}
	return err
}
