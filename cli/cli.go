// Package cli is the mpilaunch command line: submit a job, run a job's
// master, tail a job's output, or serve a durable filesystem over HTTP.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/dfs"
	"github.com/twitter/mpilaunch/dfs/httpfs"
	dfslocal "github.com/twitter/mpilaunch/dfs/local"
)

// LogLevelEnvVar sets the log level when --log_level isn't given.
const LogLevelEnvVar = "MPI_LAUNCH_LOGLEVEL"

type CLIClient interface {
	Exec() error
}

type simpleCLIClient struct {
	rootCmd  *cobra.Command
	logLevel string
}

func NewSimpleCLIClient() CLIClient {
	c := &simpleCLIClient{}
	c.rootCmd = &cobra.Command{
		Use:               "mpilaunch",
		Short:             "mpilaunch runs MPI jobs on leased cluster slots",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setLogLevel,
	}
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "info",
		"Log everything at this level and above (error|info|debug), or set "+LogLevelEnvVar)
	c.rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errs.NewConfigError("%v", err)
	})

	c.addCmd(newSubmitCmd())
	c.addCmd(&masterCmd{})
	c.addCmd(&tailCmd{})
	c.addCmd(&serveDFSCmd{})
	return c
}

// Exec runs the command line, printing the failing command's usage for
// configuration errors.
func (c *simpleCLIClient) Exec() error {
	cmd, err := c.rootCmd.ExecuteC()
	if errs.IsConfigError(err) && cmd != nil {
		fmt.Fprintf(cmd.OutOrStderr(), "Error: %v\n%s", err, cmd.UsageString())
	}
	return err
}

func (c *simpleCLIClient) setLogLevel(cmd *cobra.Command, args []string) error {
	level := c.logLevel
	if env := os.Getenv(LogLevelEnvVar); env != "" && !cmd.Flag("log_level").Changed {
		level = env
	}
	l, err := log.ParseLevel(level)
	if err != nil {
		return errs.NewConfigError("%v", err)
	}
	log.SetLevel(l)
	return nil
}

func (c *simpleCLIClient) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error
}

// DefaultFileSystemRoot backs the durable filesystem when no address is given.
func DefaultFileSystemRoot() string {
	return filepath.Join(os.TempDir(), "mpilaunch-dfs")
}

// OpenFileSystem takes an http(s) URL for a serve_dfs server, or a local directory.
func OpenFileSystem(addr string) (dfs.FileSystem, error) {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return httpfs.New(addr), nil
	}
	if addr == "" {
		addr = DefaultFileSystemRoot()
	}
	return dfslocal.New(addr)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			log.Infof("Got %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}
