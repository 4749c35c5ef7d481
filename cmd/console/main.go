package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/north-leaf-W/QUT-Assistant/app"
	"github.com/north-leaf-W/QUT-Assistant/core"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "console [question]",
	Short: "Ask the QUT assistant a single question from the terminal",
	Long: `Ask the QUT assistant a single question from the terminal.

The documents directory is indexed first. Retrieved snippets, the streamed
answer and every tool call are printed as they happen.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := core.GetConfig(configPath)
		if err != nil {
			return err
		}
		log := app.NewLogger(cmd.ErrOrStderr(), conf.Env)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		question := ""
		if len(args) > 0 {
			question = args[0]
		} else {
			question, err = readQuestion(cmd)
			if err != nil {
				return err
			}
		}

		a, err := app.Build(ctx, conf, nil, log)
		if err != nil {
			return err
		}
		defer a.Close()

		c := &console{out: cmd.OutOrStdout(), asker: a.Assistant}
		return c.run(ctx, question)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "conf", "config.yml", "path to config file")
}

func readQuestion(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "请输入您的问题: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
