package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/linechat/internal/client"
	"github.com/Tyrowin/linechat/internal/term"
)

func main() {
	if err := clientCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func clientCmd() *cobra.Command {
	var (
		addrFlag    string
		noEmojiFlag bool
		verboseFlag bool
	)

	cmd := &cobra.Command{
		Use:          "linechat <name>",
		Short:        "Join the chat as <name>",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.Disabled
			if verboseFlag {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
				Level(level).
				With().Timestamp().Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ui := term.New(os.Stdout)
			opts := []client.Option{client.WithLogger(logger)}
			if !noEmojiFlag {
				opts = append(opts, client.WithTransform(term.Emojify))
			}

			sess, err := client.Dial(ctx, addrFlag, args[0], ui, opts...)
			switch {
			case errors.Is(err, client.ErrInvalidName):
				return fmt.Errorf("please provide a non-empty, single-line name")
			case errors.Is(err, client.ErrConnectionRefused):
				return fmt.Errorf("no chat server is listening at %s", addrFlag)
			case err != nil:
				return err
			}

			ui.Header(sess.Name())
			err = sess.Run(ctx, os.Stdin)
			if errors.Is(err, client.ErrServerGone) {
				return fmt.Errorf("the server closed the connection")
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "127.0.0.1:8082", "chat server address")
	cmd.Flags().BoolVar(&noEmojiFlag, "no-emoji", false, "send emoticons as typed")
	cmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "log connection diagnostics to stderr")

	return cmd
}
