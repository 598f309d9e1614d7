package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ChatWidget/internal/server/handlers"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the widget and chat interactively",
		Long: `Open the widget and chat interactively.

Plain lines are sent as messages. Commands:
  /retry                   resend the last message
  /restart                 clear the conversation and resend the last message
  /rate <id> up|down       rate a bot message
  /comment <id> <text>     comment on a bot message
  /end                     end the chat and open the feedback form
  /feedback <1-5> [text]   submit the session rating
  /contact key=value ...   submit the contact form
  /privacy, /back          open the privacy screen, go back
  /reset                   start a new conversation
  /quit                    leave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.registry.Pipeline(cmd.Context(), opts.key())
			if err != nil {
				return err
			}

			pr := newPrinter(cmd.OutOrStdout())
			unsubscribe := p.Subscribe(pr.Render)
			defer unsubscribe()

			if err := p.Open(cmd.Context()); err != nil {
				return err
			}

			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				if line == "/quit" {
					break
				}

				in, err := parseLine(line)
				if err != nil {
					pr.Problem(err)
					continue
				}

				if err := handlers.Dispatch(cmd.Context(), p, in); err != nil && !in.Conversational() {
					pr.Problem(err)
				}
			}

			return sc.Err()
		},
	}
}

func newSessionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the stored conversation state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.registry.Pipeline(cmd.Context(), opts.key())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p.Snapshot(cmd.Context()))
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored conversation and start over",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.registry.Pipeline(cmd.Context(), opts.key())
			if err != nil {
				return err
			}
			if err := p.Reset(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "conversation reset")
			return nil
		},
	}
}
