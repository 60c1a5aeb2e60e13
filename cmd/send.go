package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/observability"
	"github.com/xkilldash9x/extbridge/internal/server"
)

// errCommandFailed is returned when the bridge answered with success:false.
var errCommandFailed = errors.New("command failed")

func newSendCmd() *cobra.Command {
	var addr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send [json]",
		Short: "Send one command to a running bridge and print the response",
		Long: `Reads a request such as {"command":"GET","key":"name"} from the argument,
or from stdin when no argument is given, and prints the bridge's response.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = "http://" + cfg.Server.ListenAddr
			}

			var raw []byte
			if len(args) == 1 {
				raw = []byte(args[0])
			} else if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("failed to read request from stdin: %w", err)
			}
			if strings.TrimSpace(string(raw)) == "" {
				return errors.New("no request given")
			}

			var req schemas.Request
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("invalid request: %w", err)
			}

			client, err := server.NewClient(addr, timeout, observability.GetLogger())
			if err != nil {
				return err
			}
			resp, delivered, err := client.Send(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !delivered {
				fmt.Fprintln(cmd.ErrOrStderr(), "No response: the bridge dropped the request.")
				return nil
			}

			out, err := json.Marshal(resp)
			if err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !resp.Success {
				return errCommandFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "bridge base URL (default http://<server.listen_addr>)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "per-attempt HTTP timeout")
	return cmd
}
