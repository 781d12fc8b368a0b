package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atcortex/atengine/internal/config"
	"github.com/atcortex/atengine/internal/engine"
)

var (
	sendPort      int
	sendTimeoutMS uint32
)

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "submit one AT command to a port and print its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cfgFile, sendPort, sendTimeoutMS, args[0], cmd)
	},
}

func init() {
	sendCmd.Flags().IntVar(&sendPort, "port", 0, "port index to send on")
	sendCmd.Flags().Uint32Var(&sendTimeoutMS, "timeout-ms", 0, "command timeout override (0 uses the port's configured default)")
}

// runSend loads cfg, builds an engine over its configured ports, submits
// cmdText to port once, and polls until the command completes or the
// process-level deadline (twice the resolved command timeout) elapses.
func runSend(configPath string, port int, timeoutMS uint32, cmdText string, cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port < 0 || port >= len(cfg.Ports) {
		return fmt.Errorf("port %d out of range (config has %d ports)", port, len(cfg.Ports))
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	resolvedTimeout := timeoutMS
	if resolvedTimeout == 0 {
		resolvedTimeout = cfg.Ports[port].DefaultTimeoutMS
	}

	type result struct {
		success bool
		resp    []byte
	}
	done := make(chan result, 1)
	if err := eng.SubmitEx(port, cmdText, timeoutMS, func(success bool, resp []byte, _ any) {
		done <- result{success: success, resp: append([]byte(nil), resp...)}
	}, nil); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	deadline := time.Now().Add(2 * time.Duration(resolvedTimeout) * time.Millisecond)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "success=%t\n%s\n", r.success, r.resp)
			if !r.success {
				return fmt.Errorf("command failed")
			}
			return nil
		case <-ticker.C:
			eng.Poll()
			if time.Now().After(deadline) {
				return fmt.Errorf("send: no response within %dms", 2*resolvedTimeout)
			}
		}
	}
}
