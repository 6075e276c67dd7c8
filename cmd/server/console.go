// cmd/server/console.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	eventStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dataStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Auto-connect and exchange data from the terminal",
	Long: `Start an auto-connect cycle and attach the terminal to the device once it
is identified. Every line typed is sent with a trailing newline; received data
and link events are printed as they arrive.

Example usage:
  comlink console --vid 0x2341
  comlink console --vid 0x0403 --pid 0x6001 --baud 9600`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().String("vid", "", "USB vendor ID filter, hex (default: autoconnect.vid)")
	consoleCmd.Flags().String("pid", "", "USB product ID filter, hex (default: autoconnect.pid)")
	consoleCmd.Flags().IntP("baud", "b", 0, "baud rate (default: serial.baud_rate)")
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cmd.Flags().Changed("vid") {
		cfg.AutoConnect.VID, _ = cmd.Flags().GetString("vid")
	}
	if cmd.Flags().Changed("pid") {
		cfg.AutoConnect.PID, _ = cmd.Flags().GetString("pid")
	}
	if baud, _ := cmd.Flags().GetInt("baud"); baud > 0 {
		cfg.Serial.BaudRate = baud
	}

	stack, err := newLinkStack(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()

	out := cmd.OutOrStdout()
	attachConsole(stack, out)

	if err := stack.start(loopCtx, logger); err != nil {
		return err
	}
	if err := stack.autoConnect(ctx, cfg); err != nil {
		return err
	}
	fmt.Fprintln(out, mutedStyle.Render("Waiting for device, Ctrl+C to quit"))

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case line, ok := <-lines:
			if !ok {
				done = true
				break
			}
			sent, err := stack.link.Send(ctx, []byte(line+"\n"))
			switch {
			case err != nil:
				fmt.Fprintln(out, errorStyle.Render("send failed: "+err.Error()))
			case !sent:
				fmt.Fprintln(out, mutedStyle.Render("not connected, line discarded"))
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stack.link.Close(closeCtx); err != nil {
		logger.Warn("Connection manager close error", zap.Error(err))
	}
	return nil
}

// attachConsole prints manager events. Handlers run on the event loop.
func attachConsole(stack *linkStack, out io.Writer) {
	stack.manager.OnConnected(func(port string) {
		fmt.Fprintln(out, eventStyle.Render("connected: "+port))
	})
	stack.manager.OnDisconnected(func() {
		fmt.Fprintln(out, eventStyle.Render("disconnected"))
	})
	stack.manager.OnError(func(err error) {
		fmt.Fprintln(out, errorStyle.Render("error: "+err.Error()))
	})
	stack.manager.OnDataReceived(func(data []byte) {
		fmt.Fprint(out, dataStyle.Render(strings.TrimRight(string(data), "\r\n")), "\n")
	})
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
