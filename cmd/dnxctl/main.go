// Command dnxctl sends a single management request to a worker agent's
// management listener and prints the reply, per SPEC_FULL.md §6.3 and
// §4.10.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnxgo/dnxgo/pkg/transport"
	"github.com/dnxgo/dnxgo/pkg/wire"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

const replyTimeout = 10 * time.Second

var (
	host   string
	port   int
	cmdStr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dnxctl: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "dnxctl",
	Short:        "Send a management command to a DNX worker agent",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&host, "server", "s", "", "worker agent host (required)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "worker agent port (required)")
	rootCmd.Flags().StringVarP(&cmdStr, "command", "c", "", "management command: SHUTDOWN or STATUS (required)")
}

func run(cmd *cobra.Command, args []string) error {
	if host == "" || port == 0 || cmdStr == "" {
		return fmt.Errorf("-s <host>, -p <port>, and -c <cmdstr> are all required")
	}

	target := net.JoinHostPort(host, strconv.Itoa(port))
	ch, err := transport.OpenActive(fmt.Sprintf("udp://%s", target))
	if err != nil {
		return fmt.Errorf("opening channel to %s: %w", target, err)
	}
	defer ch.Close()

	req := wire.MgmtRequest{
		XID:    xid.NewGenerator(xid.KindManager).Next(),
		Action: cmdStr,
	}
	buf, err := req.Encode()
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	if err := ch.Send(buf, ""); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	replyBuf, _, err := ch.Recv(replyTimeout)
	if err != nil {
		return fmt.Errorf("waiting for reply: %w", err)
	}
	reply, err := wire.DecodeMgmtReply(replyBuf)
	if err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}

	fmt.Println(reply.Reply)
	if reply.Status != wire.StatusACK {
		return fmt.Errorf("command %s: %s", cmdStr, reply.Status)
	}
	return nil
}
