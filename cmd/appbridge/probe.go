package main

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func probeCmd() *cobra.Command {
	var (
		method  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe <host:port> [path]",
		Short: "Send one request to a running bridge and print the raw response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 2 {
				path = args[1]
			}
			return probe(cmd.OutOrStdout(), args[0], strings.ToUpper(method), path, timeout)
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "request method")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "dial and read timeout")
	return cmd
}

func probe(w io.Writer, addr, method, path string, timeout time.Duration) error {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(timeout))
	req := fmt.Sprintf("%s %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", method, path, addr)
	if _, err := io.WriteString(c, req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if _, err := io.Copy(w, c); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}
